// internal/service/fulfillment/domain/port/notifier.go
package port

import (
	"context"

	"dropflow/internal/service/fulfillment/domain"
)

// Notification 是发往外部分发器的抽象通知请求。
// 编排器不关心投递渠道与模板。
type Notification struct {
	Kind    domain.NotificationKind `json:"kind"`
	OrderID string                  `json:"orderId"`
	Payload map[string]string       `json:"payload,omitempty"`
}

// NotificationProducer 把通知请求送上通知总线。
type NotificationProducer interface {
	Send(ctx context.Context, n Notification) error
}

// StatusPublisher 把工作流状态变化广播给订阅方（运营端推送网关）。
type StatusPublisher interface {
	PublishStatus(ctx context.Context, orderID string, state domain.State) error
}
