// internal/service/fulfillment/domain/port/tracking.go
package port

import (
	"context"
	"time"

	"dropflow/internal/service/fulfillment/domain"
)

// TrackingInfo 是一次物流查询的标准化结果。
type TrackingInfo struct {
	Status      domain.TrackingStatus
	Location    string
	DeliveredAt *time.Time
}

// TrackingProvider 查询第三方物流聚合商。
// carrier 为空时由实现方根据运单号形态自动识别；
// 识别失败按默认渠道查询并返回 unknown，而不是错误。
type TrackingProvider interface {
	FetchTracking(ctx context.Context, trackingNumber, carrier string) (*TrackingInfo, error)
}
