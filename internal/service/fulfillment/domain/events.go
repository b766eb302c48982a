// internal/service/fulfillment/domain/events.go
package domain

import "time"

// EventType 标识一条进入编排引擎的事件。
type EventType string

const (
	EventPaymentConfirmed    EventType = "PaymentConfirmed"
	EventAdvanceProcessing   EventType = "AdvanceProcessing"   // 60s 自动推进定时器
	EventPlaceOrderSucceeded EventType = "PlaceOrderSucceeded" // 携带一个或多个供应商下单结果
	EventPlaceOrderFailed    EventType = "PlaceOrderFailed"
	EventSupplierConfirmed   EventType = "SupplierConfirmed"
	EventConfirmationTimeout EventType = "ConfirmationTimeout" // 24h 未确认
	EventSupplierSyncDue     EventType = "SupplierSyncDue"     // 轮询供应商订单状态
	EventTrackingReceived    EventType = "TrackingReceived"
	EventTrackingPollDue     EventType = "TrackingPollDue" // 6h 物流轮询
	EventTrackingUpdate      EventType = "TrackingUpdate"
	EventTrackingFetchFailed EventType = "TrackingFetchFailed"
	EventDelivered           EventType = "Delivered"
	EventCancelRequested     EventType = "CancelRequested"
	EventRefundProcessed     EventType = "RefundProcessed"
	EventRetry               EventType = "Retry"
)

// TrackingStatus 是物流聚合商返回的标准化状态。
type TrackingStatus string

const (
	TrackingStatusPending        TrackingStatus = "pending"
	TrackingStatusInTransit      TrackingStatus = "in_transit"
	TrackingStatusOutForDelivery TrackingStatus = "out_for_delivery"
	TrackingStatusDelivered      TrackingStatus = "delivered"
	TrackingStatusUnknown        TrackingStatus = "unknown"
)

// SupplierPlacement 是一次成功下单的结果。
type SupplierPlacement struct {
	SupplierName      string `json:"supplierName"`
	SupplierOrderID   string `json:"supplierOrderId"`
	EstimatedDelivery string `json:"estimatedDelivery,omitempty"`
}

// Event 是进入转移引擎的统一事件载体，同时也是队列消息体。
// 不同类型只使用自己相关的字段；ID 用于历史去重。
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OrderID    string    `json:"orderId"`
	OccurredAt time.Time `json:"occurredAt"`

	// PaymentConfirmed：创建工作流所需的快照
	Items           []OrderItem `json:"items,omitempty"`
	ShippingAddress *Address    `json:"shippingAddress,omitempty"`

	// PlaceOrderSucceeded
	Placements []SupplierPlacement `json:"placements,omitempty"`

	// PlaceOrderFailed / SupplierConfirmed / TrackingReceived
	SupplierName    string `json:"supplierName,omitempty"`
	SupplierOrderID string `json:"supplierOrderId,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Transient       bool   `json:"transient,omitempty"`

	// Tracking 相关
	TrackingNumber  string         `json:"trackingNumber,omitempty"`
	TrackingCarrier string         `json:"trackingCarrier,omitempty"`
	TrackingStatus  TrackingStatus `json:"trackingStatus,omitempty"`

	// Retry：人工重试会重置 retryCount
	Manual bool `json:"manual,omitempty"`

	// 定时/轮询类事件的守卫：快照已离开该状态则静默丢弃
	ExpectedState State `json:"expectedState,omitempty"`
}

// NotificationKind 是通知边界上的消息类别。
type NotificationKind string

const (
	NotifyOrderShipped        NotificationKind = "OrderShipped"
	NotifyOrderOutForDelivery NotificationKind = "OrderOutForDelivery"
	NotifyOrderDelivered      NotificationKind = "OrderDelivered"
	NotifyOrderCancelled      NotificationKind = "OrderCancelled"
	NotifyRefundIssued        NotificationKind = "RefundIssued"
	NotifyManualIntervention  NotificationKind = "ManualInterventionRequired"
)
