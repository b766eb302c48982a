// internal/service/fulfillment/domain/state.go
package domain

// State 定义了履约工作流的生命周期状态
type State string

const (
	StatePending            State = "pending"                      // 刚创建，等待支付确认
	StatePaymentConfirmed   State = "payment_confirmed"            // 支付已确认，60s 后自动进入处理
	StateProcessing         State = "processing"                   // 正在向供应商下单
	StatePlacedWithSupplier State = "placed_with_supplier"         // 全部供应商已下单，等待确认
	StateSupplierConfirmed  State = "supplier_confirmed"           // 全部供应商已确认，等待发货
	StateShipped            State = "shipped"                      // 已发货（拿到运单号）
	StateInTransit          State = "in_transit"                   // 运输中
	StateOutForDelivery     State = "out_for_delivery"             // 派送中
	StateDelivered          State = "delivered"                    // 已送达（终态）
	StateCancelled          State = "cancelled"                    // 已取消（终态）
	StateRefundRequested    State = "refund_requested"             // 已申请退款
	StateRefunded           State = "refunded"                     // 已退款（终态）
	StateFailed             State = "failed"                       // 下单失败，可重试
	StateManualIntervention State = "requires_manual_intervention" // 需人工介入
)

// Terminal 终态不再发生任何状态流转。
func (s State) Terminal() bool {
	switch s {
	case StateDelivered, StateCancelled, StateRefunded:
		return true
	}
	return false
}

// Trackable 是仍需要轮询物流状态的状态集合。
func (s State) Trackable() bool {
	switch s {
	case StateShipped, StateInTransit, StateOutForDelivery:
		return true
	}
	return false
}
