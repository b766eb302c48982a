// internal/service/fulfillment/domain/port/supplier.go
package port

import (
	"context"

	"dropflow/internal/service/fulfillment/domain"
)

// Credentials 是外部账号管理方下发的供应商凭证值对象。
type Credentials struct {
	APIKey      string
	APISecret   string
	AccessToken string
}

// PlaceOrderRequest 是统一的下单请求。
// IdempotencyToken 由调用方从 orderId+supplierName 派生，
// 重复调用对供应商侧可识别。
type PlaceOrderRequest struct {
	IdempotencyToken string
	Items            []domain.OrderItem
	ShippingAddress  domain.Address
}

// Placement 是下单成功的结果。
type Placement struct {
	SupplierOrderID   string
	EstimatedDelivery string
}

// SupplierOrderStatus 是查询子订单状态的结果。
type SupplierOrderStatus struct {
	Status          domain.SupplierOrderStatus
	TrackingNumber  string
	TrackingCarrier string
}

// SupplierGateway 是每个 drop-ship 供应商实现一次的能力接口，
// 屏蔽认证与报文格式差异。失败以 *domain.SupplierError 返回，
// Transient 与否决定编排器重试还是转人工。
type SupplierGateway interface {
	Name() string
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Placement, error)
	GetOrderStatus(ctx context.Context, supplierOrderID string) (*SupplierOrderStatus, error)
	CancelOrder(ctx context.Context, supplierOrderID string) error
}

// SupplierRegistry 按供应商名索引网关。
type SupplierRegistry interface {
	Gateway(supplierName string) (SupplierGateway, bool)
}
