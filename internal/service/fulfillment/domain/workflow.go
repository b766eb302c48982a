// internal/service/fulfillment/domain/workflow.go
package domain

import (
	"errors"
	"time"
)

// OrderItem 是订单中一个需要履约的条目，工作流创建后不可变。
type OrderItem struct {
	ProductID    string `json:"productId"`
	SourceID     string `json:"sourceId"`
	SupplierName string `json:"supplierName"`
	Quantity     int    `json:"quantity"`
}

// Address 是下单时的收货地址快照。
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Province   string `json:"province,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// SupplierOrderStatus 是单个供应商子订单的状态。
type SupplierOrderStatus string

const (
	SupplierOrderPlaced    SupplierOrderStatus = "placed"
	SupplierOrderConfirmed SupplierOrderStatus = "confirmed"
	SupplierOrderShipped   SupplierOrderStatus = "shipped"
	SupplierOrderCancelled SupplierOrderStatus = "cancelled"
)

// SupplierOrder 记录与某个供应商的履约进度。
// 条目只增不删，取消以状态变化的形式记录。
type SupplierOrder struct {
	SupplierOrderID string              `json:"supplierOrderId"`
	Status          SupplierOrderStatus `json:"status"`
	TrackingNumber  string              `json:"trackingNumber,omitempty"`
	TrackingCarrier string              `json:"trackingCarrier,omitempty"`
}

// HistoryEntry 是一次已应用事件的审计记录，只追加、不修改。
type HistoryEntry struct {
	State     State     `json:"state"`
	Event     EventType `json:"event"`
	EventID   string    `json:"eventId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderWorkflow 是按订单持久化的履约聚合。
type OrderWorkflow struct {
	OrderID         string                    `json:"orderId"`
	State           State                     `json:"state"`
	RetryCount      int                       `json:"retryCount"`
	LastError       string                    `json:"lastError,omitempty"`
	Items           []OrderItem               `json:"items"`
	SupplierOrders  map[string]*SupplierOrder `json:"supplierOrders"`
	ShippingAddress Address                   `json:"shippingAddress"`
	History         []HistoryEntry            `json:"history"`
	CreatedAt       time.Time                 `json:"createdAt"`
	UpdatedAt       time.Time                 `json:"updatedAt"`

	// Version 是乐观并发控制的版本号，由仓储维护，不进快照 JSON。
	Version int64 `json:"-"`
}

// NewOrderWorkflow 从首个 PaymentConfirmed 事件创建工作流。
func NewOrderWorkflow(ev Event) (*OrderWorkflow, error) {
	if ev.OrderID == "" || len(ev.Items) == 0 {
		return nil, errors.New("cannot create workflow with empty orderId or items")
	}
	if ev.ShippingAddress == nil {
		return nil, errors.New("cannot create workflow without a shipping address")
	}
	now := ev.OccurredAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return &OrderWorkflow{
		OrderID:         ev.OrderID,
		State:           StatePending,
		Items:           append([]OrderItem(nil), ev.Items...),
		SupplierOrders:  make(map[string]*SupplierOrder),
		ShippingAddress: *ev.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Suppliers 返回订单涉及的去重后的供应商名单。
func (w *OrderWorkflow) Suppliers() []string {
	seen := make(map[string]bool, len(w.Items))
	var names []string
	for _, item := range w.Items {
		if !seen[item.SupplierName] {
			seen[item.SupplierName] = true
			names = append(names, item.SupplierName)
		}
	}
	return names
}

// ItemsFor 返回归属某个供应商的条目。
func (w *OrderWorkflow) ItemsFor(supplier string) []OrderItem {
	var items []OrderItem
	for _, item := range w.Items {
		if item.SupplierName == supplier {
			items = append(items, item)
		}
	}
	return items
}

// PendingSuppliers 返回尚未成功下单的供应商。
func (w *OrderWorkflow) PendingSuppliers() []string {
	var pending []string
	for _, name := range w.Suppliers() {
		if _, ok := w.SupplierOrders[name]; !ok {
			pending = append(pending, name)
		}
	}
	return pending
}

// AllPlaced 所有供应商都已有子订单。
func (w *OrderWorkflow) AllPlaced() bool {
	return len(w.PendingSuppliers()) == 0
}

// AllConfirmed 所有子订单都已被供应商确认（或更后）。
func (w *OrderWorkflow) AllConfirmed() bool {
	if !w.AllPlaced() {
		return false
	}
	for _, so := range w.SupplierOrders {
		if so.Status == SupplierOrderPlaced {
			return false
		}
	}
	return true
}

// Applied 判断某个事件是否已经应用过（队列重复投递的幂等依据）。
func (w *OrderWorkflow) Applied(eventID string) bool {
	if eventID == "" {
		return false
	}
	for _, h := range w.History {
		if h.EventID == eventID {
			return true
		}
	}
	return false
}

// Clone 返回聚合的深拷贝，转移引擎在拷贝上工作以保持纯函数语义。
func (w *OrderWorkflow) Clone() *OrderWorkflow {
	cp := *w
	cp.Items = append([]OrderItem(nil), w.Items...)
	cp.History = append([]HistoryEntry(nil), w.History...)
	cp.SupplierOrders = make(map[string]*SupplierOrder, len(w.SupplierOrders))
	for name, so := range w.SupplierOrders {
		c := *so
		cp.SupplierOrders[name] = &c
	}
	return &cp
}

func (w *OrderWorkflow) recordHistory(ev Event, at time.Time) {
	w.History = append(w.History, HistoryEntry{
		State:     w.State,
		Event:     ev.Type,
		EventID:   ev.ID,
		Timestamp: at,
	})
	w.UpdatedAt = at
}
