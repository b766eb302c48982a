// internal/service/fulfillment/domain/effects.go
package domain

import "time"

// EffectType 标识转移引擎要求编排器在持久化之后执行的副作用。
type EffectType string

const (
	// EffectPlaceSupplierOrders 对 Suppliers 列表中尚未下单的供应商执行 placeOrder。
	EffectPlaceSupplierOrders EffectType = "place_supplier_orders"
	// EffectCancelSupplierOrders 对已有子订单的供应商执行 cancelOrder。
	EffectCancelSupplierOrders EffectType = "cancel_supplier_orders"
	// EffectSyncSupplierStatus 轮询供应商子订单状态（确认/运单号）。
	EffectSyncSupplierStatus EffectType = "sync_supplier_status"
	// EffectFetchTracking 查询物流聚合商。
	EffectFetchTracking EffectType = "fetch_tracking"
	// EffectSchedule 通过延迟队列在 Delay 之后投递 Event。
	EffectSchedule EffectType = "schedule"
	// EffectNotify 发送一条抽象通知（由外部分发器决定渠道与模板）。
	EffectNotify EffectType = "notify"
)

// Effect 是纯数据的副作用描述：转移引擎只声明，编排器负责执行。
type Effect struct {
	Type EffectType

	// EffectSchedule
	Delay time.Duration
	Event *Event

	// EffectNotify
	Kind    NotificationKind
	Payload map[string]string

	// EffectPlace/Cancel/Sync 作用的供应商（空表示全部相关供应商）
	Suppliers []string

	// EffectFetchTracking
	TrackingNumber  string
	TrackingCarrier string
}

func schedule(delay time.Duration, ev Event) Effect {
	return Effect{Type: EffectSchedule, Delay: delay, Event: &ev}
}

func notify(kind NotificationKind, payload map[string]string) Effect {
	return Effect{Type: EffectNotify, Kind: kind, Payload: payload}
}
