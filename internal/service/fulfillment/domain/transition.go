// internal/service/fulfillment/domain/transition.go
package domain

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Result 是一次转移的产物。Changed 为 false 表示事件被静默吸收
// （过期定时器、无变化的轮询），快照无需持久化。
type Result struct {
	Workflow *OrderWorkflow
	Effects  []Effect
	Changed  bool
}

// Transition 是履约生命周期的纯转移函数：不做任何 IO，
// 在快照的拷贝上应用事件，返回新快照与待执行的副作用清单。
// 非法的 (状态, 事件) 组合返回 ErrInvalidTransition，原快照不受影响。
func Transition(wf *OrderWorkflow, ev Event, pol Policy) (*Result, error) {
	if wf.Applied(ev.ID) {
		return nil, ErrDuplicateEvent
	}
	// 过期守卫：定时/轮询任务在快照已离开其标记状态后投递，静默丢弃
	if ev.ExpectedState != "" && wf.State != ev.ExpectedState {
		return &Result{Workflow: wf, Changed: false}, nil
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	next := wf.Clone()
	var effects []Effect

	switch ev.Type {
	case EventPaymentConfirmed:
		if wf.State != StatePending {
			return nil, invalid(wf.State, ev.Type)
		}
		next.State = StatePaymentConfirmed
		effects = append(effects, schedule(pol.ProcessingDelay, Event{
			Type:          EventAdvanceProcessing,
			OrderID:       wf.OrderID,
			ExpectedState: StatePaymentConfirmed,
		}))

	case EventAdvanceProcessing:
		if wf.State != StatePaymentConfirmed {
			return nil, invalid(wf.State, ev.Type)
		}
		next.State = StateProcessing
		effects = append(effects, Effect{Type: EffectPlaceSupplierOrders, Suppliers: next.PendingSuppliers()})

	case EventPlaceOrderSucceeded:
		if wf.State != StateProcessing && wf.State != StateFailed && wf.State != StateManualIntervention {
			return nil, invalid(wf.State, ev.Type)
		}
		for _, p := range ev.Placements {
			so, ok := next.SupplierOrders[p.SupplierName]
			if !ok {
				so = &SupplierOrder{}
				next.SupplierOrders[p.SupplierName] = so
			}
			so.SupplierOrderID = p.SupplierOrderID
			if so.Status == "" {
				so.Status = SupplierOrderPlaced
			}
		}
		if wf.State != StateProcessing {
			// 同批里兄弟供应商的失败先被处理：只登记已拿到的子订单，
			// 停留在失败态，后续重试只触达仍未下单的供应商
			break
		}
		next.LastError = ""
		if next.AllPlaced() {
			next.State = StatePlacedWithSupplier
			effects = append(effects,
				schedule(pol.ConfirmationTimeout, Event{
					Type:          EventConfirmationTimeout,
					OrderID:       wf.OrderID,
					ExpectedState: StatePlacedWithSupplier,
				}),
				schedule(pol.SupplierSyncInterval, Event{
					Type:          EventSupplierSyncDue,
					OrderID:       wf.OrderID,
					ExpectedState: StatePlacedWithSupplier,
				}),
			)
		}

	case EventPlaceOrderFailed:
		if wf.State != StateProcessing {
			return nil, invalid(wf.State, ev.Type)
		}
		next.LastError = ev.Reason
		if !ev.Transient {
			// 业务性拒绝（如缺货）不重试，直接转人工
			next.State = StateManualIntervention
			effects = append(effects, notify(NotifyManualIntervention, map[string]string{
				"reason":   ev.Reason,
				"supplier": ev.SupplierName,
			}))
			break
		}
		next.RetryCount++
		if next.RetryCount >= pol.MaxRetries {
			next.State = StateManualIntervention
			effects = append(effects, notify(NotifyManualIntervention, map[string]string{
				"reason":     ErrRetryExhausted.Error(),
				"lastError":  ev.Reason,
				"supplier":   ev.SupplierName,
				"retryCount": strconv.Itoa(next.RetryCount),
			}))
			break
		}
		next.State = StateFailed
		effects = append(effects, schedule(pol.RetryBackoff(next.RetryCount), Event{
			Type:          EventRetry,
			OrderID:       wf.OrderID,
			ExpectedState: StateFailed,
		}))

	case EventRetry:
		if wf.State != StateFailed && wf.State != StateManualIntervention {
			return nil, invalid(wf.State, ev.Type)
		}
		if ev.Manual {
			// 人工重试显式清零计数，重新获得完整的重试预算
			next.RetryCount = 0
		} else if wf.RetryCount >= pol.MaxRetries {
			return nil, invalid(wf.State, ev.Type)
		}
		next.State = StateProcessing
		next.LastError = ""
		effects = append(effects, Effect{Type: EffectPlaceSupplierOrders, Suppliers: next.PendingSuppliers()})

	case EventSupplierConfirmed:
		if wf.State != StatePlacedWithSupplier {
			return nil, invalid(wf.State, ev.Type)
		}
		so, ok := next.SupplierOrders[ev.SupplierName]
		if !ok {
			return nil, errors.Wrapf(ErrInvalidTransition, "confirmation for unknown supplier %q", ev.SupplierName)
		}
		if ev.SupplierOrderID != "" {
			so.SupplierOrderID = ev.SupplierOrderID
		}
		if so.Status == SupplierOrderPlaced {
			so.Status = SupplierOrderConfirmed
		}
		if next.AllConfirmed() {
			next.State = StateSupplierConfirmed
			effects = append(effects, schedule(pol.SupplierSyncInterval, Event{
				Type:          EventSupplierSyncDue,
				OrderID:       wf.OrderID,
				ExpectedState: StateSupplierConfirmed,
			}))
		}

	case EventConfirmationTimeout:
		if wf.State != StatePlacedWithSupplier {
			return nil, invalid(wf.State, ev.Type)
		}
		next.State = StateManualIntervention
		next.LastError = "supplier confirmation timed out"
		effects = append(effects, notify(NotifyManualIntervention, map[string]string{
			"reason": "supplier confirmation timed out",
		}))

	case EventSupplierSyncDue:
		if wf.State != StatePlacedWithSupplier && wf.State != StateSupplierConfirmed {
			return nil, invalid(wf.State, ev.Type)
		}
		// 查询子订单状态，并预约下一轮；状态推进由查询产生的事件完成
		return &Result{
			Workflow: wf,
			Effects: []Effect{
				{Type: EffectSyncSupplierStatus},
				schedule(pol.SupplierSyncInterval, Event{
					Type:          EventSupplierSyncDue,
					OrderID:       wf.OrderID,
					ExpectedState: wf.State,
				}),
			},
			Changed: false,
		}, nil

	case EventTrackingReceived:
		if wf.State != StatePlacedWithSupplier && wf.State != StateSupplierConfirmed {
			return nil, invalid(wf.State, ev.Type)
		}
		so, ok := next.SupplierOrders[ev.SupplierName]
		if !ok {
			return nil, errors.Wrapf(ErrInvalidTransition, "tracking for unknown supplier %q", ev.SupplierName)
		}
		so.TrackingNumber = ev.TrackingNumber
		so.TrackingCarrier = ev.TrackingCarrier
		so.Status = SupplierOrderShipped
		next.State = StateShipped
		effects = append(effects,
			notify(NotifyOrderShipped, map[string]string{
				"trackingNumber":  ev.TrackingNumber,
				"trackingCarrier": ev.TrackingCarrier,
			}),
			schedule(pol.TrackingPollInterval, Event{
				Type:          EventTrackingPollDue,
				OrderID:       wf.OrderID,
				ExpectedState: StateShipped,
			}),
		)

	case EventTrackingPollDue:
		if !wf.State.Trackable() {
			return nil, invalid(wf.State, ev.Type)
		}
		// 每次轮询结果（更新、无变化或失败）都会重新预约下一轮
		return &Result{
			Workflow: wf,
			Effects:  []Effect{{Type: EffectFetchTracking}},
			Changed:  false,
		}, nil

	case EventTrackingUpdate:
		if !wf.State.Trackable() {
			return nil, invalid(wf.State, ev.Type)
		}
		switch ev.TrackingStatus {
		case TrackingStatusDelivered:
			return applyDelivered(wf, next, ev, at)
		case TrackingStatusOutForDelivery:
			if wf.State == StateOutForDelivery {
				// 状态没变，不重复打扰客户，只续约下一轮
				return &Result{
					Workflow: wf,
					Effects: []Effect{schedule(pol.TrackingPollInterval, Event{
						Type:          EventTrackingPollDue,
						OrderID:       wf.OrderID,
						ExpectedState: StateOutForDelivery,
					})},
					Changed: false,
				}, nil
			}
			next.State = StateOutForDelivery
			effects = append(effects,
				notify(NotifyOrderOutForDelivery, nil),
				schedule(pol.TrackingPollInterval, Event{
					Type:          EventTrackingPollDue,
					OrderID:       wf.OrderID,
					ExpectedState: StateOutForDelivery,
				}),
			)
		case TrackingStatusInTransit:
			// 不打扰客户，只进历史
			if wf.State == StateShipped || wf.State == StateInTransit {
				next.State = StateInTransit
			}
			effects = append(effects, schedule(pol.TrackingPollInterval, Event{
				Type:          EventTrackingPollDue,
				OrderID:       wf.OrderID,
				ExpectedState: next.State,
			}))
		default:
			// pending/unknown：本轮无进展，等下一轮
			return &Result{
				Workflow: wf,
				Effects: []Effect{schedule(pol.TrackingPollInterval, Event{
					Type:          EventTrackingPollDue,
					OrderID:       wf.OrderID,
					ExpectedState: wf.State,
				})},
				Changed: false,
			}, nil
		}

	case EventTrackingFetchFailed:
		if !wf.State.Trackable() {
			return nil, invalid(wf.State, ev.Type)
		}
		// 物流查询永远安全重试，不存在永久失败
		return &Result{
			Workflow: wf,
			Effects: []Effect{schedule(pol.TrackingPollInterval, Event{
				Type:          EventTrackingPollDue,
				OrderID:       wf.OrderID,
				ExpectedState: wf.State,
			})},
			Changed: false,
		}, nil

	case EventDelivered:
		if !wf.State.Trackable() {
			return nil, invalid(wf.State, ev.Type)
		}
		return applyDelivered(wf, next, ev, at)

	case EventCancelRequested:
		if wf.State.Terminal() || wf.State == StateRefundRequested {
			return nil, invalid(wf.State, ev.Type)
		}
		if len(wf.SupplierOrders) == 0 {
			// 还没有触达任何供应商，可以直接取消
			next.State = StateCancelled
			effects = append(effects, notify(NotifyOrderCancelled, nil))
			break
		}
		next.State = StateRefundRequested
		var placed []string
		for name := range next.SupplierOrders {
			placed = append(placed, name)
		}
		effects = append(effects, Effect{Type: EffectCancelSupplierOrders, Suppliers: placed})

	case EventRefundProcessed:
		if wf.State != StateRefundRequested {
			return nil, invalid(wf.State, ev.Type)
		}
		next.State = StateRefunded
		for _, so := range next.SupplierOrders {
			so.Status = SupplierOrderCancelled
		}
		effects = append(effects, notify(NotifyRefundIssued, nil))

	default:
		return nil, errors.Wrapf(ErrInvalidTransition, "unknown event type %q", ev.Type)
	}

	next.recordHistory(ev, at)
	return &Result{Workflow: next, Effects: effects, Changed: true}, nil
}

func applyDelivered(wf, next *OrderWorkflow, ev Event, at time.Time) (*Result, error) {
	next.State = StateDelivered
	next.recordHistory(ev, at)
	// 到达终态后未决的轮询任务会被守卫丢弃，无需显式取消
	return &Result{
		Workflow: next,
		Effects:  []Effect{notify(NotifyOrderDelivered, nil)},
		Changed:  true,
	}, nil
}

func invalid(s State, t EventType) error {
	return errors.Wrapf(ErrInvalidTransition, "event %s not allowed in state %s", t, s)
}
