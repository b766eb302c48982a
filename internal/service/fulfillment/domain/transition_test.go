// internal/service/fulfillment/domain/transition_test.go
package domain

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return DefaultPolicy()
}

func paymentConfirmedEvent(orderID string, suppliers ...string) Event {
	if len(suppliers) == 0 {
		suppliers = []string{"cj"}
	}
	var items []OrderItem
	for i, s := range suppliers {
		items = append(items, OrderItem{
			ProductID:    fmt.Sprintf("p-%d", i+1),
			SourceID:     fmt.Sprintf("src-%d", i+1),
			SupplierName: s,
			Quantity:     1,
		})
	}
	return Event{
		ID:      "ev-payment",
		Type:    EventPaymentConfirmed,
		OrderID: orderID,
		Items:   items,
		ShippingAddress: &Address{
			Name: "Jamie Doe", Line1: "1 Main St", City: "Springfield",
			PostalCode: "12345", Country: "US",
		},
	}
}

// apply 应用一条事件并要求成功。
func apply(t *testing.T, wf *OrderWorkflow, ev Event) *Result {
	t.Helper()
	res, err := Transition(wf, ev, testPolicy())
	require.NoError(t, err)
	return res
}

func newWorkflow(t *testing.T, suppliers ...string) *OrderWorkflow {
	t.Helper()
	ev := paymentConfirmedEvent("ord-1", suppliers...)
	wf, err := NewOrderWorkflow(ev)
	require.NoError(t, err)
	res := apply(t, wf, ev)
	return res.Workflow
}

func TestHappyPathSingleSupplier(t *testing.T) {
	wf := newWorkflow(t, "cj")
	require.Equal(t, StatePaymentConfirmed, wf.State)

	wf = apply(t, wf, Event{ID: "ev-2", Type: EventAdvanceProcessing, OrderID: "ord-1", ExpectedState: StatePaymentConfirmed}).Workflow
	require.Equal(t, StateProcessing, wf.State)

	wf = apply(t, wf, Event{ID: "ev-3", Type: EventPlaceOrderSucceeded, OrderID: "ord-1",
		Placements: []SupplierPlacement{{SupplierName: "cj", SupplierOrderID: "cj-100"}}}).Workflow
	require.Equal(t, StatePlacedWithSupplier, wf.State)

	wf = apply(t, wf, Event{ID: "ev-4", Type: EventSupplierConfirmed, OrderID: "ord-1", SupplierName: "cj"}).Workflow
	require.Equal(t, StateSupplierConfirmed, wf.State)

	res := apply(t, wf, Event{ID: "ev-5", Type: EventTrackingReceived, OrderID: "ord-1",
		SupplierName: "cj", TrackingNumber: "1Z999AA10123456784", TrackingCarrier: "ups"})
	wf = res.Workflow
	require.Equal(t, StateShipped, wf.State)
	assert.Equal(t, "1Z999AA10123456784", wf.SupplierOrders["cj"].TrackingNumber)
	assertHasNotify(t, res.Effects, NotifyOrderShipped)

	wf = apply(t, wf, Event{ID: "ev-6", Type: EventTrackingUpdate, OrderID: "ord-1", TrackingStatus: TrackingStatusInTransit}).Workflow
	require.Equal(t, StateInTransit, wf.State)

	res = apply(t, wf, Event{ID: "ev-7", Type: EventTrackingUpdate, OrderID: "ord-1", TrackingStatus: TrackingStatusOutForDelivery})
	wf = res.Workflow
	require.Equal(t, StateOutForDelivery, wf.State)
	assertHasNotify(t, res.Effects, NotifyOrderOutForDelivery)

	res = apply(t, wf, Event{ID: "ev-8", Type: EventDelivered, OrderID: "ord-1"})
	wf = res.Workflow
	require.Equal(t, StateDelivered, wf.State)
	assertHasNotify(t, res.Effects, NotifyOrderDelivered)

	assert.Len(t, wf.History, 8)
	assert.True(t, wf.State.Terminal())
}

func TestRetryExhaustionEscalatesToManual(t *testing.T) {
	wf := newWorkflow(t, "cj")
	wf = apply(t, wf, Event{ID: "adv", Type: EventAdvanceProcessing, OrderID: "ord-1"}).Workflow

	for i := 1; i <= 3; i++ {
		res := apply(t, wf, Event{
			ID: fmt.Sprintf("fail-%d", i), Type: EventPlaceOrderFailed, OrderID: "ord-1",
			SupplierName: "cj", Reason: "supplier 503", Transient: true,
		})
		wf = res.Workflow
		require.Equal(t, i, wf.RetryCount)

		if i < 3 {
			require.Equal(t, StateFailed, wf.State)
			// 自动重试按指数退避预约
			sched := findSchedule(t, res.Effects, EventRetry)
			assert.Equal(t, testPolicy().RetryBackoff(i), sched.Delay)
			assert.Equal(t, StateFailed, sched.Event.ExpectedState)

			wf = apply(t, wf, Event{ID: fmt.Sprintf("retry-%d", i), Type: EventRetry, OrderID: "ord-1", ExpectedState: StateFailed}).Workflow
			require.Equal(t, StateProcessing, wf.State)
		} else {
			require.Equal(t, StateManualIntervention, wf.State)
			assertHasNotify(t, res.Effects, NotifyManualIntervention)
		}
	}
	assert.Equal(t, 3, wf.RetryCount)
	assert.Equal(t, "supplier 503", wf.LastError)
}

func TestNonTransientFailureSkipsRetries(t *testing.T) {
	wf := newWorkflow(t, "cj")
	wf = apply(t, wf, Event{ID: "adv", Type: EventAdvanceProcessing, OrderID: "ord-1"}).Workflow

	res := apply(t, wf, Event{
		ID: "rejected", Type: EventPlaceOrderFailed, OrderID: "ord-1",
		SupplierName: "cj", Reason: "item out of stock", Transient: false,
	})
	require.Equal(t, StateManualIntervention, res.Workflow.State)
	assert.Equal(t, 0, res.Workflow.RetryCount)
	assertHasNotify(t, res.Effects, NotifyManualIntervention)
}

func TestManualRetryResetsRetryBudget(t *testing.T) {
	wf := newWorkflow(t, "cj")
	wf = apply(t, wf, Event{ID: "adv", Type: EventAdvanceProcessing, OrderID: "ord-1"}).Workflow
	for i := 1; i <= 3; i++ {
		wf = apply(t, wf, Event{ID: fmt.Sprintf("f-%d", i), Type: EventPlaceOrderFailed, OrderID: "ord-1",
			Reason: "timeout", Transient: true}).Workflow
		if wf.State == StateFailed {
			wf = apply(t, wf, Event{ID: fmt.Sprintf("r-%d", i), Type: EventRetry, OrderID: "ord-1"}).Workflow
		}
	}
	require.Equal(t, StateManualIntervention, wf.State)

	// 自动重试在人工介入状态下不再生效，但人工重试可以
	res := apply(t, wf, Event{ID: "manual", Type: EventRetry, OrderID: "ord-1", Manual: true})
	wf = res.Workflow
	assert.Equal(t, StateProcessing, wf.State)
	assert.Equal(t, 0, wf.RetryCount)
	assert.Empty(t, wf.LastError)
	assertHasEffect(t, res.Effects, EffectPlaceSupplierOrders)
}

func TestAutoRetryExhaustedIsRejected(t *testing.T) {
	wf := newWorkflow(t, "cj")
	wf.State = StateManualIntervention
	wf.RetryCount = 3

	_, err := Transition(wf, Event{ID: "auto", Type: EventRetry, OrderID: "ord-1"}, testPolicy())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEarlyCancelBeforePlacement(t *testing.T) {
	wf := newWorkflow(t, "cj")
	require.Empty(t, wf.SupplierOrders)

	res := apply(t, wf, Event{ID: "cancel", Type: EventCancelRequested, OrderID: "ord-1"})
	assert.Equal(t, StateCancelled, res.Workflow.State)
	assert.Empty(t, res.Workflow.SupplierOrders)
	assertHasNotify(t, res.Effects, NotifyOrderCancelled)
	assert.True(t, res.Workflow.State.Terminal())
}

func TestCancelAfterPlacementGoesThroughRefund(t *testing.T) {
	wf := newWorkflow(t, "cj")
	wf = apply(t, wf, Event{ID: "adv", Type: EventAdvanceProcessing, OrderID: "ord-1"}).Workflow
	wf = apply(t, wf, Event{ID: "ok", Type: EventPlaceOrderSucceeded, OrderID: "ord-1",
		Placements: []SupplierPlacement{{SupplierName: "cj", SupplierOrderID: "cj-1"}}}).Workflow

	res := apply(t, wf, Event{ID: "cancel", Type: EventCancelRequested, OrderID: "ord-1"})
	wf = res.Workflow
	require.Equal(t, StateRefundRequested, wf.State)
	cancelEff := findEffect(t, res.Effects, EffectCancelSupplierOrders)
	assert.Contains(t, cancelEff.Suppliers, "cj")

	// 退款期间不允许二次取消
	_, err := Transition(wf, Event{ID: "cancel-2", Type: EventCancelRequested, OrderID: "ord-1"}, testPolicy())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	res = apply(t, wf, Event{ID: "refund", Type: EventRefundProcessed, OrderID: "ord-1"})
	wf = res.Workflow
	assert.Equal(t, StateRefunded, wf.State)
	assert.Equal(t, SupplierOrderCancelled, wf.SupplierOrders["cj"].Status)
	assertHasNotify(t, res.Effects, NotifyRefundIssued)
}

func TestMultiSupplierPlacementIsIndependent(t *testing.T) {
	wf := newWorkflow(t, "cj", "aliexpress")
	wf = apply(t, wf, Event{ID: "adv", Type: EventAdvanceProcessing, OrderID: "ord-1"}).Workflow

	// 只有一个供应商下单成功：停留在 processing
	wf = apply(t, wf, Event{ID: "ok-a", Type: EventPlaceOrderSucceeded, OrderID: "ord-1",
		Placements: []SupplierPlacement{{SupplierName: "cj", SupplierOrderID: "cj-1"}}}).Workflow
	require.Equal(t, StateProcessing, wf.State)
	assert.Equal(t, []string{"aliexpress"}, wf.PendingSuppliers())

	res := apply(t, wf, Event{ID: "ok-b", Type: EventPlaceOrderSucceeded, OrderID: "ord-1",
		Placements: []SupplierPlacement{{SupplierName: "aliexpress", SupplierOrderID: "ae-1"}}})
	wf = res.Workflow
	require.Equal(t, StatePlacedWithSupplier, wf.State)
	assert.True(t, wf.AllPlaced())

	// 部分确认不推进状态
	wf = apply(t, wf, Event{ID: "conf-a", Type: EventSupplierConfirmed, OrderID: "ord-1", SupplierName: "cj"}).Workflow
	require.Equal(t, StatePlacedWithSupplier, wf.State)

	wf = apply(t, wf, Event{ID: "conf-b", Type: EventSupplierConfirmed, OrderID: "ord-1", SupplierName: "aliexpress"}).Workflow
	assert.Equal(t, StateSupplierConfirmed, wf.State)
}

func TestLateSuccessAfterSiblingFailureIsRecorded(t *testing.T) {
	wf := newWorkflow(t, "cj", "aliexpress")
	wf = apply(t, wf, Event{ID: "adv", Type: EventAdvanceProcessing, OrderID: "ord-1"}).Workflow

	// 同批下单：aliexpress 的失败先被处理，cj 的成功后到
	wf = apply(t, wf, Event{ID: "fail-b", Type: EventPlaceOrderFailed, OrderID: "ord-1",
		SupplierName: "aliexpress", Reason: "upstream busy", Transient: true}).Workflow
	require.Equal(t, StateFailed, wf.State)

	res := apply(t, wf, Event{ID: "ok-a", Type: EventPlaceOrderSucceeded, OrderID: "ord-1",
		Placements: []SupplierPlacement{{SupplierName: "cj", SupplierOrderID: "cj-1"}}})
	wf = res.Workflow
	assert.True(t, res.Changed)
	assert.Equal(t, StateFailed, wf.State)
	require.Contains(t, wf.SupplierOrders, "cj")
	assert.Equal(t, "cj-1", wf.SupplierOrders["cj"].SupplierOrderID)
	assert.Equal(t, "upstream busy", wf.LastError)

	// 重试只触达仍未下单的供应商
	res = apply(t, wf, Event{ID: "retry", Type: EventRetry, OrderID: "ord-1", ExpectedState: StateFailed})
	wf = res.Workflow
	require.Equal(t, StateProcessing, wf.State)
	placeEff := findEffect(t, res.Effects, EffectPlaceSupplierOrders)
	assert.Equal(t, []string{"aliexpress"}, placeEff.Suppliers)

	wf = apply(t, wf, Event{ID: "ok-b", Type: EventPlaceOrderSucceeded, OrderID: "ord-1",
		Placements: []SupplierPlacement{{SupplierName: "aliexpress", SupplierOrderID: "ae-1"}}}).Workflow
	assert.Equal(t, StatePlacedWithSupplier, wf.State)
}

func TestConfirmationTimeoutEscalates(t *testing.T) {
	wf := newWorkflow(t, "cj")
	wf = apply(t, wf, Event{ID: "adv", Type: EventAdvanceProcessing, OrderID: "ord-1"}).Workflow
	wf = apply(t, wf, Event{ID: "ok", Type: EventPlaceOrderSucceeded, OrderID: "ord-1",
		Placements: []SupplierPlacement{{SupplierName: "cj", SupplierOrderID: "cj-1"}}}).Workflow

	res := apply(t, wf, Event{ID: "timeout", Type: EventConfirmationTimeout, OrderID: "ord-1",
		ExpectedState: StatePlacedWithSupplier})
	assert.Equal(t, StateManualIntervention, res.Workflow.State)
	assertHasNotify(t, res.Effects, NotifyManualIntervention)
}

func TestStaleTimerIsSilentlyDropped(t *testing.T) {
	wf := newWorkflow(t, "cj")
	wf = apply(t, wf, Event{ID: "adv", Type: EventAdvanceProcessing, OrderID: "ord-1"}).Workflow
	wf = apply(t, wf, Event{ID: "ok", Type: EventPlaceOrderSucceeded, OrderID: "ord-1",
		Placements: []SupplierPlacement{{SupplierName: "cj", SupplierOrderID: "cj-1"}}}).Workflow
	wf = apply(t, wf, Event{ID: "conf", Type: EventSupplierConfirmed, OrderID: "ord-1", SupplierName: "cj"}).Workflow
	require.Equal(t, StateSupplierConfirmed, wf.State)

	// 确认超时定时器晚到：快照已离开 placed_with_supplier
	res := apply(t, wf, Event{ID: "late-timeout", Type: EventConfirmationTimeout, OrderID: "ord-1",
		ExpectedState: StatePlacedWithSupplier})
	assert.False(t, res.Changed)
	assert.Empty(t, res.Effects)
	assert.Equal(t, StateSupplierConfirmed, res.Workflow.State)
}

func TestDuplicateEventIsRejected(t *testing.T) {
	wf := newWorkflow(t, "cj")
	ev := Event{ID: "adv", Type: EventAdvanceProcessing, OrderID: "ord-1"}
	wf = apply(t, wf, ev).Workflow

	_, err := Transition(wf, ev, testPolicy())
	assert.ErrorIs(t, err, ErrDuplicateEvent)
}

func TestTrackingPollKeepsReschedulingOnNoProgress(t *testing.T) {
	wf := shippedWorkflow(t)

	// 轮询到期只产生查询副作用，不落盘
	res := apply(t, wf, Event{ID: "poll", Type: EventTrackingPollDue, OrderID: "ord-1", ExpectedState: StateShipped})
	assert.False(t, res.Changed)
	assertHasEffect(t, res.Effects, EffectFetchTracking)

	// 查询失败重新预约，守卫指向当前状态
	res = apply(t, wf, Event{ID: "fail", Type: EventTrackingFetchFailed, OrderID: "ord-1", ExpectedState: StateShipped})
	assert.False(t, res.Changed)
	sched := findSchedule(t, res.Effects, EventTrackingPollDue)
	assert.Equal(t, StateShipped, sched.Event.ExpectedState)

	// 无进展的状态同样只是顺延
	res = apply(t, wf, Event{ID: "nochange", Type: EventTrackingUpdate, OrderID: "ord-1", TrackingStatus: TrackingStatusPending})
	assert.False(t, res.Changed)
	findSchedule(t, res.Effects, EventTrackingPollDue)
}

func TestRepeatedOutForDeliveryDoesNotRenotify(t *testing.T) {
	wf := shippedWorkflow(t)
	res := apply(t, wf, Event{ID: "ofd-1", Type: EventTrackingUpdate, OrderID: "ord-1",
		TrackingStatus: TrackingStatusOutForDelivery})
	wf = res.Workflow
	require.Equal(t, StateOutForDelivery, wf.State)
	assertHasNotify(t, res.Effects, NotifyOrderOutForDelivery)

	// 下一轮轮询状态未变：只续约，不再通知客户
	res = apply(t, wf, Event{ID: "ofd-2", Type: EventTrackingUpdate, OrderID: "ord-1",
		TrackingStatus: TrackingStatusOutForDelivery})
	assert.False(t, res.Changed)
	for _, eff := range res.Effects {
		assert.NotEqual(t, EffectNotify, eff.Type)
	}
	sched := findSchedule(t, res.Effects, EventTrackingPollDue)
	assert.Equal(t, StateOutForDelivery, sched.Event.ExpectedState)
}

func TestDeliveredStopsPolling(t *testing.T) {
	wf := shippedWorkflow(t)
	res := apply(t, wf, Event{ID: "done", Type: EventDelivered, OrderID: "ord-1"})
	require.Equal(t, StateDelivered, res.Workflow.State)
	for _, eff := range res.Effects {
		assert.NotEqual(t, EffectSchedule, eff.Type)
	}

	// 终态后晚到的轮询被守卫吸收
	late := apply(t, res.Workflow, Event{ID: "late-poll", Type: EventTrackingPollDue, OrderID: "ord-1", ExpectedState: StateShipped})
	assert.False(t, late.Changed)
	assert.Empty(t, late.Effects)
}

func TestSupplierSyncDueDoesNotTouchSnapshot(t *testing.T) {
	wf := newWorkflow(t, "cj")
	wf = apply(t, wf, Event{ID: "adv", Type: EventAdvanceProcessing, OrderID: "ord-1"}).Workflow
	wf = apply(t, wf, Event{ID: "ok", Type: EventPlaceOrderSucceeded, OrderID: "ord-1",
		Placements: []SupplierPlacement{{SupplierName: "cj", SupplierOrderID: "cj-1"}}}).Workflow

	before := len(wf.History)
	res := apply(t, wf, Event{ID: "sync", Type: EventSupplierSyncDue, OrderID: "ord-1", ExpectedState: StatePlacedWithSupplier})
	assert.False(t, res.Changed)
	assert.Len(t, res.Workflow.History, before)
	assertHasEffect(t, res.Effects, EffectSyncSupplierStatus)
	findSchedule(t, res.Effects, EventSupplierSyncDue)
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	wf := newWorkflow(t, "cj")
	snapshot, err := json.Marshal(wf)
	require.NoError(t, err)

	_, err = Transition(wf, Event{ID: "adv", Type: EventAdvanceProcessing, OrderID: "ord-1"}, testPolicy())
	require.NoError(t, err)

	after, err := json.Marshal(wf)
	require.NoError(t, err)
	assert.JSONEq(t, string(snapshot), string(after))
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	wf := shippedWorkflow(t)
	data, err := json.Marshal(wf)
	require.NoError(t, err)

	var decoded OrderWorkflow
	require.NoError(t, json.Unmarshal(data, &decoded))
	decoded.Version = wf.Version

	reencoded, err := json.Marshal(&decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(reencoded))
	assert.Equal(t, wf.State, decoded.State)
	assert.Equal(t, wf.SupplierOrders["cj"].TrackingNumber, decoded.SupplierOrders["cj"].TrackingNumber)
}

func TestInvalidTransitionsAreRejected(t *testing.T) {
	wf := newWorkflow(t, "cj")

	cases := []Event{
		{ID: "x1", Type: EventPlaceOrderSucceeded, OrderID: "ord-1"},
		{ID: "x2", Type: EventSupplierConfirmed, OrderID: "ord-1", SupplierName: "cj"},
		{ID: "x3", Type: EventTrackingUpdate, OrderID: "ord-1", TrackingStatus: TrackingStatusInTransit},
		{ID: "x4", Type: EventDelivered, OrderID: "ord-1"},
		{ID: "x5", Type: EventRefundProcessed, OrderID: "ord-1"},
		{ID: "x6", Type: EventPaymentConfirmed, OrderID: "ord-1"},
	}
	for _, ev := range cases {
		_, err := Transition(wf, ev, testPolicy())
		assert.ErrorIs(t, err, ErrInvalidTransition, "event %s", ev.Type)
	}
}

func shippedWorkflow(t *testing.T) *OrderWorkflow {
	t.Helper()
	wf := newWorkflow(t, "cj")
	wf = apply(t, wf, Event{ID: "adv", Type: EventAdvanceProcessing, OrderID: "ord-1"}).Workflow
	wf = apply(t, wf, Event{ID: "ok", Type: EventPlaceOrderSucceeded, OrderID: "ord-1",
		Placements: []SupplierPlacement{{SupplierName: "cj", SupplierOrderID: "cj-1"}}}).Workflow
	wf = apply(t, wf, Event{ID: "conf", Type: EventSupplierConfirmed, OrderID: "ord-1", SupplierName: "cj"}).Workflow
	wf = apply(t, wf, Event{ID: "trk", Type: EventTrackingReceived, OrderID: "ord-1",
		SupplierName: "cj", TrackingNumber: "1Z999AA10123456784", TrackingCarrier: "ups"}).Workflow
	require.Equal(t, StateShipped, wf.State)
	return wf
}

func assertHasNotify(t *testing.T, effects []Effect, kind NotificationKind) {
	t.Helper()
	for _, eff := range effects {
		if eff.Type == EffectNotify && eff.Kind == kind {
			return
		}
	}
	t.Fatalf("expected notify effect %s, got %+v", kind, effects)
}

func assertHasEffect(t *testing.T, effects []Effect, typ EffectType) {
	t.Helper()
	findEffect(t, effects, typ)
}

func findEffect(t *testing.T, effects []Effect, typ EffectType) Effect {
	t.Helper()
	for _, eff := range effects {
		if eff.Type == typ {
			return eff
		}
	}
	t.Fatalf("expected effect %s, got %+v", typ, effects)
	return Effect{}
}

func findSchedule(t *testing.T, effects []Effect, evType EventType) Effect {
	t.Helper()
	for _, eff := range effects {
		if eff.Type == EffectSchedule && eff.Event != nil && eff.Event.Type == evType {
			return eff
		}
	}
	t.Fatalf("expected scheduled %s, got %+v", evType, effects)
	return Effect{}
}
