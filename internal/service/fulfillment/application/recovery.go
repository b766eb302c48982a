// internal/service/fulfillment/application/recovery.go
package application

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"dropflow/internal/service/fulfillment/domain"
)

// RecoverInFlight 在进程启动时扫描所有未终态工作流，按其当前状态
// 重新布防定时器或重放未完成的副作用。所有动作都走与正常路径相同的
// 守卫（ExpectedState、幂等下单），重复布防最多造成一次无害的空轮询。
func (o *Orchestrator) RecoverInFlight(ctx context.Context) error {
	var scanned, rearmed int
	err := o.repo.ScanActive(ctx, func(wf *domain.OrderWorkflow) error {
		scanned++
		if o.recoverOne(ctx, wf) {
			rearmed++
		}
		return nil
	})
	if err != nil {
		return err
	}
	zlog.Ctx(ctx).Info().Int("scanned", scanned).Int("rearmed", rearmed).
		Msg("in-flight workflow recovery finished")
	return nil
}

func (o *Orchestrator) recoverOne(ctx context.Context, wf *domain.OrderWorkflow) bool {
	switch wf.State {
	case domain.StatePaymentConfirmed:
		o.scheduleEvent(ctx, domain.Event{
			Type: domain.EventAdvanceProcessing, OrderID: wf.OrderID,
			ExpectedState: domain.StatePaymentConfirmed,
		}, o.policy.ProcessingDelay)

	case domain.StateProcessing:
		// 下单调用可能在宕机时被打断；快照里的幂等防线保证不重复下单
		o.placeSupplierOrders(ctx, wf, wf.PendingSuppliers())

	case domain.StatePlacedWithSupplier:
		o.scheduleEvent(ctx, domain.Event{
			Type: domain.EventConfirmationTimeout, OrderID: wf.OrderID,
			ExpectedState: domain.StatePlacedWithSupplier,
		}, o.remainingConfirmation(wf))
		o.scheduleEvent(ctx, domain.Event{
			Type: domain.EventSupplierSyncDue, OrderID: wf.OrderID,
			ExpectedState: domain.StatePlacedWithSupplier,
		}, o.policy.SupplierSyncInterval)

	case domain.StateSupplierConfirmed:
		o.scheduleEvent(ctx, domain.Event{
			Type: domain.EventSupplierSyncDue, OrderID: wf.OrderID,
			ExpectedState: domain.StateSupplierConfirmed,
		}, o.policy.SupplierSyncInterval)

	case domain.StateFailed:
		o.scheduleEvent(ctx, domain.Event{
			Type: domain.EventRetry, OrderID: wf.OrderID,
			ExpectedState: domain.StateFailed,
		}, o.policy.RetryBackoff(wf.RetryCount))

	case domain.StateShipped, domain.StateInTransit, domain.StateOutForDelivery:
		o.scheduleEvent(ctx, domain.Event{
			Type: domain.EventTrackingPollDue, OrderID: wf.OrderID,
			ExpectedState: wf.State,
		}, o.policy.TrackingPollInterval)

	case domain.StateRefundRequested:
		// 取消调用本身幂等，重放以确保所有子订单都已向供应商发出取消
		o.cancelSupplierOrders(ctx, wf, wf.Suppliers())

	default:
		return false
	}
	return true
}

// remainingConfirmation 从历史里找到进入 placed_with_supplier 的时刻，
// 计算确认超时的剩余额度；历史缺失时退化为完整窗口。
func (o *Orchestrator) remainingConfirmation(wf *domain.OrderWorkflow) time.Duration {
	for i := len(wf.History) - 1; i >= 0; i-- {
		if wf.History[i].State == domain.StatePlacedWithSupplier {
			remaining := o.policy.ConfirmationTimeout - time.Since(wf.History[i].Timestamp)
			if remaining < 0 {
				return 0
			}
			return remaining
		}
	}
	return o.policy.ConfirmationTimeout
}
