// internal/service/fulfillment/application/orchestrator.go
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dropflow/internal/service/fulfillment/domain"
	"dropflow/internal/service/fulfillment/domain/port"
	"dropflow/internal/zookeeper"
)

const conflictReloadLimit = 5

// Orchestrator 拥有按订单的事件循环：加载快照、串行喂给转移引擎、
// 乐观持久化，然后在临界区之外执行副作用并预约后续任务。
// 副作用失败不回滚已持久化的状态，而是化作新事件回到同一串行通道。
type Orchestrator struct {
	repo      domain.WorkflowRepository
	audit     domain.AuditTrail
	suppliers port.SupplierRegistry
	tracking  port.TrackingProvider
	notifier  port.NotificationProducer
	scheduler port.DelayScheduler
	producer  port.EventProducer
	status    port.StatusPublisher

	policy      domain.Policy
	callTimeout time.Duration

	lanes   *laneRegistry
	limiter *SupplierLimiter
	zkConn  *zookeeper.Conn // 可选：多副本部署时的跨进程串行保障
	tracer  trace.Tracer
}

// Deps 聚合编排器的全部依赖，audit/status/zk 可为 nil。
type Deps struct {
	Repo      domain.WorkflowRepository
	Audit     domain.AuditTrail
	Suppliers port.SupplierRegistry
	Tracking  port.TrackingProvider
	Notifier  port.NotificationProducer
	Scheduler port.DelayScheduler
	Producer  port.EventProducer
	Status    port.StatusPublisher

	Policy      domain.Policy
	CallTimeout time.Duration
	Limiter     *SupplierLimiter
	ZKConn      *zookeeper.Conn
	Tracer      trace.Tracer
}

func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = 30 * time.Second
	}
	if deps.Limiter == nil {
		deps.Limiter = NewSupplierLimiter(nil, time.Second)
	}
	return &Orchestrator{
		repo:        deps.Repo,
		audit:       deps.Audit,
		suppliers:   deps.Suppliers,
		tracking:    deps.Tracking,
		notifier:    deps.Notifier,
		scheduler:   deps.Scheduler,
		producer:    deps.Producer,
		status:      deps.Status,
		policy:      deps.Policy,
		callTimeout: deps.CallTimeout,
		lanes:       newLaneRegistry(),
		limiter:     deps.Limiter,
		zkConn:      deps.ZKConn,
		tracer:      deps.Tracer,
	}
}

// HandleEvent 是唯一的事件入口。队列消费者、HTTP 接口和恢复扫描都走这里。
func (o *Orchestrator) HandleEvent(ctx context.Context, ev domain.Event) error {
	started := time.Now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.HandleEvent", trace.WithAttributes(
		attribute.String("order.id", ev.OrderID),
		attribute.String("event.type", string(ev.Type)),
	))
	defer span.End()
	defer func() { eventDuration.Observe(time.Since(started).Seconds()) }()

	if ev.OrderID == "" {
		droppedEventsTotal.WithLabelValues("missing_order_id").Inc()
		return errors.New("event has no orderId")
	}

	// 进程内串行通道；多副本时再叠加 ZooKeeper 锁
	release := o.lanes.Acquire(ev.OrderID)
	defer release()
	if o.zkConn != nil {
		lock, err := zookeeper.NewOrderLock(o.zkConn, ev.OrderID)
		if err != nil {
			return errors.Wrap(err, "failed to prepare order lock")
		}
		if err := lock.Lock(); err != nil {
			return errors.Wrap(err, "failed to acquire order lock")
		}
		defer lock.Unlock()
	}

	for attempt := 0; attempt < conflictReloadLimit; attempt++ {
		wf, err := o.loadOrCreate(ctx, ev)
		if err != nil {
			if errors.Is(err, domain.ErrWorkflowNotFound) {
				zlog.Ctx(ctx).Warn().Str("order_id", ev.OrderID).Str("event", string(ev.Type)).
					Msg("event for unknown workflow dropped")
				droppedEventsTotal.WithLabelValues("unknown_workflow").Inc()
				return nil
			}
			span.RecordError(err)
			return err
		}

		res, err := domain.Transition(wf, ev, o.policy)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrDuplicateEvent):
				// 队列重复投递，幂等丢弃
				droppedEventsTotal.WithLabelValues("duplicate").Inc()
				return nil
			case errors.Is(err, domain.ErrInvalidTransition):
				zlog.Ctx(ctx).Warn().Err(err).Str("order_id", ev.OrderID).
					Str("state", string(wf.State)).Str("event", string(ev.Type)).
					Msg("invalid transition requested, event dropped")
				droppedEventsTotal.WithLabelValues("invalid_transition").Inc()
				return nil
			default:
				span.RecordError(err)
				return err
			}
		}

		if res.Changed {
			if err := o.repo.Save(ctx, res.Workflow); err != nil {
				if errors.Is(err, domain.ErrVersionConflict) {
					// 另一个 worker 抢先更新了快照：重新加载后重放
					persistenceConflictsTotal.Inc()
					continue
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to persist workflow")
				return errors.Wrap(err, "failed to persist workflow")
			}
			o.afterPersist(ctx, wf, res.Workflow, ev)
		}

		// 副作用在快照已落盘之后执行，失败只会产生新事件
		o.executeEffects(ctx, res.Workflow, res.Effects)
		return nil
	}
	return errors.Wrapf(domain.ErrVersionConflict, "order %s: gave up after %d reloads", ev.OrderID, conflictReloadLimit)
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, ev domain.Event) (*domain.OrderWorkflow, error) {
	wf, err := o.repo.Get(ctx, ev.OrderID)
	if err == nil {
		return wf, nil
	}
	if !errors.Is(err, domain.ErrWorkflowNotFound) {
		return nil, err
	}
	if ev.Type != domain.EventPaymentConfirmed {
		return nil, err
	}
	// 首个 PaymentConfirmed 事件创建工作流
	wf, err = domain.NewOrderWorkflow(ev)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create workflow")
	}
	zlog.Ctx(ctx).Info().Str("order_id", ev.OrderID).Int("items", len(wf.Items)).
		Msg("workflow created")
	return wf, nil
}

func (o *Orchestrator) afterPersist(ctx context.Context, prev, cur *domain.OrderWorkflow, ev domain.Event) {
	transitionsTotal.WithLabelValues(string(prev.State), string(cur.State), string(ev.Type)).Inc()
	if cur.State == domain.StateManualIntervention && prev.State != domain.StateManualIntervention {
		escalationsTotal.WithLabelValues(string(ev.Type)).Inc()
	}

	// 审计与状态广播都是尽力而为，不影响主流程
	if o.audit != nil && len(cur.History) > 0 {
		entry := cur.History[len(cur.History)-1]
		if err := o.audit.Append(ctx, cur.OrderID, entry, cur.LastError); err != nil {
			zlog.Ctx(ctx).Error().Err(err).Str("order_id", cur.OrderID).Msg("failed to append audit trail")
		}
	}
	if o.status != nil && prev.State != cur.State {
		if err := o.status.PublishStatus(ctx, cur.OrderID, cur.State); err != nil {
			zlog.Ctx(ctx).Error().Err(err).Str("order_id", cur.OrderID).Msg("failed to publish status update")
		}
	}
}

func (o *Orchestrator) executeEffects(ctx context.Context, wf *domain.OrderWorkflow, effects []domain.Effect) {
	for _, eff := range effects {
		switch eff.Type {
		case domain.EffectSchedule:
			o.scheduleEvent(ctx, *eff.Event, eff.Delay)
		case domain.EffectNotify:
			o.sendNotification(ctx, wf, eff)
		case domain.EffectPlaceSupplierOrders:
			o.placeSupplierOrders(ctx, wf, eff.Suppliers)
		case domain.EffectCancelSupplierOrders:
			o.cancelSupplierOrders(ctx, wf, eff.Suppliers)
		case domain.EffectSyncSupplierStatus:
			o.syncSupplierStatus(ctx, wf)
		case domain.EffectFetchTracking:
			o.fetchTracking(ctx, wf)
		default:
			zlog.Ctx(ctx).Error().Str("effect", string(eff.Type)).Msg("unknown effect type ignored")
		}
	}
}

func (o *Orchestrator) scheduleEvent(ctx context.Context, ev domain.Event, delay time.Duration) {
	ev.ID = uuid.New().String()
	ev.OccurredAt = time.Now().UTC()
	if err := o.scheduler.Schedule(ctx, delay, ev); err != nil {
		// 预约失败靠恢复扫描兜底
		zlog.Ctx(ctx).Error().Err(err).Str("order_id", ev.OrderID).
			Str("event", string(ev.Type)).Dur("delay", delay).Msg("failed to schedule delayed event")
	}
}

func (o *Orchestrator) emit(ctx context.Context, ev domain.Event) {
	ev.ID = uuid.New().String()
	ev.OccurredAt = time.Now().UTC()
	if err := o.producer.Emit(ctx, ev); err != nil {
		zlog.Ctx(ctx).Error().Err(err).Str("order_id", ev.OrderID).
			Str("event", string(ev.Type)).Msg("failed to emit event")
	}
}

func (o *Orchestrator) sendNotification(ctx context.Context, wf *domain.OrderWorkflow, eff domain.Effect) {
	n := port.Notification{Kind: eff.Kind, OrderID: wf.OrderID, Payload: eff.Payload}
	if err := o.notifier.Send(ctx, n); err != nil {
		zlog.Ctx(ctx).Error().Err(err).Str("order_id", wf.OrderID).
			Str("kind", string(eff.Kind)).Msg("failed to send notification")
	}
}

// placeSupplierOrders 对每个供应商独立下单：部分成功部分失败时，
// 成功的以 PlaceOrderSucceeded 记录，失败的逐个产生 PlaceOrderFailed。
// 成功事件先发：串行通道先登记已拿到的子订单，再处理失败，
// 避免失败把快照带离 processing 后成功的子订单号丢失。
func (o *Orchestrator) placeSupplierOrders(ctx context.Context, wf *domain.OrderWorkflow, suppliers []string) {
	if len(suppliers) == 0 {
		suppliers = wf.PendingSuppliers()
	}
	var placements []domain.SupplierPlacement
	var failures []domain.Event

	for _, name := range suppliers {
		// 幂等防线：快照里已有子订单就不再调用
		if _, ok := wf.SupplierOrders[name]; ok {
			continue
		}
		gw, ok := o.suppliers.Gateway(name)
		if !ok {
			failures = append(failures, domain.Event{
				Type: domain.EventPlaceOrderFailed, OrderID: wf.OrderID,
				SupplierName: name, Reason: "no gateway configured for supplier " + name,
				Transient: false,
			})
			continue
		}

		placement, err := o.callPlaceOrder(ctx, gw, wf, name)
		if err != nil {
			se := domain.AsSupplierError(name, err)
			failures = append(failures, domain.Event{
				Type: domain.EventPlaceOrderFailed, OrderID: wf.OrderID,
				SupplierName: name, Reason: se.Message, Transient: se.Transient,
			})
			continue
		}
		placements = append(placements, domain.SupplierPlacement{
			SupplierName:      name,
			SupplierOrderID:   placement.SupplierOrderID,
			EstimatedDelivery: placement.EstimatedDelivery,
		})
	}

	if len(placements) > 0 {
		o.emit(ctx, domain.Event{
			Type: domain.EventPlaceOrderSucceeded, OrderID: wf.OrderID,
			Placements: placements,
		})
	}
	for _, fail := range failures {
		o.emit(ctx, fail)
	}
}

func (o *Orchestrator) callPlaceOrder(ctx context.Context, gw port.SupplierGateway, wf *domain.OrderWorkflow, name string) (*port.Placement, error) {
	if err := o.limiter.Acquire(ctx, name); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	placement, err := gw.PlaceOrder(callCtx, port.PlaceOrderRequest{
		IdempotencyToken: wf.OrderID + ":" + name,
		Items:            wf.ItemsFor(name),
		ShippingAddress:  wf.ShippingAddress,
	})
	o.limiter.Release(name, err == nil || !domain.AsSupplierError(name, err).Transient)
	return placement, err
}

func (o *Orchestrator) cancelSupplierOrders(ctx context.Context, wf *domain.OrderWorkflow, suppliers []string) {
	for _, name := range suppliers {
		so, ok := wf.SupplierOrders[name]
		if !ok || so.Status == domain.SupplierOrderCancelled {
			continue
		}
		gw, ok := o.suppliers.Gateway(name)
		if !ok {
			zlog.Ctx(ctx).Error().Str("order_id", wf.OrderID).Str("supplier", name).
				Msg("cannot cancel: no gateway configured")
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		err := gw.CancelOrder(callCtx, so.SupplierOrderID)
		cancel()
		if err != nil {
			// 取消失败不阻塞退款流程，留给人工对账
			zlog.Ctx(ctx).Error().Err(err).Str("order_id", wf.OrderID).Str("supplier", name).
				Msg("failed to cancel supplier order")
		}
	}
}

// syncSupplierStatus 轮询尚未确认/尚无运单号的子订单，
// 把进展转译成 SupplierConfirmed / TrackingReceived 事件。
func (o *Orchestrator) syncSupplierStatus(ctx context.Context, wf *domain.OrderWorkflow) {
	for name, so := range wf.SupplierOrders {
		if so.Status == domain.SupplierOrderShipped || so.Status == domain.SupplierOrderCancelled {
			continue
		}
		gw, ok := o.suppliers.Gateway(name)
		if !ok {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		status, err := gw.GetOrderStatus(callCtx, so.SupplierOrderID)
		cancel()
		if err != nil {
			// 下一轮同步会重试
			zlog.Ctx(ctx).Warn().Err(err).Str("order_id", wf.OrderID).Str("supplier", name).
				Msg("supplier status sync failed")
			continue
		}

		if so.Status == domain.SupplierOrderPlaced && status.Status != domain.SupplierOrderPlaced {
			o.emit(ctx, domain.Event{
				Type: domain.EventSupplierConfirmed, OrderID: wf.OrderID,
				SupplierName: name, SupplierOrderID: so.SupplierOrderID,
			})
		}
		if status.TrackingNumber != "" && so.TrackingNumber == "" {
			o.emit(ctx, domain.Event{
				Type: domain.EventTrackingReceived, OrderID: wf.OrderID,
				SupplierName:    name,
				TrackingNumber:  status.TrackingNumber,
				TrackingCarrier: status.TrackingCarrier,
			})
		}
	}
}

// fetchTracking 查询物流聚合商并把结果转译为事件。
// 查询失败或状态未知都只是顺延到下一轮，绝不升级为错误。
func (o *Orchestrator) fetchTracking(ctx context.Context, wf *domain.OrderWorkflow) {
	number, carrier := trackedShipment(wf)
	if number == "" {
		o.emit(ctx, domain.Event{
			Type: domain.EventTrackingFetchFailed, OrderID: wf.OrderID,
			ExpectedState: wf.State,
		})
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	info, err := o.tracking.FetchTracking(callCtx, number, carrier)
	cancel()
	if err != nil || info == nil || info.Status == domain.TrackingStatusUnknown {
		if err != nil {
			zlog.Ctx(ctx).Warn().Err(err).Str("order_id", wf.OrderID).
				Str("tracking_number", number).Msg("tracking lookup failed, will retry")
		}
		o.emit(ctx, domain.Event{
			Type: domain.EventTrackingFetchFailed, OrderID: wf.OrderID,
			ExpectedState: wf.State,
		})
		return
	}

	if info.Status == domain.TrackingStatusDelivered {
		o.emit(ctx, domain.Event{Type: domain.EventDelivered, OrderID: wf.OrderID})
		return
	}
	o.emit(ctx, domain.Event{
		Type: domain.EventTrackingUpdate, OrderID: wf.OrderID,
		TrackingStatus: info.Status,
	})
}

// trackedShipment 返回快照中第一个有运单号的子订单。
func trackedShipment(wf *domain.OrderWorkflow) (number, carrier string) {
	for _, name := range wf.Suppliers() {
		if so, ok := wf.SupplierOrders[name]; ok && so.TrackingNumber != "" {
			return so.TrackingNumber, so.TrackingCarrier
		}
	}
	return "", ""
}
