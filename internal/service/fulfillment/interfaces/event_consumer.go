// internal/service/fulfillment/interfaces/event_consumer.go
package interfaces

import (
	"context"
	"encoding/json"

	zlog "github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"dropflow/internal/pkg/logger"
	"dropflow/internal/pkg/mq"
	"dropflow/internal/service/fulfillment/application"
	"dropflow/internal/service/fulfillment/domain"
)

const consumerGroup = "fulfillment-orchestrator"

// EventConsumer 消费履约事件主题，把消息喂给编排器。
// 手动提交位点实现 at-least-once；重复投递由事件守卫吸收。
type EventConsumer struct {
	reader       *kafka.Reader
	orchestrator *application.Orchestrator
	tracer       trace.Tracer
}

func NewEventConsumer(brokers []string, orchestrator *application.Orchestrator, tracer trace.Tracer) *EventConsumer {
	return &EventConsumer{
		reader:       mq.NewKafkaReader(brokers, mq.TopicFulfillmentEvents, consumerGroup),
		orchestrator: orchestrator,
		tracer:       tracer,
	}
}

// Run 阻塞消费直到 ctx 取消。
func (c *EventConsumer) Run(ctx context.Context) error {
	zlog.Info().Str("topic", mq.TopicFulfillmentEvents).Str("group", consumerGroup).
		Msg("event consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			zlog.Error().Err(err).Msg("failed to fetch message")
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			zlog.Error().Err(err).Msg("failed to commit offset")
		}
	}
}

func (c *EventConsumer) handle(ctx context.Context, msg kafka.Message) {
	msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "consume fulfillment-event")
	defer span.End()
	msgCtx = logger.WithTrace(msgCtx)

	var ev domain.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		// 解不开的消息提交掉，避免卡死分区
		zlog.Ctx(msgCtx).Error().Err(err).Str("key", string(msg.Key)).
			Msg("dropping undecodable event message")
		return
	}

	if err := c.orchestrator.HandleEvent(msgCtx, ev); err != nil {
		// 处理失败也提交位点：快照未变，恢复扫描会重新布防定时器
		zlog.Ctx(msgCtx).Error().Err(err).Str("order_id", ev.OrderID).
			Str("event", string(ev.Type)).Msg("event processing failed")
	}
}

func (c *EventConsumer) Close() error {
	return c.reader.Close()
}
