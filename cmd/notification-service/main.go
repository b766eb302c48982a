// cmd/notification-service/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	zlog "github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dropflow/internal/pkg/bootstrap"
	"dropflow/internal/pkg/logger"
	"dropflow/internal/pkg/mq"
	"dropflow/internal/pkg/tracing"
	"dropflow/internal/service/fulfillment/domain"
	"dropflow/internal/service/fulfillment/domain/port"
)

const (
	serviceName   = "notification-service"
	consumerGroup = "notification-dispatcher"
)

var tracer trace.Tracer

func main() {
	bootstrap.Init()
	logger.Init(serviceName)
	cfg := bootstrap.GetCurrentConfig()

	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}
	defer tp.Shutdown(context.Background())
	tracer = otel.Tracer(serviceName)

	reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, mq.TopicNotifications, consumerGroup)
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	zlog.Info().Str("topic", mq.TopicNotifications).Msg("notification dispatcher started")
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zlog.Error().Err(err).Msg("failed to fetch notification message")
			continue
		}
		dispatch(ctx, msg)
		if err := reader.CommitMessages(ctx, msg); err != nil {
			zlog.Error().Err(err).Msg("failed to commit offset")
		}
	}
}

func dispatch(ctx context.Context, msg kafka.Message) {
	msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
	msgCtx, span := tracer.Start(msgCtx, "notification.Dispatch", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	msgCtx = logger.WithTrace(msgCtx)

	var n port.Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		zlog.Ctx(msgCtx).Error().Err(err).Msg("dropping undecodable notification")
		span.RecordError(err)
		span.SetStatus(codes.Error, "undecodable notification")
		return
	}
	span.SetAttributes(
		attribute.String("order.id", n.OrderID),
		attribute.String("notification.kind", string(n.Kind)),
	)

	// 实际投递渠道（邮件/站内信）在下游网关，这里完成模板渲染
	zlog.Ctx(msgCtx).Info().
		Str("order_id", n.OrderID).
		Str("kind", string(n.Kind)).
		Str("message", render(n)).
		Msg("notification dispatched")
}

// render 把抽象通知渲染成面向买家的文案。
func render(n port.Notification) string {
	switch n.Kind {
	case domain.NotifyOrderShipped:
		return fmt.Sprintf("Your order %s has shipped. Tracking: %s (%s)",
			n.OrderID, n.Payload["trackingNumber"], n.Payload["trackingCarrier"])
	case domain.NotifyOrderOutForDelivery:
		return fmt.Sprintf("Your order %s is out for delivery.", n.OrderID)
	case domain.NotifyOrderDelivered:
		return fmt.Sprintf("Your order %s has been delivered. Enjoy!", n.OrderID)
	case domain.NotifyOrderCancelled:
		return fmt.Sprintf("Your order %s has been cancelled.", n.OrderID)
	case domain.NotifyRefundIssued:
		return fmt.Sprintf("A refund for order %s has been issued.", n.OrderID)
	case domain.NotifyManualIntervention:
		return fmt.Sprintf("Order %s needs attention: %s", n.OrderID, n.Payload["reason"])
	default:
		return fmt.Sprintf("Update for order %s", n.OrderID)
	}
}
