// cmd/delay-scheduler/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

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
)

const (
	serviceName  = "delay-scheduler"
	pollInterval = time.Second
)

// levelPoller 轮询一个延迟分级主题。分区内消息按写入时间有序，
// 队头未到期则整个分区都未到期，所以每次 tick 只需从队头检查。
type levelPoller struct {
	level  mq.DelayLevel
	reader *kafka.Reader
	tracer trace.Tracer

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	brokers []string
}

func newLevelPoller(brokers []string, level mq.DelayLevel, tracer trace.Tracer) *levelPoller {
	return &levelPoller{
		level:   level,
		reader:  mq.NewKafkaReader(brokers, level.Topic, serviceName+"-"+level.Topic),
		tracer:  tracer,
		writers: make(map[string]*kafka.Writer),
		brokers: brokers,
	}
}

func (p *levelPoller) run(ctx context.Context) {
	zlog.Info().Str("topic", p.level.Topic).Dur("delay", p.level.Delay).Msg("delay level poller started")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	defer p.reader.Close()
	defer p.closeWriters()

	for {
		select {
		case <-ticker.C:
			p.drainDue(ctx)
		case <-ctx.Done():
			zlog.Info().Str("topic", p.level.Topic).Msg("delay level poller stopped")
			return
		}
	}
}

// drainDue 连续转投所有已到期的队头消息，碰到未到期的就停。
func (p *levelPoller) drainDue(parentCtx context.Context) {
	for {
		fetchCtx, cancel := context.WithTimeout(parentCtx, 500*time.Millisecond)
		msg, err := p.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			// 没有新消息或上下文取消，等下一次 tick
			return
		}

		msgCtx := mq.ExtractTraceContext(parentCtx, msg.Headers)
		msgCtx, span := p.tracer.Start(msgCtx, "delay.publishDue", trace.WithAttributes(
			attribute.String("delay.topic", p.level.Topic),
		))

		if due := p.deliverAt(msg); time.Now().UTC().Before(due) {
			span.AddEvent("HeadMessageNotDue")
			span.End()
			return
		}

		realTopic := mq.Header(msg.Headers, mq.HeaderRealTopic)
		if realTopic == "" {
			// 缺头的消息提交掉，否则会永远堵住分区
			zlog.Error().Str("topic", p.level.Topic).Str("key", string(msg.Key)).
				Msg("delayed message missing real-topic header, dropping")
			if err := p.reader.CommitMessages(msgCtx, msg); err != nil {
				zlog.Error().Err(err).Msg("failed to commit dropped message")
			}
			span.End()
			continue
		}

		if err := p.publish(msgCtx, realTopic, msg); err != nil {
			// 转投失败不提交位点，下一次 tick 重试
			zlog.Error().Err(err).Str("real_topic", realTopic).Msg("failed to republish due message")
			span.RecordError(err)
			span.SetStatus(codes.Error, "republish failed")
			span.End()
			return
		}
		if err := p.reader.CommitMessages(msgCtx, msg); err != nil {
			zlog.Error().Err(err).Str("topic", p.level.Topic).Msg("failed to commit republished message")
			span.RecordError(err)
			span.End()
			return
		}
		span.AddEvent("MessageRepublished", trace.WithAttributes(attribute.String("real.topic", realTopic)))
		span.End()
	}
}

// deliverAt 优先用 deliver-at 头，缺失时退化为写入时间加分级延迟。
func (p *levelPoller) deliverAt(msg kafka.Message) time.Time {
	if v := mq.Header(msg.Headers, mq.HeaderDeliverAt); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return msg.Time.Add(p.level.Delay)
}

func (p *levelPoller) publish(ctx context.Context, realTopic string, msg kafka.Message) error {
	p.mu.Lock()
	w, ok := p.writers[realTopic]
	if !ok {
		w = mq.NewKafkaWriter(p.brokers, realTopic)
		p.writers[realTopic] = w
	}
	p.mu.Unlock()

	out := kafka.Message{Key: msg.Key, Value: msg.Value}
	mq.InjectTraceContext(ctx, &out.Headers)
	return w.WriteMessages(ctx, out)
}

func (p *levelPoller) closeWriters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			zlog.Error().Err(err).Str("topic", topic).Msg("failed to close writer")
		}
	}
}

func main() {
	bootstrap.Init()
	logger.Init(serviceName)
	cfg := bootstrap.GetCurrentConfig()

	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}
	defer tp.Shutdown(context.Background())
	tracer := otel.Tracer(serviceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, level := range mq.DelayLevels() {
		wg.Add(1)
		poller := newLevelPoller(cfg.Infra.Kafka.Brokers, level, tracer)
		go func() {
			defer wg.Done()
			poller.run(ctx)
		}()
	}
	zlog.Info().Int("levels", len(mq.DelayLevels())).Msg("delay scheduler running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()
	wg.Wait()
}
