// internal/service/fulfillment/infrastructure/adapter/delay_scheduler_kafka.go
package adapter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"dropflow/internal/pkg/mq"
	"dropflow/internal/service/fulfillment/domain"
)

// KafkaDelayScheduler 把延迟事件写进分级延迟主题，
// 由独立的 delay-scheduler 进程在到期后转投事件主题。
type KafkaDelayScheduler struct {
	brokers []string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewKafkaDelayScheduler(brokers []string) *KafkaDelayScheduler {
	return &KafkaDelayScheduler{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

func (s *KafkaDelayScheduler) writer(topic string) *kafka.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.writers[topic]
	if !ok {
		w = mq.NewKafkaWriter(s.brokers, topic)
		s.writers[topic] = w
	}
	return w
}

func (s *KafkaDelayScheduler) Schedule(ctx context.Context, delay time.Duration, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "failed to encode delayed event")
	}

	msg := kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: mq.HeaderRealTopic, Value: []byte(mq.TopicFulfillmentEvents)},
			{Key: mq.HeaderDeliverAt, Value: []byte(time.Now().UTC().Add(delay).Format(time.RFC3339))},
		},
	}
	mq.InjectTraceContext(ctx, &msg.Headers)

	topic := mq.PickDelayTopic(delay)
	if err := s.writer(topic).WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "failed to schedule %s for order %s on %s", ev.Type, ev.OrderID, topic)
	}
	return nil
}

func (s *KafkaDelayScheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, w := range s.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
