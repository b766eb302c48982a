// internal/service/fulfillment/infrastructure/adapter/event_producer_kafka.go
package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"dropflow/internal/pkg/mq"
	"dropflow/internal/service/fulfillment/domain"
)

// KafkaEventProducer 把事件写入履约事件主题。
// 消息 Key 是 orderId，保证同一订单的事件落在同一分区。
type KafkaEventProducer struct {
	writer *kafka.Writer
}

func NewKafkaEventProducer(brokers []string) *KafkaEventProducer {
	return &KafkaEventProducer{
		writer: mq.NewKafkaWriter(brokers, mq.TopicFulfillmentEvents),
	}
}

func (p *KafkaEventProducer) Emit(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}
	if err := mq.ProduceMessage(ctx, p.writer, []byte(ev.OrderID), payload); err != nil {
		return errors.Wrapf(err, "failed to produce event %s for order %s", ev.Type, ev.OrderID)
	}
	return nil
}

func (p *KafkaEventProducer) Close() error {
	return p.writer.Close()
}
