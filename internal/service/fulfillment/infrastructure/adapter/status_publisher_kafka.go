// internal/service/fulfillment/infrastructure/adapter/status_publisher_kafka.go
package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"dropflow/internal/pkg/mq"
	"dropflow/internal/service/fulfillment/domain"
)

// StatusUpdate 是状态广播主题上的消息体。
type StatusUpdate struct {
	OrderID   string       `json:"orderId"`
	State     domain.State `json:"state"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// KafkaStatusPublisher 把状态变化广播给推送网关等订阅方。
type KafkaStatusPublisher struct {
	writer *kafka.Writer
}

func NewKafkaStatusPublisher(brokers []string) *KafkaStatusPublisher {
	return &KafkaStatusPublisher{
		writer: mq.NewKafkaWriter(brokers, mq.TopicOrderStatus),
	}
}

func (p *KafkaStatusPublisher) PublishStatus(ctx context.Context, orderID string, state domain.State) error {
	payload, err := json.Marshal(StatusUpdate{
		OrderID:   orderID,
		State:     state,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode status update")
	}
	if err := mq.ProduceMessage(ctx, p.writer, []byte(orderID), payload); err != nil {
		return errors.Wrapf(err, "failed to publish status for order %s", orderID)
	}
	return nil
}

func (p *KafkaStatusPublisher) Close() error {
	return p.writer.Close()
}
