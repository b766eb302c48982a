// internal/service/fulfillment/infrastructure/adapter/notification_kafka.go
package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"dropflow/internal/pkg/mq"
	"dropflow/internal/service/fulfillment/domain/port"
)

// KafkaNotificationProducer 把抽象通知请求写上通知总线。
// 渠道选择与模板渲染在通知服务侧完成。
type KafkaNotificationProducer struct {
	writer *kafka.Writer
}

func NewKafkaNotificationProducer(brokers []string) *KafkaNotificationProducer {
	return &KafkaNotificationProducer{
		writer: mq.NewKafkaWriter(brokers, mq.TopicNotifications),
	}
}

func (p *KafkaNotificationProducer) Send(ctx context.Context, n port.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "failed to encode notification")
	}
	if err := mq.ProduceMessage(ctx, p.writer, []byte(n.OrderID), payload); err != nil {
		return errors.Wrapf(err, "failed to produce notification %s for order %s", n.Kind, n.OrderID)
	}
	return nil
}

func (p *KafkaNotificationProducer) Close() error {
	return p.writer.Close()
}
