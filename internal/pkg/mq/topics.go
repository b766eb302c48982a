// internal/pkg/mq/topics.go
package mq

import "time"

const (
	// TopicFulfillmentEvents 是编排引擎的统一事件入口主题。
	TopicFulfillmentEvents = "fulfillment-events"
	// TopicNotifications 承载抽象通知请求，由通知服务渲染分发。
	TopicNotifications = "notifications"
	// TopicOrderStatus 广播工作流状态变化，推送网关订阅。
	TopicOrderStatus = "order-status-updates"

	// 延迟队列分级主题：消息先进延迟主题，由 delay-scheduler
	// 轮询到期后按 real-topic 头转投真实主题。
	TopicDelay60s = "delay_topic_60s"
	TopicDelay6h  = "delay_topic_6h"
	TopicDelay24h = "delay_topic_24h"

	// HeaderRealTopic 记录延迟消息到期后的目标主题。
	HeaderRealTopic = "real-topic"
	// HeaderDeliverAt 记录消息的应投递时刻（RFC3339）。
	HeaderDeliverAt = "deliver-at"
)

// DelayLevel 描述一个延迟分级。
type DelayLevel struct {
	Topic string
	Delay time.Duration
}

// DelayLevels 按延迟升序排列的全部分级。
func DelayLevels() []DelayLevel {
	return []DelayLevel{
		{Topic: TopicDelay60s, Delay: 60 * time.Second},
		{Topic: TopicDelay6h, Delay: 6 * time.Hour},
		{Topic: TopicDelay24h, Delay: 24 * time.Hour},
	}
}

// PickDelayTopic 选择能容纳 delay 的最小分级；超出最大分级时用最大分级，
// 剩余延迟由 deliver-at 头在调度器侧兜底。
func PickDelayTopic(delay time.Duration) string {
	levels := DelayLevels()
	for _, lv := range levels {
		if delay <= lv.Delay {
			return lv.Topic
		}
	}
	return levels[len(levels)-1].Topic
}
