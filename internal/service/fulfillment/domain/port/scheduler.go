// internal/service/fulfillment/domain/port/scheduler.go
package port

import (
	"context"
	"time"

	"dropflow/internal/service/fulfillment/domain"
)

// DelayScheduler 在指定延迟后把事件投递回编排引擎的事件主题。
// 投递语义是 at-least-once：事件自身的守卫保证重复投递无害。
type DelayScheduler interface {
	Schedule(ctx context.Context, delay time.Duration, ev domain.Event) error
}

// EventProducer 立即把事件送入编排引擎的事件主题（串行通道入口）。
type EventProducer interface {
	Emit(ctx context.Context, ev domain.Event) error
}
