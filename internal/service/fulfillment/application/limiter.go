// internal/service/fulfillment/application/limiter.go
package application

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const defaultMaxInflight = 4

// SupplierLimiter 按供应商名限制在途调用数，并在连续瞬时失败后
// 施加指数退避冷却，保护第三方接口的限流配额。
// 这是跨订单共享的资源，不属于任何单个工作流。
type SupplierLimiter struct {
	mu       sync.Mutex
	sems     map[string]*semaphore.Weighted
	caps     map[string]int64
	cooldown map[string]cooldownState
	backoff  time.Duration
}

type cooldownState struct {
	until    time.Time
	failures int
}

func NewSupplierLimiter(caps map[string]int64, backoffBase time.Duration) *SupplierLimiter {
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	return &SupplierLimiter{
		sems:     make(map[string]*semaphore.Weighted),
		caps:     caps,
		cooldown: make(map[string]cooldownState),
		backoff:  backoffBase,
	}
}

func (l *SupplierLimiter) sem(name string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[name]
	if !ok {
		capacity := int64(defaultMaxInflight)
		if c, ok := l.caps[name]; ok && c > 0 {
			capacity = c
		}
		s = semaphore.NewWeighted(capacity)
		l.sems[name] = s
	}
	return s
}

// Acquire 占用一个调用名额；若该供应商处于冷却期则先等待冷却结束。
func (l *SupplierLimiter) Acquire(ctx context.Context, name string) error {
	l.mu.Lock()
	wait := time.Until(l.cooldown[name].until)
	l.mu.Unlock()
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return l.sem(name).Acquire(ctx, 1)
}

// Release 归还名额；ok 报告本次调用是否为瞬时失败之外的结果。
func (l *SupplierLimiter) Release(name string, ok bool) {
	l.sem(name).Release(1)

	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.cooldown[name]
	if ok {
		delete(l.cooldown, name)
		return
	}
	state.failures++
	state.until = time.Now().Add(l.backoff << uint(min(state.failures-1, 6)))
	l.cooldown[name] = state
}
