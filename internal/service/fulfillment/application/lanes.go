// internal/service/fulfillment/application/lanes.go
package application

import "sync"

// laneRegistry 为每个订单维护一条串行通道（进程内互斥锁）。
// 注册表本身不持有权威状态，只做在途路由，进程重启不丢任何东西。
type laneRegistry struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	mu   sync.Mutex
	refs int
}

func newLaneRegistry() *laneRegistry {
	return &laneRegistry{lanes: make(map[string]*lane)}
}

// Acquire 锁住某个订单的串行通道；同一订单的事件被严格串行化，
// 不同订单完全并行。返回释放函数。
func (r *laneRegistry) Acquire(orderID string) func() {
	r.mu.Lock()
	l, ok := r.lanes[orderID]
	if !ok {
		l = &lane{}
		r.lanes[orderID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.lanes, orderID)
		}
		r.mu.Unlock()
	}
}
