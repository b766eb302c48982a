// internal/pkg/session/manager.go
package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	watcherKeyPrefix = "gateway:watcher:"
	sessionTTL       = 5 * time.Minute
)

// Manager 在 Redis 中登记 WebSocket 会话归属的网关节点，
// 多网关节点部署时路由方据此定位订阅者。
type Manager struct {
	rdb *redis.Client
}

func NewManager(addr, password string, db int) *Manager {
	return &Manager{
		rdb: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
	}
}

// Register 登记某个观察者连接落在哪个网关节点，带 TTL，由心跳续期。
func (m *Manager) Register(ctx context.Context, watcherID, nodeID string) error {
	return m.rdb.Set(ctx, watcherKeyPrefix+watcherID, nodeID, sessionTTL).Err()
}

// Refresh 心跳续期。
func (m *Manager) Refresh(ctx context.Context, watcherID string) error {
	return m.rdb.Expire(ctx, watcherKeyPrefix+watcherID, sessionTTL).Err()
}

// Remove 连接断开时清除登记。
func (m *Manager) Remove(ctx context.Context, watcherID string) error {
	return m.rdb.Del(ctx, watcherKeyPrefix+watcherID).Err()
}

// NodeOf 查询观察者所在节点，未登记返回空串。
func (m *Manager) NodeOf(ctx context.Context, watcherID string) (string, error) {
	node, err := m.rdb.Get(ctx, watcherKeyPrefix+watcherID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return node, err
}

func (m *Manager) Close() error {
	return m.rdb.Close()
}
