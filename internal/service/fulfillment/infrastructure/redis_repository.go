// internal/service/fulfillment/infrastructure/redis_repository.go
package infrastructure

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"dropflow/internal/pkg/redis"
	"dropflow/internal/service/fulfillment/domain"
)

const (
	workflowKeyPrefix = "fulfillment:workflow:"
	casScriptName     = "workflow_cas_save"

	// CAS 保存：版本不匹配返回 -1，匹配则写入并返回新版本。
	// 新建时调用方传 version=0，键不存在视为版本 0。
	casScript = `
local cur = redis.call('HGET', KEYS[1], 'version')
if not cur then cur = '0' end
if cur ~= ARGV[1] then
  return -1
end
local next = tonumber(ARGV[1]) + 1
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'version', next)
return next
`
)

// RedisWorkflowRepository 把工作流快照存为 Redis Hash：
// data 字段是 JSON 快照，version 字段是乐观并发版本号。
// 两个字段的一致性由 Lua 脚本的原子性保证。
type RedisWorkflowRepository struct {
	client *redis.Client
}

func NewRedisWorkflowRepository(client *redis.Client) (*RedisWorkflowRepository, error) {
	if err := client.LoadScriptFromContent(casScriptName, casScript); err != nil {
		return nil, errors.Wrap(err, "failed to load cas script")
	}
	return &RedisWorkflowRepository{client: client}, nil
}

func workflowKey(orderID string) string {
	return workflowKeyPrefix + orderID
}

func (r *RedisWorkflowRepository) Get(ctx context.Context, orderID string) (*domain.OrderWorkflow, error) {
	vals, err := r.client.GetClient().HMGet(ctx, workflowKey(orderID), "data", "version").Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load workflow %s", orderID)
	}
	if vals[0] == nil {
		return nil, domain.ErrWorkflowNotFound
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, errors.Errorf("workflow %s: unexpected snapshot type", orderID)
	}

	var wf domain.OrderWorkflow
	if err := json.Unmarshal([]byte(data), &wf); err != nil {
		return nil, errors.Wrapf(err, "failed to decode workflow %s", orderID)
	}
	if vals[1] != nil {
		if v, ok := vals[1].(string); ok {
			wf.Version, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	return &wf, nil
}

func (r *RedisWorkflowRepository) Save(ctx context.Context, wf *domain.OrderWorkflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return errors.Wrapf(err, "failed to encode workflow %s", wf.OrderID)
	}

	res, err := r.client.RunScript(ctx, casScriptName, []string{workflowKey(wf.OrderID)}, wf.Version, string(data))
	if err != nil {
		return errors.Wrapf(err, "failed to save workflow %s", wf.OrderID)
	}
	next, ok := res.(int64)
	if !ok {
		return errors.Errorf("workflow %s: unexpected cas result %v", wf.OrderID, res)
	}
	if next == -1 {
		return domain.ErrVersionConflict
	}
	wf.Version = next
	return nil
}

// ScanActive 用 SCAN 遍历全部快照，跳过终态。恢复扫描是低频操作，
// 全量遍历可以接受；键的数量随终态快照的过期而收敛。
func (r *RedisWorkflowRepository) ScanActive(ctx context.Context, fn func(wf *domain.OrderWorkflow) error) error {
	rdb := r.client.GetClient()
	iter := rdb.Scan(ctx, 0, workflowKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		orderID := key[len(workflowKeyPrefix):]
		wf, err := r.Get(ctx, orderID)
		if err != nil {
			if errors.Is(err, domain.ErrWorkflowNotFound) {
				continue
			}
			zlog.Ctx(ctx).Error().Err(err).Str("key", key).Msg("skipping undecodable workflow snapshot")
			continue
		}
		if wf.State.Terminal() {
			continue
		}
		if err := fn(wf); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return errors.Wrap(err, "workflow scan failed")
	}
	return nil
}
