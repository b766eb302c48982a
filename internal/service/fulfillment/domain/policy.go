// internal/service/fulfillment/domain/policy.go
package domain

import "time"

// Policy 收敛所有可调的时限与重试参数。
// 这些值是配置而非业务不变量，来自 bootstrap 配置。
type Policy struct {
	MaxRetries           int           // 转人工前允许的瞬时失败次数
	ProcessingDelay      time.Duration // payment_confirmed -> processing 的自动推进延迟
	ConfirmationTimeout  time.Duration // 下单后等待供应商确认的时限
	SupplierSyncInterval time.Duration // 轮询供应商订单状态的间隔
	TrackingPollInterval time.Duration // 轮询物流状态的间隔
	RetryBackoffBase     time.Duration // 重试退避基数，按 2^n 递增
}

// DefaultPolicy 返回规格缺省值。
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:           3,
		ProcessingDelay:      60 * time.Second,
		ConfirmationTimeout:  24 * time.Hour,
		SupplierSyncInterval: time.Hour,
		TrackingPollInterval: 6 * time.Hour,
		RetryBackoffBase:     30 * time.Second,
	}
}

// RetryBackoff 第 n 次（从 1 数起）重试前的等待时长。
func (p Policy) RetryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.RetryBackoffBase << uint(attempt-1)
}
