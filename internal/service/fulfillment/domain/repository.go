// internal/service/fulfillment/domain/repository.go
package domain

import "context"

// WorkflowRepository 定义了工作流快照的持久化接口。
// 位于领域层，由基础设施层（Redis）实现。
type WorkflowRepository interface {
	// Get 加载一个快照；不存在时返回 ErrWorkflowNotFound。
	Get(ctx context.Context, orderID string) (*OrderWorkflow, error)

	// Save 以乐观并发方式保存：wf.Version 必须等于存储中的当前版本，
	// 否则返回 ErrVersionConflict。成功后 wf.Version 递增。
	Save(ctx context.Context, wf *OrderWorkflow) error

	// ScanActive 遍历所有非终态的工作流，用于进程启动时的恢复扫描。
	ScanActive(ctx context.Context, fn func(wf *OrderWorkflow) error) error
}

// AuditTrail 把每次已应用的事件镜像到只追加的审计存储（MySQL）。
// 写失败不影响主流程。
type AuditTrail interface {
	Append(ctx context.Context, orderID string, entry HistoryEntry, lastError string) error
}
