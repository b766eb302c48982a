// internal/service/fulfillment/domain/errors.go
package domain

import "github.com/pkg/errors"

var (
	// ErrInvalidTransition 当前状态不接受该事件。编排器记录日志并丢弃事件，快照不受影响。
	ErrInvalidTransition = errors.New("invalid transition requested")

	// ErrDuplicateEvent 事件已经应用过（队列重复投递），静默丢弃。
	ErrDuplicateEvent = errors.New("event already applied")

	// ErrRetryExhausted 重试次数用尽，工作流转入人工介入。
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrWorkflowNotFound 状态存储中没有该订单的快照。
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrVersionConflict 乐观并发冲突：存储中的版本已被其他 worker 更新，需要重新加载后重放。
	ErrVersionConflict = errors.New("workflow version conflict")
)

// SupplierError 是供应商调用失败的统一载体。
// Transient 为 true 表示网络/超时类故障，可重试；否则为业务性拒绝，直接转人工。
type SupplierError struct {
	Supplier  string
	Code      string
	Message   string
	Transient bool
}

func (e *SupplierError) Error() string {
	kind := "rejected"
	if e.Transient {
		kind = "transient"
	}
	return "supplier " + e.Supplier + " " + kind + " error [" + e.Code + "]: " + e.Message
}

// AsSupplierError 解包任意错误中的 *SupplierError；
// 不是供应商错误时按 Transient 处理（网络层面的未知失败默认可重试）。
func AsSupplierError(supplier string, err error) *SupplierError {
	var se *SupplierError
	if errors.As(err, &se) {
		return se
	}
	return &SupplierError{
		Supplier:  supplier,
		Code:      "UNKNOWN",
		Message:   err.Error(),
		Transient: true,
	}
}
