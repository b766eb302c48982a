// internal/service/fulfillment/domain/port/policy.go
package port

// SupplierFailure 是升级策略的输入事实。
type SupplierFailure struct {
	Supplier   string `json:"supplier"`
	Code       string `json:"code"`
	HTTPStatus int    `json:"httpStatus"`
	Message    string `json:"message"`
}

// EscalationPolicy 判定一次供应商失败是否为业务性拒绝（不可重试）。
// 规则可配置，实现基于表达式引擎。
type EscalationPolicy interface {
	IsRejection(failure SupplierFailure) (bool, error)
}
