// internal/service/fulfillment/infrastructure/rule/cel_policy.go
package rule

import (
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"dropflow/internal/service/fulfillment/domain/port"
)

// DefaultRejectionRule 是未配置规则时的兜底：4xx（除限流）视为业务拒绝。
const DefaultRejectionRule = `httpStatus >= 400 && httpStatus < 500 && httpStatus != 429`

// CELEscalationPolicy 用 CEL 表达式判定供应商失败是否为业务性拒绝。
// 规则随配置下发，运营可以在不发版的情况下调整升级口径，
// 例如把某供应商的特定错误码列为可重试。
type CELEscalationPolicy struct {
	program cel.Program
}

func NewCELEscalationPolicy(expr string) (*CELEscalationPolicy, error) {
	if expr == "" {
		expr = DefaultRejectionRule
	}
	env, err := cel.NewEnv(
		cel.Variable("supplier", cel.StringType),
		cel.Variable("code", cel.StringType),
		cel.Variable("httpStatus", cel.IntType),
		cel.Variable("message", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cel env")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "invalid escalation rule %q", expr)
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.Errorf("escalation rule %q must evaluate to bool", expr)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build cel program")
	}
	return &CELEscalationPolicy{program: prg}, nil
}

func (p *CELEscalationPolicy) IsRejection(f port.SupplierFailure) (bool, error) {
	out, _, err := p.program.Eval(map[string]interface{}{
		"supplier":   f.Supplier,
		"code":       f.Code,
		"httpStatus": f.HTTPStatus,
		"message":    f.Message,
	})
	if err != nil {
		return false, errors.Wrap(err, "escalation rule evaluation failed")
	}
	rejected, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("escalation rule returned non-bool %v", out.Value())
	}
	return rejected, nil
}
