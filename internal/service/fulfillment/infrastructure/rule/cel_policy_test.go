// internal/service/fulfillment/infrastructure/rule/cel_policy_test.go
package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropflow/internal/service/fulfillment/domain/port"
)

func TestDefaultRuleTreats4xxAsRejection(t *testing.T) {
	p, err := NewCELEscalationPolicy("")
	require.NoError(t, err)

	rejected, err := p.IsRejection(port.SupplierFailure{HTTPStatus: 400})
	require.NoError(t, err)
	assert.True(t, rejected)

	rejected, err = p.IsRejection(port.SupplierFailure{HTTPStatus: 429})
	require.NoError(t, err)
	assert.False(t, rejected, "rate limiting is retryable")

	rejected, err = p.IsRejection(port.SupplierFailure{HTTPStatus: 503})
	require.NoError(t, err)
	assert.False(t, rejected)
}

func TestCustomRulePerSupplier(t *testing.T) {
	p, err := NewCELEscalationPolicy(`supplier == "cj" && code == "out_of_stock"`)
	require.NoError(t, err)

	rejected, err := p.IsRejection(port.SupplierFailure{Supplier: "cj", Code: "out_of_stock"})
	require.NoError(t, err)
	assert.True(t, rejected)

	rejected, err = p.IsRejection(port.SupplierFailure{Supplier: "aliexpress", Code: "out_of_stock"})
	require.NoError(t, err)
	assert.False(t, rejected)
}

func TestInvalidRulesAreRejectedAtCompileTime(t *testing.T) {
	_, err := NewCELEscalationPolicy(`httpStatus +`)
	assert.Error(t, err)

	_, err = NewCELEscalationPolicy(`message`) // 字符串，不是布尔
	assert.Error(t, err)
}
