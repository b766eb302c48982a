// internal/service/fulfillment/interfaces/http_handler_test.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropflow/internal/service/fulfillment/domain"
)

type stubRepo struct {
	snapshots map[string]*domain.OrderWorkflow
}

func (r *stubRepo) Get(_ context.Context, orderID string) (*domain.OrderWorkflow, error) {
	wf, ok := r.snapshots[orderID]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	return wf, nil
}

func (r *stubRepo) Save(_ context.Context, _ *domain.OrderWorkflow) error { return nil }

func (r *stubRepo) ScanActive(_ context.Context, _ func(wf *domain.OrderWorkflow) error) error {
	return nil
}

type stubProducer struct {
	emitted []domain.Event
}

func (p *stubProducer) Emit(_ context.Context, ev domain.Event) error {
	p.emitted = append(p.emitted, ev)
	return nil
}

func newAdminMux(repo *stubRepo, producer *stubProducer) *http.ServeMux {
	mux := http.NewServeMux()
	NewAdminHandler(repo, nil, producer).Register(mux)
	return mux
}

func TestGetOrderNotFound(t *testing.T) {
	mux := newAdminMux(&stubRepo{snapshots: map[string]*domain.OrderWorkflow{}}, &stubProducer{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/ord-404", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryEmitsManualEventWithID(t *testing.T) {
	producer := &stubProducer{}
	mux := newAdminMux(&stubRepo{snapshots: map[string]*domain.OrderWorkflow{}}, producer)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/ord-1/retry", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, producer.emitted, 1)
	ev := producer.emitted[0]
	assert.Equal(t, domain.EventRetry, ev.Type)
	assert.Equal(t, "ord-1", ev.OrderID)
	assert.True(t, ev.Manual)
	// 队列重复投递时靠事件 ID 在历史里去重
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.OccurredAt.IsZero())

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "accepted", body["status"])
}

func TestCancelEmitsEventWithID(t *testing.T) {
	producer := &stubProducer{}
	mux := newAdminMux(&stubRepo{snapshots: map[string]*domain.OrderWorkflow{}}, producer)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/ord-2/cancel", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, producer.emitted, 1)
	assert.Equal(t, domain.EventCancelRequested, producer.emitted[0].Type)
	assert.NotEmpty(t, producer.emitted[0].ID)
}
