// internal/service/fulfillment/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"

	"dropflow/internal/pkg/logger"
	"dropflow/internal/service/fulfillment/domain"
	"dropflow/internal/service/fulfillment/domain/port"
	"dropflow/internal/service/fulfillment/infrastructure"
)

// AdminHandler 暴露运维接口：查询工作流、人工重试、取消订单。
// 写操作不直接改状态，而是把事件送进串行通道，与队列消费走同一条路。
type AdminHandler struct {
	repo     domain.WorkflowRepository
	audit    *infrastructure.MySQLAuditTrail
	producer port.EventProducer
}

func NewAdminHandler(repo domain.WorkflowRepository, audit *infrastructure.MySQLAuditTrail, producer port.EventProducer) *AdminHandler {
	return &AdminHandler{repo: repo, audit: audit, producer: producer}
}

func (h *AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /orders/{id}", h.getOrder)
	mux.HandleFunc("GET /orders/{id}/history", h.getHistory)
	mux.HandleFunc("POST /orders/{id}/retry", h.retryOrder)
	mux.HandleFunc("POST /orders/{id}/cancel", h.cancelOrder)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func (h *AdminHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	wf, err := h.repo.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrWorkflowNotFound) {
			writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		zlog.Ctx(logger.WithTrace(r.Context())).Error().Err(err).Str("order_id", orderID).
			Msg("failed to load workflow")
		writeError(w, http.StatusInternalServerError, "failed to load workflow")
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *AdminHandler) getHistory(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotImplemented, "audit storage is not configured")
		return
	}
	orderID := r.PathValue("id")
	recs, err := h.audit.Recent(r.Context(), orderID, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query audit trail")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// retryOrder 触发人工重试：事件经队列回到编排器异步处理，
// 接口只确认受理（202），重试计数在转移引擎里清零。
func (h *AdminHandler) retryOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	h.dispatch(w, r, domain.Event{
		Type:    domain.EventRetry,
		OrderID: orderID,
		Manual:  true,
	})
}

func (h *AdminHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	h.dispatch(w, r, domain.Event{
		Type:    domain.EventCancelRequested,
		OrderID: orderID,
	})
}

func (h *AdminHandler) dispatch(w http.ResponseWriter, r *http.Request, ev domain.Event) {
	ctx := logger.WithTrace(r.Context())
	// 事件带 ID，队列重复投递时由历史去重拦下
	ev.ID = uuid.New().String()
	ev.OccurredAt = time.Now().UTC()
	if err := h.producer.Emit(ctx, ev); err != nil {
		zlog.Ctx(ctx).Error().Err(err).Str("order_id", ev.OrderID).
			Str("event", string(ev.Type)).Msg("failed to emit admin event")
		writeError(w, http.StatusInternalServerError, "failed to submit event")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"orderId": ev.OrderID,
		"event":   string(ev.Type),
		"status":  "accepted",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
