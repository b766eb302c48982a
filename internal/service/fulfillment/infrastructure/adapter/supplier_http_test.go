// internal/service/fulfillment/infrastructure/adapter/supplier_http_test.go
package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"dropflow/internal/pkg/httpclient"
	"dropflow/internal/service/fulfillment/domain"
	"dropflow/internal/service/fulfillment/domain/port"
	"dropflow/internal/service/fulfillment/infrastructure/rule"
)

func testHTTPClient() *httpclient.Client {
	return httpclient.NewClient(noop.NewTracerProvider().Tracer("test"))
}

func testPolicy(t *testing.T) port.EscalationPolicy {
	t.Helper()
	p, err := rule.NewCELEscalationPolicy("")
	require.NoError(t, err)
	return p
}

func newGateway(t *testing.T, baseURL string) *HTTPSupplierGateway {
	t.Helper()
	gw, err := NewHTTPSupplierGateway("cj", "generic", baseURL,
		port.Credentials{APIKey: "test-key"}, testHTTPClient(), testPolicy(t))
	require.NoError(t, err)
	return gw
}

func placeReq() port.PlaceOrderRequest {
	return port.PlaceOrderRequest{
		IdempotencyToken: "ord-1:cj",
		Items:            []domain.OrderItem{{SourceID: "src-1", Quantity: 2}},
		ShippingAddress:  domain.Address{Name: "Jamie Doe", Line1: "1 Main St", Country: "US"},
	}
}

func TestPlaceOrderSendsIdempotencyKey(t *testing.T) {
	var gotKey string
	var gotBody placeOrderDTO
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(placeOrderResult{SupplierOrderID: "cj-42", EstimatedDelivery: "2026-09-10"})
	}))
	defer srv.Close()

	placement, err := newGateway(t, srv.URL).PlaceOrder(context.Background(), placeReq())
	require.NoError(t, err)
	assert.Equal(t, "cj-42", placement.SupplierOrderID)
	assert.Equal(t, "ord-1:cj", gotKey)
	require.Len(t, gotBody.Items, 1)
	assert.Equal(t, "src-1", gotBody.Items[0].SourceID)
}

func TestPlaceOrder5xxIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newGateway(t, srv.URL).PlaceOrder(context.Background(), placeReq())
	require.Error(t, err)

	var se *domain.SupplierError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Transient)
	assert.Equal(t, "http_503", se.Code)
}

func TestPlaceOrder4xxIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "item out of stock", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newGateway(t, srv.URL).PlaceOrder(context.Background(), placeReq())
	require.Error(t, err)

	var se *domain.SupplierError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Transient)
}

func TestPlaceOrderNetworkErrorIsTransient(t *testing.T) {
	// 立刻关掉的服务端制造连接错误
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newGateway(t, srv.URL).PlaceOrder(context.Background(), placeReq())
	require.Error(t, err)

	var se *domain.SupplierError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Transient)
	assert.Equal(t, "network_error", se.Code)
}

func TestGetOrderStatusMapsSupplierVocabulary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(orderStatusResult{
			Status:          "dispatched",
			TrackingNumber:  "1Z999AA10123456784",
			TrackingCarrier: "ups",
		})
	}))
	defer srv.Close()

	status, err := newGateway(t, srv.URL).GetOrderStatus(context.Background(), "cj-42")
	require.NoError(t, err)
	assert.Equal(t, domain.SupplierOrderShipped, status.Status)
	assert.Equal(t, "1Z999AA10123456784", status.TrackingNumber)
}

func TestUnknownSupplierKindIsRejected(t *testing.T) {
	_, err := NewHTTPSupplierGateway("x", "fax-machine", "http://localhost",
		port.Credentials{}, testHTTPClient(), testPolicy(t))
	assert.Error(t, err)
}

func TestMapSupplierStatusDefaultsToPlaced(t *testing.T) {
	assert.Equal(t, domain.SupplierOrderPlaced, mapSupplierStatus("weird-new-status"))
	assert.Equal(t, domain.SupplierOrderConfirmed, mapSupplierStatus("Accepted"))
	assert.Equal(t, domain.SupplierOrderCancelled, mapSupplierStatus("canceled"))
}
