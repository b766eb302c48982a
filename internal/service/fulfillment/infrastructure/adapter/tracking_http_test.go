// internal/service/fulfillment/infrastructure/adapter/tracking_http_test.go
package adapter

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

func TestFetchTrackingAutoDetectsCarrier(t *testing.T) {
	var gotCarrier string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCarrier = r.URL.Query().Get("carrier")
		json.NewEncoder(w).Encode(trackingResult{Status: "in_transit", Location: "Shenzhen"})
	}))
	defer srv.Close()

	p := NewHTTPTrackingProvider(srv.URL, "key", testHTTPClient())
	info, err := p.FetchTracking(context.Background(), "1Z999AA10123456784", "")
	require.NoError(t, err)
	assert.Equal(t, "ups", gotCarrier)
	assert.Equal(t, domain.TrackingStatusInTransit, info.Status)
	assert.Equal(t, "Shenzhen", info.Location)
}

func TestFetchTrackingParsesDeliveredTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(trackingResult{Status: "delivered", DeliveredAt: "2026-08-20T14:03:00Z"})
	}))
	defer srv.Close()

	p := NewHTTPTrackingProvider(srv.URL, "key", testHTTPClient())
	info, err := p.FetchTracking(context.Background(), "1234567890", "dhl")
	require.NoError(t, err)
	assert.Equal(t, domain.TrackingStatusDelivered, info.Status)
	require.NotNil(t, info.DeliveredAt)
	assert.Equal(t, 2026, info.DeliveredAt.Year())
}

func TestFetchTrackingUnknownStatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(trackingResult{Status: "customs-hold"})
	}))
	defer srv.Close()

	p := NewHTTPTrackingProvider(srv.URL, "key", testHTTPClient())
	info, err := p.FetchTracking(context.Background(), "1234567890", "dhl")
	require.NoError(t, err)
	assert.Equal(t, domain.TrackingStatusUnknown, info.Status)
}

func TestFetchTrackingRequiresNumber(t *testing.T) {
	p := NewHTTPTrackingProvider("http://localhost", "key", testHTTPClient())
	_, err := p.FetchTracking(context.Background(), "", "")
	assert.Error(t, err)
}
