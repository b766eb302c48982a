// internal/service/fulfillment/infrastructure/adapter/tracking_http.go
package adapter

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"dropflow/internal/pkg/httpclient"
	"dropflow/internal/service/fulfillment/domain"
	"dropflow/internal/service/fulfillment/domain/port"
)

// HTTPTrackingProvider 对接第三方物流聚合商（17track 风格的查询接口）。
type HTTPTrackingProvider struct {
	baseURL string
	apiKey  string
	http    *httpclient.Client
}

func NewHTTPTrackingProvider(baseURL, apiKey string, hc *httpclient.Client) *HTTPTrackingProvider {
	return &HTTPTrackingProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    hc,
	}
}

type trackingResult struct {
	Status      string `json:"status"`
	Location    string `json:"location"`
	DeliveredAt string `json:"deliveredAt"`
}

func (p *HTTPTrackingProvider) FetchTracking(ctx context.Context, trackingNumber, carrier string) (*port.TrackingInfo, error) {
	if trackingNumber == "" {
		return nil, errors.New("empty tracking number")
	}
	if carrier == "" {
		carrier = DetectCarrier(trackingNumber)
	}

	q := url.Values{}
	q.Set("number", trackingNumber)
	if carrier != "" {
		q.Set("carrier", carrier)
	}

	var out trackingResult
	err := p.http.DoJSON(ctx, "GET", p.baseURL+"/v1/trackings?"+q.Encode(),
		map[string]string{"X-Api-Key": p.apiKey}, nil, &out)
	if err != nil {
		return nil, errors.Wrapf(err, "tracking lookup for %s failed", trackingNumber)
	}

	info := &port.TrackingInfo{
		Status:   mapTrackingStatus(out.Status),
		Location: out.Location,
	}
	if out.DeliveredAt != "" {
		if t, err := time.Parse(time.RFC3339, out.DeliveredAt); err == nil {
			info.DeliveredAt = &t
		}
	}
	return info, nil
}

func mapTrackingStatus(s string) domain.TrackingStatus {
	switch strings.ToLower(s) {
	case "pending", "info_received", "not_found":
		return domain.TrackingStatusPending
	case "in_transit", "transit":
		return domain.TrackingStatusInTransit
	case "out_for_delivery", "pickup":
		return domain.TrackingStatusOutForDelivery
	case "delivered":
		return domain.TrackingStatusDelivered
	default:
		return domain.TrackingStatusUnknown
	}
}
