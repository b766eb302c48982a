// internal/service/fulfillment/infrastructure/adapter/supplier_http.go
package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"

	"dropflow/internal/pkg/httpclient"
	"dropflow/internal/service/fulfillment/domain"
	"dropflow/internal/service/fulfillment/domain/port"
)

// supplierProfile 抹平不同供应商开放平台的认证与路径差异。
type supplierProfile struct {
	placePath  string // POST
	statusPath string // GET，%s 为供应商订单号
	cancelPath string // POST，%s 为供应商订单号
	headers    func(creds port.Credentials) map[string]string
}

var profiles = map[string]supplierProfile{
	// CJDropshipping 开放平台：token 认证
	"cjdropshipping": {
		placePath:  "/api2.0/v1/shopping/order/createOrder",
		statusPath: "/api2.0/v1/shopping/order/getOrderDetail?orderId=%s",
		cancelPath: "/api2.0/v1/shopping/order/deleteOrder?orderId=%s",
		headers: func(c port.Credentials) map[string]string {
			return map[string]string{"CJ-Access-Token": c.AccessToken}
		},
	},
	// AliExpress / DSers 风格：key + secret
	"aliexpress": {
		placePath:  "/v1/orders",
		statusPath: "/v1/orders/%s",
		cancelPath: "/v1/orders/%s/cancel",
		headers: func(c port.Credentials) map[string]string {
			return map[string]string{
				"X-Api-Key":    c.APIKey,
				"X-Api-Secret": c.APISecret,
			}
		},
	},
	// 自建/测试供应商：简单 bearer
	"generic": {
		placePath:  "/orders",
		statusPath: "/orders/%s",
		cancelPath: "/orders/%s/cancel",
		headers: func(c port.Credentials) map[string]string {
			return map[string]string{"Authorization": "Bearer " + c.APIKey}
		},
	},
}

// HTTPSupplierGateway 是统一的供应商网关实现：每个配置的供应商
// 一个实例，按 kind 选择平台差异档案。
type HTTPSupplierGateway struct {
	name    string
	baseURL string
	creds   port.Credentials
	profile supplierProfile
	http    *httpclient.Client
	policy  port.EscalationPolicy
}

func NewHTTPSupplierGateway(name, kind, baseURL string, creds port.Credentials, hc *httpclient.Client, policy port.EscalationPolicy) (*HTTPSupplierGateway, error) {
	p, ok := profiles[strings.ToLower(kind)]
	if !ok {
		return nil, errors.Errorf("unknown supplier kind %q for %s", kind, name)
	}
	if baseURL == "" {
		return nil, errors.Errorf("supplier %s has no baseURL", name)
	}
	return &HTTPSupplierGateway{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		profile: p,
		http:    hc,
		policy:  policy,
	}, nil
}

func (g *HTTPSupplierGateway) Name() string { return g.name }

type placeOrderDTO struct {
	IdempotencyToken string             `json:"idempotencyToken"`
	Items            []placeOrderItem   `json:"items"`
	ShippingAddress  domain.Address     `json:"shippingAddress"`
}

type placeOrderItem struct {
	SourceID string `json:"sourceId"`
	Quantity int    `json:"quantity"`
}

type placeOrderResult struct {
	SupplierOrderID   string `json:"supplierOrderId"`
	EstimatedDelivery string `json:"estimatedDelivery"`
	Code              string `json:"code"`
	Message           string `json:"message"`
}

func (g *HTTPSupplierGateway) PlaceOrder(ctx context.Context, req port.PlaceOrderRequest) (*port.Placement, error) {
	dto := placeOrderDTO{
		IdempotencyToken: req.IdempotencyToken,
		ShippingAddress:  req.ShippingAddress,
	}
	for _, item := range req.Items {
		dto.Items = append(dto.Items, placeOrderItem{SourceID: item.SourceID, Quantity: item.Quantity})
	}

	headers := g.profile.headers(g.creds)
	headers["Idempotency-Key"] = req.IdempotencyToken

	var out placeOrderResult
	err := g.http.DoJSON(ctx, "POST", g.baseURL+g.profile.placePath, headers, dto, &out)
	if err != nil {
		return nil, g.classify(err)
	}
	if out.SupplierOrderID == "" {
		return nil, &domain.SupplierError{
			Supplier:  g.name,
			Code:      out.Code,
			Message:   "supplier accepted request but returned no order id: " + out.Message,
			Transient: true,
		}
	}
	return &port.Placement{
		SupplierOrderID:   out.SupplierOrderID,
		EstimatedDelivery: out.EstimatedDelivery,
	}, nil
}

type orderStatusResult struct {
	Status          string `json:"status"`
	TrackingNumber  string `json:"trackingNumber"`
	TrackingCarrier string `json:"trackingCarrier"`
}

func (g *HTTPSupplierGateway) GetOrderStatus(ctx context.Context, supplierOrderID string) (*port.SupplierOrderStatus, error) {
	path := fmt.Sprintf(g.profile.statusPath, url.QueryEscape(supplierOrderID))
	var out orderStatusResult
	if err := g.http.DoJSON(ctx, "GET", g.baseURL+path, g.profile.headers(g.creds), nil, &out); err != nil {
		return nil, g.classify(err)
	}
	return &port.SupplierOrderStatus{
		Status:          mapSupplierStatus(out.Status),
		TrackingNumber:  out.TrackingNumber,
		TrackingCarrier: out.TrackingCarrier,
	}, nil
}

func (g *HTTPSupplierGateway) CancelOrder(ctx context.Context, supplierOrderID string) error {
	path := fmt.Sprintf(g.profile.cancelPath, url.QueryEscape(supplierOrderID))
	if err := g.http.DoJSON(ctx, "POST", g.baseURL+path, g.profile.headers(g.creds), nil, nil); err != nil {
		return g.classify(err)
	}
	return nil
}

// classify 把传输层错误规范化为 *domain.SupplierError。
// 网络错误、超时、5xx、429 视为瞬时；其余 4xx 交给升级策略判定
// 是否为业务性拒绝，策略不可用时保守地按瞬时处理。
func (g *HTTPSupplierGateway) classify(err error) error {
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		// 网络错误和超时没有状态码，一律按瞬时处理
		return &domain.SupplierError{
			Supplier:  g.name,
			Code:      "network_error",
			Message:   err.Error(),
			Transient: true,
		}
	}

	if se.Code >= 500 || se.Code == 429 {
		return &domain.SupplierError{
			Supplier:  g.name,
			Code:      fmt.Sprintf("http_%d", se.Code),
			Message:   se.Body,
			Transient: true,
		}
	}

	rejected, perr := g.policy.IsRejection(port.SupplierFailure{
		Supplier:   g.name,
		Code:       fmt.Sprintf("http_%d", se.Code),
		HTTPStatus: se.Code,
		Message:    se.Body,
	})
	if perr != nil {
		zlog.Error().Err(perr).Str("supplier", g.name).Msg("escalation policy evaluation failed, treating failure as transient")
		rejected = false
	}
	return &domain.SupplierError{
		Supplier:  g.name,
		Code:      fmt.Sprintf("http_%d", se.Code),
		Message:   se.Body,
		Transient: !rejected,
	}
}

func mapSupplierStatus(s string) domain.SupplierOrderStatus {
	switch strings.ToLower(s) {
	case "created", "pending", "placed", "unconfirmed":
		return domain.SupplierOrderPlaced
	case "confirmed", "accepted", "processing":
		return domain.SupplierOrderConfirmed
	case "shipped", "dispatched", "in_transit":
		return domain.SupplierOrderShipped
	case "cancelled", "canceled", "rejected":
		return domain.SupplierOrderCancelled
	default:
		return domain.SupplierOrderPlaced
	}
}
