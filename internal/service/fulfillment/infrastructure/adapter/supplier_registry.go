// internal/service/fulfillment/infrastructure/adapter/supplier_registry.go
package adapter

import (
	zlog "github.com/rs/zerolog/log"

	"dropflow/internal/pkg/bootstrap"
	"dropflow/internal/pkg/httpclient"
	"dropflow/internal/service/fulfillment/domain/port"
)

// StaticSupplierRegistry 在启动时按配置构建全部供应商网关。
// 凭证来自配置中心下发，本服务不管理凭证的签发与轮换。
type StaticSupplierRegistry struct {
	gateways map[string]port.SupplierGateway
}

func NewSupplierRegistry(cfgs []bootstrap.SupplierConfig, hc *httpclient.Client, policy port.EscalationPolicy) *StaticSupplierRegistry {
	reg := &StaticSupplierRegistry{gateways: make(map[string]port.SupplierGateway, len(cfgs))}
	for _, cfg := range cfgs {
		gw, err := NewHTTPSupplierGateway(cfg.Name, cfg.Kind, cfg.BaseURL, port.Credentials{
			APIKey:      cfg.APIKey,
			APISecret:   cfg.APISecret,
			AccessToken: cfg.AccessToken,
		}, hc, policy)
		if err != nil {
			// 单个供应商配置错误不拖垮整个服务，缺网关的订单会走失败升级
			zlog.Error().Err(err).Str("supplier", cfg.Name).Msg("skipping misconfigured supplier")
			continue
		}
		reg.gateways[cfg.Name] = gw
	}
	return reg
}

func (r *StaticSupplierRegistry) Gateway(name string) (port.SupplierGateway, bool) {
	gw, ok := r.gateways[name]
	return gw, ok
}

// Names 返回已配置的供应商名单，运维接口用。
func (r *StaticSupplierRegistry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	return names
}
