// cmd/fulfillment-service/main.go
package main

import (
	"context"
	"strconv"

	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"dropflow/internal/pkg/bootstrap"
	"dropflow/internal/pkg/httpclient"
	"dropflow/internal/pkg/logger"
	"dropflow/internal/pkg/redis"
	"dropflow/internal/service/fulfillment/application"
	"dropflow/internal/service/fulfillment/domain"
	"dropflow/internal/service/fulfillment/infrastructure"
	"dropflow/internal/service/fulfillment/infrastructure/adapter"
	"dropflow/internal/service/fulfillment/infrastructure/rule"
	"dropflow/internal/service/fulfillment/interfaces"
	"dropflow/internal/zookeeper"
)

const serviceName = "fulfillment-service"

func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()
	port, _ := strconv.Atoi(bootstrap.GetEnv("PORT", "8086"))

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	var consumer *interfaces.EventConsumer
	var redisClient *redis.Client

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			tracer := otel.Tracer(serviceName)
			brokers := cfg.Infra.Kafka.Brokers

			var err error
			redisClient, err = redis.NewClient(cfg.Infra.Redis.Addr, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
			if err != nil {
				zlog.Fatal().Err(err).Msg("failed to initialize redis client")
			}
			repo, err := infrastructure.NewRedisWorkflowRepository(redisClient)
			if err != nil {
				zlog.Fatal().Err(err).Msg("failed to initialize workflow repository")
			}

			var audit *infrastructure.MySQLAuditTrail
			if cfg.Infra.MySQL.DSN != "" {
				audit, err = infrastructure.NewMySQLAuditTrail(cfg.Infra.MySQL.DSN)
				if err != nil {
					// 审计是旁路能力，连不上数据库时降级运行
					zlog.Error().Err(err).Msg("audit trail disabled: mysql unavailable")
					audit = nil
				}
			}

			policy, err := rule.NewCELEscalationPolicy(cfg.Fulfillment.EscalationRule)
			if err != nil {
				zlog.Fatal().Err(err).Msg("failed to compile escalation rule")
			}

			hc := httpclient.NewClient(tracer)
			suppliers := adapter.NewSupplierRegistry(cfg.Fulfillment.Suppliers, hc, policy)
			tracking := adapter.NewHTTPTrackingProvider(cfg.Fulfillment.Tracking.BaseURL, cfg.Fulfillment.Tracking.APIKey, hc)

			producer := adapter.NewKafkaEventProducer(brokers)
			scheduler := adapter.NewKafkaDelayScheduler(brokers)
			notifier := adapter.NewKafkaNotificationProducer(brokers)
			status := adapter.NewKafkaStatusPublisher(brokers)

			caps := make(map[string]int64, len(cfg.Fulfillment.Suppliers))
			for _, s := range cfg.Fulfillment.Suppliers {
				if s.MaxInflight > 0 {
					caps[s.Name] = s.MaxInflight
				}
			}

			var zkConn *zookeeper.Conn
			if cfg.Infra.Zookeeper.Enabled {
				zkConn, err = zookeeper.Connect(cfg.Infra.Zookeeper.Addrs)
				if err != nil {
					zlog.Fatal().Err(err).Msg("failed to connect to zookeeper")
				}
			}

			orchestrator := application.NewOrchestrator(application.Deps{
				Repo:      repo,
				Audit:     auditOrNil(audit),
				Suppliers: suppliers,
				Tracking:  tracking,
				Notifier:  notifier,
				Scheduler: scheduler,
				Producer:  producer,
				Status:    status,
				Policy: domain.Policy{
					MaxRetries:           cfg.Fulfillment.MaxRetries,
					ProcessingDelay:      cfg.Fulfillment.ProcessingDelay.Std(),
					ConfirmationTimeout:  cfg.Fulfillment.ConfirmationTimeout.Std(),
					SupplierSyncInterval: cfg.Fulfillment.SupplierSyncInterval.Std(),
					TrackingPollInterval: cfg.Fulfillment.TrackingInterval.Std(),
					RetryBackoffBase:     cfg.Fulfillment.RetryBackoffBase.Std(),
				},
				CallTimeout: cfg.Fulfillment.CallTimeout.Std(),
				Limiter:     application.NewSupplierLimiter(caps, cfg.Fulfillment.RetryBackoffBase.Std()),
				ZKConn:      zkConn,
				Tracer:      tracer,
			})

			interfaces.NewAdminHandler(repo, audit, producer).Register(appCtx.Mux)

			// 启动前恢复在途工作流：重新布防定时器、补发中断的副作用
			recoveryCtx := logger.WithTrace(consumerCtx)
			if err := orchestrator.RecoverInFlight(recoveryCtx); err != nil {
				zlog.Error().Err(err).Msg("in-flight recovery failed, continuing with live traffic")
			}

			consumer = interfaces.NewEventConsumer(brokers, orchestrator, tracer)
			go func() {
				if err := consumer.Run(consumerCtx); err != nil {
					zlog.Error().Err(err).Msg("event consumer stopped with error")
				}
			}()
		},
		OnShutdown: func(ctx context.Context) {
			stopConsumer()
			if consumer != nil {
				_ = consumer.Close()
			}
			if redisClient != nil {
				_ = redisClient.Close()
			}
		},
	})
}

// auditOrNil 把具体类型的 nil 转成接口 nil，避免编排器误判审计可用。
func auditOrNil(a *infrastructure.MySQLAuditTrail) domain.AuditTrail {
	if a == nil {
		return nil
	}
	return a
}
