// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strings"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config 聚合了所有服务共享的基础设施配置。
// 来源优先级：环境变量 > YAML 文件 > 默认值。
type Config struct {
	Infra struct {
		Kafka struct {
			Brokers []string `yaml:"brokers"`
		} `yaml:"kafka"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		MySQL struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Nacos struct {
			Enabled   bool   `yaml:"enabled"`
			Addrs     string `yaml:"addrs"`
			Namespace string `yaml:"namespace"`
			Group     string `yaml:"group"`
		} `yaml:"nacos"`
		Zookeeper struct {
			Enabled bool     `yaml:"enabled"`
			Addrs   []string `yaml:"addrs"`
		} `yaml:"zookeeper"`
	} `yaml:"infra"`

	Fulfillment FulfillmentConfig `yaml:"fulfillment"`
}

// Duration 让 "60s"/"24h" 这类写法能直接出现在 YAML 里。
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// FulfillmentConfig 是编排引擎自身的策略与外部依赖配置。
type FulfillmentConfig struct {
	MaxRetries           int      `yaml:"max_retries"`
	ProcessingDelay      Duration `yaml:"processing_delay"`
	ConfirmationTimeout  Duration `yaml:"confirmation_timeout"`
	SupplierSyncInterval Duration `yaml:"supplier_sync_interval"`
	TrackingInterval     Duration `yaml:"tracking_interval"`
	CallTimeout          Duration `yaml:"call_timeout"`
	RetryBackoffBase     Duration `yaml:"retry_backoff_base"`

	// EscalationRule 是一段 CEL 表达式，对供应商错误求值，
	// 结果为 true 表示业务性拒绝（不可重试）。
	EscalationRule string `yaml:"escalation_rule"`

	Suppliers []SupplierConfig `yaml:"suppliers"`
	Tracking  struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"tracking"`
}

// SupplierConfig 描述一个接入的 drop-ship 供应商。
type SupplierConfig struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"` // cjdropshipping | aliexpress | generic
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	APISecret   string `yaml:"api_secret"`
	AccessToken string `yaml:"access_token"`
	MaxInflight int64  `yaml:"max_inflight"`
}

var (
	currentConfig *Config
	configOnce    sync.Once
)

// Init 加载配置。所有 cmd 的 main 在最开始调用。
func Init() {
	configOnce.Do(func() {
		currentConfig = loadConfig()
	})
}

// GetCurrentConfig 返回进程级配置，未 Init 时返回默认值。
func GetCurrentConfig() *Config {
	if currentConfig == nil {
		Init()
	}
	return currentConfig
}

func loadConfig() *Config {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			zlog.Fatal().Err(err).Str("path", path).Msg("failed to read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			zlog.Fatal().Err(err).Str("path", path).Msg("failed to parse config file")
		}
	}

	// 环境变量覆盖，便于容器部署
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Infra.Redis.Addr = v
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.Infra.MySQL.DSN = v
	}
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v := os.Getenv("NACOS_SERVER_ADDRS"); v != "" {
		cfg.Infra.Nacos.Enabled = true
		cfg.Infra.Nacos.Addrs = v
	}
	if v := os.Getenv("NACOS_NAMESPACE"); v != "" {
		cfg.Infra.Nacos.Namespace = v
	}
	if v := os.Getenv("NACOS_GROUP"); v != "" {
		cfg.Infra.Nacos.Group = v
	}
	if v := os.Getenv("ZOOKEEPER_ADDRS"); v != "" {
		cfg.Infra.Zookeeper.Enabled = true
		cfg.Infra.Zookeeper.Addrs = strings.Split(v, ",")
	}
	return cfg
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Infra.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Infra.Redis.Addr = "localhost:6379"
	cfg.Infra.MySQL.DSN = "root:root@tcp(localhost:3306)/dropflow?charset=utf8mb4&parseTime=True&loc=Local"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Nacos.Group = "DEFAULT_GROUP"

	cfg.Fulfillment.MaxRetries = 3
	cfg.Fulfillment.ProcessingDelay = Duration(60 * time.Second)
	cfg.Fulfillment.ConfirmationTimeout = Duration(24 * time.Hour)
	cfg.Fulfillment.SupplierSyncInterval = Duration(time.Hour)
	cfg.Fulfillment.TrackingInterval = Duration(6 * time.Hour)
	cfg.Fulfillment.CallTimeout = Duration(30 * time.Second)
	cfg.Fulfillment.RetryBackoffBase = Duration(30 * time.Second)
	return cfg
}
