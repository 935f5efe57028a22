package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Gateway struct {
		BaseURL      string `yaml:"base_url"`
		APIKey       string `yaml:"api_key"`
		WebhookToken string `yaml:"webhook_token"`
	} `yaml:"gateway"`
	Provider struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Mock    bool   `yaml:"mock"`
	} `yaml:"provider"`
	Orders struct {
		TTLMinutes    int    `yaml:"ttl_minutes"`
		NumberPrefix  string `yaml:"number_prefix"`
		CredentialKey string `yaml:"credential_key"`
	} `yaml:"orders"`
	Sweeper struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"sweeper"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Gateway.BaseURL == "" || cfg.Gateway.WebhookToken == "" {
		return nil, errors.New("gateway config is incomplete")
	}
	if cfg.Provider.BaseURL == "" && !cfg.Provider.Mock {
		return nil, errors.New("provider.base_url is required unless provider.mock is set")
	}
	if cfg.Orders.CredentialKey == "" {
		return nil, errors.New("orders.credential_key is required")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Orders.TTLMinutes <= 0 {
		cfg.Orders.TTLMinutes = 30
	}
	if cfg.Orders.NumberPrefix == "" {
		cfg.Orders.NumberPrefix = "DS"
	}
	if cfg.Sweeper.IntervalSeconds <= 0 {
		cfg.Sweeper.IntervalSeconds = 60
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "order-lifecycle"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCommaList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("GATEWAY_WEBHOOK_TOKEN"); v != "" {
		cfg.Gateway.WebhookToken = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("PROVIDER_MOCK"); v != "" {
		cfg.Provider.Mock = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ORDER_TTL_MINUTES"); v != "" {
		cfg.Orders.TTLMinutes = atoiOr(cfg.Orders.TTLMinutes, v)
	}
	if v := os.Getenv("ORDER_NUMBER_PREFIX"); v != "" {
		cfg.Orders.NumberPrefix = v
	}
	if v := os.Getenv("CREDENTIAL_KEY"); v != "" {
		cfg.Orders.CredentialKey = v
	}
	if v := os.Getenv("SWEEPER_INTERVAL_SECONDS"); v != "" {
		cfg.Sweeper.IntervalSeconds = atoiOr(cfg.Sweeper.IntervalSeconds, v)
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
