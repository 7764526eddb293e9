package internal

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration.
type Config struct {
	// Server holds server-specific configuration.
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
		WriteTimeoutMS int64  `yaml:"write_timeout_ms"`
		IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
		WebhookPath    string `yaml:"webhook_path"`
	} `yaml:"server"`
	// Storage configures the tenant configuration store.
	Storage StorageConfig `yaml:"storage"`
	// Discord configures the outbound Discord REST client.
	Discord DiscordConfig `yaml:"discord"`
	// Queue configures the delivery task queue.
	Queue QueueConfig `yaml:"queue"`
	// Admin configures the tenant administration API.
	Admin AdminConfig `yaml:"admin"`
}

// StorageConfig configures the GORM-backed configuration store.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// DiscordConfig configures the Discord REST client.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int64  `yaml:"timeout_ms"`
}

// AdminConfig configures the tenant administration API.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// QueueConfig holds the configuration for the Watermill-backed delivery queue.
type QueueConfig struct {
	Driver      string          `yaml:"driver"`
	Topic       string          `yaml:"topic"`
	Concurrency int             `yaml:"concurrency"`
	GoChannel   GoChannelConfig `yaml:"gochannel"`
	Kafka       KafkaConfig     `yaml:"kafka"`
	NATS        NATSConfig      `yaml:"nats"`
	AMQP        AMQPConfig      `yaml:"amqp"`
	SQL         SQLConfig       `yaml:"sql"`
	HTTP        HTTPConfig      `yaml:"http"`
}

// GoChannelConfig holds configuration for the in-process GoChannel pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer int64 `yaml:"output_buffer"`
	Persistent          bool  `yaml:"persistent"`
}

// KafkaConfig holds configuration for the Kafka pub/sub.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// NATSConfig holds configuration for the NATS streaming pub/sub.
type NATSConfig struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	URL       string `yaml:"url"`
	Durable   string `yaml:"durable"`
}

// AMQPConfig holds configuration for the AMQP pub/sub.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL pub/sub.
type SQLConfig struct {
	Driver           string `yaml:"driver"`
	DSN              string `yaml:"dsn"`
	Dialect          string `yaml:"dialect"`
	ConsumerGroup    string `yaml:"consumer_group"`
	InitializeSchema bool   `yaml:"initialize_schema"`
}

// HTTPConfig holds configuration for the publish-only HTTP driver.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// LoadConfig loads the application configuration from a YAML file.
// It expands environment variables and applies default values.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 10000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Server.WebhookPath == "" {
		cfg.Server.WebhookPath = "/webhook"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "./data/notifier.db"
	}
	if cfg.Discord.BaseURL == "" {
		cfg.Discord.BaseURL = "https://discord.com/api/v10"
	}
	if cfg.Discord.TimeoutMS == 0 {
		cfg.Discord.TimeoutMS = 10000
	}
	if cfg.Queue.Driver == "" {
		cfg.Queue.Driver = "gochannel"
	}
	if cfg.Queue.Topic == "" {
		cfg.Queue.Topic = "notifier.deliveries"
	}
	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = 8
	}
	if cfg.Queue.GoChannel.OutputChannelBuffer == 0 {
		cfg.Queue.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Queue.HTTP.Mode == "" {
		cfg.Queue.HTTP.Mode = "topic_url"
	}
}
