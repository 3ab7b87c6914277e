package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Vault       VaultConfig       `mapstructure:"vault"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	GitHub      GitHubConfig      `mapstructure:"github"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Scraper     ScraperConfig     `mapstructure:"scraper"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Workflows   WorkflowsConfig   `mapstructure:"workflows"`
	WebhookLogs WebhookLogsConfig `mapstructure:"webhook_logs"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// VaultConfig holds the base64-encoded 32 byte encryption key.
type VaultConfig struct {
	Key string `mapstructure:"key"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type RateLimitConfig struct {
	WebhooksPerMinute int `mapstructure:"webhooks_per_minute"`
	APIPerMinute      int `mapstructure:"api_per_minute"`
}

type GitHubConfig struct {
	APIBaseURL string `mapstructure:"api_base_url"`
}

type LLMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ScraperConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type WorkflowsConfig struct {
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
	ProgressTTL  time.Duration `mapstructure:"progress_ttl"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Lease        time.Duration `mapstructure:"lease"`
	Concurrency  int           `mapstructure:"concurrency"`
}

type WebhookLogsConfig struct {
	MaxEntries        int           `mapstructure:"max_entries"`
	BaseRetention     time.Duration `mapstructure:"base_retention"`
	ExtendedRetention time.Duration `mapstructure:"extended_retention"`
	DedupeTTL         time.Duration `mapstructure:"dedupe_ttl"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("jwt.access_token_ttl", time.Hour)
	v.SetDefault("rate_limit.webhooks_per_minute", 600)
	v.SetDefault("rate_limit.api_per_minute", 300)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("scraper.timeout", 30*time.Second)
	v.SetDefault("kafka.topic", "draftr.events")
	v.SetDefault("workflows.lock_ttl", 300*time.Second)
	v.SetDefault("workflows.progress_ttl", 300*time.Second)
	v.SetDefault("workflows.max_attempts", 3)
	v.SetDefault("workflows.retry_backoff", 10*time.Second)
	v.SetDefault("workflows.poll_interval", 2*time.Second)
	v.SetDefault("workflows.lease", 2*time.Minute)
	v.SetDefault("workflows.concurrency", 4)
	v.SetDefault("webhook_logs.max_entries", 100)
	v.SetDefault("webhook_logs.base_retention", 7*24*time.Hour)
	v.SetDefault("webhook_logs.extended_retention", 30*24*time.Hour)
	v.SetDefault("webhook_logs.dedupe_ttl", 24*time.Hour)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.Vault.Key == "" {
		return errors.New("vault.key is required")
	}
	if c.Server.PublicBaseURL == "" {
		return errors.New("server.public_base_url is required")
	}
	return nil
}
