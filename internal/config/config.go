package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Security  SecurityConfig  `mapstructure:"security"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
	// AdminKeys are static bearer keys granting access to /admin/v1.
	AdminKeys []string `mapstructure:"admin_keys"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type SecurityConfig struct {
	// EncryptionKey is the base64-encoded AES key for provider tokens.
	EncryptionKey string `mapstructure:"encryption_key"`
}

type BillingConfig struct {
	// MinBalance is the advisory admission threshold. The authoritative
	// check happens inside the debit transaction.
	MinBalance float64 `mapstructure:"min_balance"`
}

type UpstreamConfig struct {
	// TimeoutSeconds bounds buffered upstream calls.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// StreamTimeoutSeconds bounds an entire streaming call; streams
	// are long-lived so this is much larger.
	StreamTimeoutSeconds int `mapstructure:"stream_timeout_seconds"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Default Values. Every key needs a default, even an empty one:
	// AutomaticEnv only surfaces env overrides for keys viper already
	// knows about.
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.admin_keys", []string{})
	v.SetDefault("database.dsn", "file:proxy.db?cache=shared&mode=rwc&_journal_mode=WAL&_busy_timeout=5000")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("security.encryption_key", "")
	v.SetDefault("billing.min_balance", 0.0001)
	v.SetDefault("upstream.timeout_seconds", 60)
	v.SetDefault("upstream.stream_timeout_seconds", 600)
	v.SetDefault("rate_limit.requests_per_second", 50.0)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("tracing.enabled", false)

	// Environment Variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &cfg, nil
}
