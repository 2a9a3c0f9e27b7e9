package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration for the streaming core.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Provider ProviderConfig `mapstructure:"provider"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// KafkaConfig points at the broker for the triggered-alert event topic.
// An empty broker list disables the sink.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type GatewayConfig struct {
	MaxSymbols int `mapstructure:"max_symbols"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment first (if present) so the
	// bindings below see a single source of truth.
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("provider.base_url", "https://finnhub.io/api/v1")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout", 10*time.Second)

	v.SetDefault("poller.interval", 30*time.Second)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "alert_events")

	v.SetDefault("gateway.max_symbols", 20)

	// Map dot-notation keys to underscore env vars (e.g., "app.port" -> "APP_PORT").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit binds are required for Viper to map flat env vars onto the
	// nested struct fields.
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "provider.base_url", "provider.api_key", "provider.timeout")
	bindEnv(v, "poller.interval")
	bindEnv(v, "auth.jwt_secret")
	bindEnv(v, "kafka.brokers", "kafka.topic")
	bindEnv(v, "gateway.max_symbols")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	if cfg.Poller.Interval <= 0 {
		return nil, fmt.Errorf("poller interval must be positive")
	}
	if cfg.Gateway.MaxSymbols <= 0 {
		return nil, fmt.Errorf("gateway max_symbols must be positive")
	}

	return &cfg, nil
}

// NewLogger builds the process logger for the configured environment.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
