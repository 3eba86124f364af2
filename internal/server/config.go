package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every configuration environment variable.
const EnvPrefix = "OJS_CRON"

// Config holds the service configuration.
type Config struct {
	NatsURL             string        `mapstructure:"nats_url"`
	Bucket              string        `mapstructure:"bucket"`
	HTTPPort            string        `mapstructure:"http_port"`
	GRPCPort            string        `mapstructure:"grpc_port"`
	LogLevel            string        `mapstructure:"log_level"`
	ActionTimeout       time.Duration `mapstructure:"action_timeout"`
	RPCTimeout          time.Duration `mapstructure:"rpc_timeout"`
	ResubscribeInterval time.Duration `mapstructure:"resubscribe_interval"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`
	OtelEnabled         bool          `mapstructure:"otel_enabled"`
	OtelEndpoint        string        `mapstructure:"otel_endpoint"`
	InstanceID          string        `mapstructure:"instance_id"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("nats_url", "nats://localhost:4222")
	v.SetDefault("bucket", "ojs-cron-records")
	v.SetDefault("http_port", "8080")
	v.SetDefault("grpc_port", "9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("action_timeout", 10*time.Second)
	v.SetDefault("rpc_timeout", 5*time.Second)
	v.SetDefault("resubscribe_interval", time.Second)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("instance_id", "")
}

// NewViper returns a Viper instance with defaults and environment binding.
// configFile, when set, is read as YAML.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// NATS_URL is honoured without the prefix.
	if err := v.BindEnv("nats_url", EnvPrefix+"_NATS_URL", "NATS_URL"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("otel_endpoint", EnvPrefix+"_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}
	return v, nil
}

// LoadConfig decodes the configuration held by v.
func LoadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.NatsURL == "" {
		return Config{}, fmt.Errorf("nats_url must not be empty")
	}
	return cfg, nil
}

// Level returns the slog level named by LogLevel, defaulting to info.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
