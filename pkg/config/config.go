// Package config provides YAML/env configuration loading for subnet
// processes.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hayotensor/subnet/pkg/retry"
)

// Config is the root configuration shared by all subnet roles.
type Config struct {
	// AppName is the logical name of this process.
	AppName string `mapstructure:"app_name"`

	// WireFormat selects the frame payload encoding: cbor, json or proto.
	WireFormat string `mapstructure:"wire_format"`

	// Log holds logging configuration.
	Log LogConfig `mapstructure:"log"`

	// Retry is the default reconnect backoff for originating clients.
	Retry RetryConfig `mapstructure:"retry"`

	Router  RouterConfig  `mapstructure:"router"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Gateway GatewayConfig `mapstructure:"gateway"`
}

// Endpoint names one transport listen/dial target.
type Endpoint struct {
	// Kind: unix, tcp, quic or mem.
	Kind    string `mapstructure:"kind"`
	Address string `mapstructure:"address"`
}

// RetryConfig describes a reconnect backoff policy.
type RetryConfig struct {
	InitialMS   int     `mapstructure:"initial_ms"`
	MaxMS       int     `mapstructure:"max_ms"`
	JitterMS    int     `mapstructure:"jitter_ms"`
	Multiplier  float64 `mapstructure:"multiplier"`
	MaxAttempts int     `mapstructure:"max_attempts"`
}

// Policy converts the config into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		Initial:     time.Duration(r.InitialMS) * time.Millisecond,
		Max:         time.Duration(r.MaxMS) * time.Millisecond,
		Jitter:      time.Duration(r.JitterMS) * time.Millisecond,
		Multiplier:  r.Multiplier,
		MaxAttempts: r.MaxAttempts,
	}
}

// RouterConfig configures the proxy role.
type RouterConfig struct {
	Listen     Endpoint `mapstructure:"listen"`
	Downstream Endpoint `mapstructure:"downstream"`
	// Retry bounds outbound attempts; exhausting it turns an
	// unreachable downstream into a terminal error for the caller.
	Retry RetryConfig `mapstructure:"retry"`
}

// WorkerConfig configures the worker role.
type WorkerConfig struct {
	Listen       Endpoint `mapstructure:"listen"`
	Models       []string `mapstructure:"models"`
	DefaultModel string   `mapstructure:"default_model"`
}

// GatewayConfig configures the HTTP JSON-RPC gateway.
type GatewayConfig struct {
	Listen    string   `mapstructure:"listen"`
	AllowList []string `mapstructure:"allow_list"`
	Router    Endpoint `mapstructure:"router"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName:    "subnet",
		WireFormat: "cbor",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Filename:   "logs/subnet.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Retry: RetryConfig{InitialMS: 500, MaxMS: 30000, JitterMS: 100, Multiplier: 2},
		Router: RouterConfig{
			Listen:     Endpoint{Kind: "unix", Address: "/tmp/subnet-router.sock"},
			Downstream: Endpoint{Kind: "unix", Address: "/tmp/subnet-worker.sock"},
			Retry:      RetryConfig{InitialMS: 500, MaxMS: 5000, JitterMS: 100, Multiplier: 2, MaxAttempts: 5},
		},
		Worker: WorkerConfig{
			Listen:       Endpoint{Kind: "unix", Address: "/tmp/subnet-worker.sock"},
			Models:       []string{"gpt2", "llama3"},
			DefaultModel: "gpt2",
		},
		Gateway: GatewayConfig{
			Listen:    ":8080",
			AllowList: []string{"127.0.0.1", "::1"},
			Router:    Endpoint{Kind: "unix", Address: "/tmp/subnet-router.sock"},
		},
	}
}

// Load reads configuration from path (if non-empty) with environment
// overrides. Environment variables use the SUBNET prefix with `.` and
// `-` replaced by `_`, e.g. SUBNET_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SUBNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	seedDefaults(v, Default())

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := v.ReadConfig(f); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// Decode into a zero struct: every key is seeded above, and
	// decoding over prefilled slices would merge configured lists with
	// the defaults element-wise instead of replacing them.
	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// seedDefaults registers every key so env-only configuration works.
func seedDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("wire_format", cfg.WireFormat)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	v.SetDefault("retry.initial_ms", cfg.Retry.InitialMS)
	v.SetDefault("retry.max_ms", cfg.Retry.MaxMS)
	v.SetDefault("retry.jitter_ms", cfg.Retry.JitterMS)
	v.SetDefault("retry.multiplier", cfg.Retry.Multiplier)
	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)

	v.SetDefault("router.listen.kind", cfg.Router.Listen.Kind)
	v.SetDefault("router.listen.address", cfg.Router.Listen.Address)
	v.SetDefault("router.downstream.kind", cfg.Router.Downstream.Kind)
	v.SetDefault("router.downstream.address", cfg.Router.Downstream.Address)
	v.SetDefault("router.retry.initial_ms", cfg.Router.Retry.InitialMS)
	v.SetDefault("router.retry.max_ms", cfg.Router.Retry.MaxMS)
	v.SetDefault("router.retry.jitter_ms", cfg.Router.Retry.JitterMS)
	v.SetDefault("router.retry.multiplier", cfg.Router.Retry.Multiplier)
	v.SetDefault("router.retry.max_attempts", cfg.Router.Retry.MaxAttempts)

	v.SetDefault("worker.listen.kind", cfg.Worker.Listen.Kind)
	v.SetDefault("worker.listen.address", cfg.Worker.Listen.Address)
	v.SetDefault("worker.models", cfg.Worker.Models)
	v.SetDefault("worker.default_model", cfg.Worker.DefaultModel)

	v.SetDefault("gateway.listen", cfg.Gateway.Listen)
	v.SetDefault("gateway.allow_list", cfg.Gateway.AllowList)
	v.SetDefault("gateway.router.kind", cfg.Gateway.Router.Kind)
	v.SetDefault("gateway.router.address", cfg.Gateway.Router.Address)
}
