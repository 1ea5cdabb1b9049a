// Package config defines the executor's configuration, loaded from a YAML
// file (default: configs/config.yaml) with secrets overridable via
// EXECUTOR_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`

	Platform PlatformConfig `mapstructure:"platform"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
}

// PlatformConfig points the executor at its platform backend.
// ApiKey authenticates outbound calls; ApiSecret is loaded but no transport
// sends it. Neither is ever logged.
type PlatformConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	ApiKey            string        `mapstructure:"api_key"`
	ApiSecret         string        `mapstructure:"api_secret"`
	ExecutorID        string        `mapstructure:"executor_id"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// BrokerConfig locates the broker terminal the executor drives.
type BrokerConfig struct {
	TerminalPath string `mapstructure:"terminal_path"`
	Paper        bool   `mapstructure:"paper"`
}

// HTTPConfig controls the local API server the desktop UI shell talks to.
type HTTPConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	PlatformOrigin string `mapstructure:"platform_origin"`
}

// StoreConfig sets where strategy and trade-log data is persisted.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RuntimeConfig holds the runtime.tick_interval setting. No component reads
// TickInterval: every StrategyRuntime polls on strategyrt's fixed 1s tick.
type RuntimeConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// Load reads config from a YAML file with EXECUTOR_* env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("EXECUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("EXECUTOR_PLATFORM_API_KEY"); key != "" {
		cfg.Platform.ApiKey = key
	}
	if secret := os.Getenv("EXECUTOR_PLATFORM_API_SECRET"); secret != "" {
		cfg.Platform.ApiSecret = secret
	}
	if os.Getenv("EXECUTOR_DEBUG") == "true" || os.Getenv("EXECUTOR_DEBUG") == "1" {
		cfg.Debug = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "production")
	v.SetDefault("platform.poll_interval", 5*time.Second)
	v.SetDefault("platform.request_timeout", 10*time.Second)
	v.SetDefault("platform.heartbeat_interval", 15*time.Second)
	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 8787)
	v.SetDefault("store.path", "executor.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("runtime.tick_interval", time.Second)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	if c.Platform.ExecutorID == "" {
		return fmt.Errorf("platform.executor_id is required")
	}
	if !c.Broker.Paper && c.Broker.TerminalPath == "" {
		return fmt.Errorf("broker.terminal_path is required unless broker.paper is set")
	}
	if c.Platform.ApiKey == "" && !c.Debug {
		return fmt.Errorf("platform.api_key is required (set EXECUTOR_PLATFORM_API_KEY)")
	}
	if c.HTTP.Port <= 0 {
		return fmt.Errorf("http.port must be > 0")
	}
	if c.Runtime.TickInterval <= 0 {
		return fmt.Errorf("runtime.tick_interval must be > 0")
	}
	return nil
}
