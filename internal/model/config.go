package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// APIConfig holds settings for the backend REST API.
type APIConfig struct {
	// BaseURL is the REST root, e.g. https://api.example.com. The live
	// channel address is derived from it.
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`

	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`

	// ConfirmRetries is how many times a failed mark-read confirmation is
	// retried. Zero means fire once.
	ConfirmRetries int `mapstructure:"confirm_retries" yaml:"confirm_retries" validate:"gte=0,lte=5"`
}

// NotificationsConfig holds sizing for the snapshot and the in-memory list.
type NotificationsConfig struct {
	PageSize int `mapstructure:"page_size" yaml:"page_size" validate:"gte=1,lte=100"`
	MaxItems int `mapstructure:"max_items" yaml:"max_items" validate:"gte=1,lte=500"`
}

// ChannelConfig holds live channel timings.
type ChannelConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval" validate:"gt=0"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay" validate:"gt=0"`

	// ResyncAfter is the disconnection length after which the snapshot is
	// reloaded on reconnect.
	ResyncAfter time.Duration `mapstructure:"resync_after" yaml:"resync_after" validate:"gte=0"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
	File   string `mapstructure:"file" yaml:"file"`
}

// MetricsConfig holds the optional Prometheus listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	API           APIConfig           `mapstructure:"api" yaml:"api"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Channel       ChannelConfig       `mapstructure:"channel" yaml:"channel"`
	Log           LogConfig           `mapstructure:"log" yaml:"log"`
	Metrics       MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
}

// Defaults used when the config file or a key is absent.
const (
	DefaultPageSize          = 20
	DefaultMaxItems          = 50
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultReconnectDelay    = 5 * time.Second
	DefaultResyncAfter       = 60 * time.Second
	DefaultAPITimeout        = 15 * time.Second
)

// EnvPrefix is the prefix for environment overrides, e.g.
// NOTIFYBELL_API_BASE_URL.
const EnvPrefix = "NOTIFYBELL"

var configValidator = validator.New()

// DefaultConfigDir returns ~/.config/notifybell.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "notifybell")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/notifybell/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		API: APIConfig{
			BaseURL: "http://localhost:8000",
			Timeout: DefaultAPITimeout,
		},
		Notifications: NotificationsConfig{
			PageSize: DefaultPageSize,
			MaxItems: DefaultMaxItems,
		},
		Channel: ChannelConfig{
			HeartbeatInterval: DefaultHeartbeatInterval,
			ReconnectDelay:    DefaultReconnectDelay,
			ResyncAfter:       DefaultResyncAfter,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			File:   filepath.Join(DefaultConfigDir(), "notifybell.log"),
		},
	}
}

func setDefaults(v *viper.Viper, d *AppConfig) {
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.confirm_retries", d.API.ConfirmRetries)
	v.SetDefault("notifications.page_size", d.Notifications.PageSize)
	v.SetDefault("notifications.max_items", d.Notifications.MaxItems)
	v.SetDefault("channel.heartbeat_interval", d.Channel.HeartbeatInterval)
	v.SetDefault("channel.reconnect_delay", d.Channel.ReconnectDelay)
	v.SetDefault("channel.resync_after", d.Channel.ResyncAfter)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file is not an error: defaults and environment overrides apply.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, defaultAppConfig())

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration against its validate tags and returns a
// readable error listing every failed field.
func (c *AppConfig) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}

	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("api.base_url", cfg.API.BaseURL)
	v.Set("api.timeout", cfg.API.Timeout.String())
	v.Set("api.confirm_retries", cfg.API.ConfirmRetries)
	v.Set("notifications.page_size", cfg.Notifications.PageSize)
	v.Set("notifications.max_items", cfg.Notifications.MaxItems)
	v.Set("channel.heartbeat_interval", cfg.Channel.HeartbeatInterval.String())
	v.Set("channel.reconnect_delay", cfg.Channel.ReconnectDelay.String())
	v.Set("channel.resync_after", cfg.Channel.ResyncAfter.String())
	v.Set("log", cfg.Log)
	v.Set("metrics", cfg.Metrics)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
