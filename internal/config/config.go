// Package config loads rawget's configuration using koanf/v2, layering
// an optional YAML file and RAWGET_* environment variables on top of
// built-in defaults, the same way gobfd/internal/config does for the
// gobfd daemon. CLI flags are applied last by cmd/rawget, after Load
// returns.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete rawget configuration.
type Config struct {
	Interface  string        `koanf:"interface"`
	Port       uint16        `koanf:"port"`
	Timeout    time.Duration `koanf:"timeout"`
	Tick       time.Duration `koanf:"tick"`
	RecvWindow int           `koanf:"recv_window"`
	SendWindow int           `koanf:"send_window"`
	Log        LogConfig     `koanf:"log"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
}

// DefaultConfig returns a Config populated with spec.md §6's defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:       80,
		Timeout:    180 * time.Second,
		Tick:       2 * time.Second,
		RecvWindow: 65535,
		SendWindow: 64,
		Log: LogConfig{
			Level: "info",
		},
	}
}

// envPrefix is the environment variable prefix for rawget configuration.
const envPrefix = "RAWGET_"

// Load reads configuration from a YAML file at path (if path is
// non-empty), overlays RAWGET_* environment variable overrides, and
// merges on top of DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	RAWGET_INTERFACE    -> interface
//	RAWGET_PORT         -> port
//	RAWGET_TIMEOUT      -> timeout
//	RAWGET_TICK         -> tick
//	RAWGET_RECV_WINDOW  -> recv_window
//	RAWGET_SEND_WINDOW  -> send_window
//	RAWGET_LOG_LEVEL    -> log.level
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Interface has no sensible default and is commonly supplied as a
	// CLI flag rather than file/env config, so validation is left to
	// the caller (cmd/rawget) after flags are applied on top.
	return cfg, nil
}

// envKeyMapper transforms RAWGET_LOG_LEVEL -> log.level and leaves
// underscores inside top-level keys alone (RAWGET_RECV_WINDOW ->
// recv_window).
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	if rest, ok := strings.CutPrefix(s, "log_"); ok {
		return "log." + rest
	}
	return s
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"port":        defaults.Port,
		"timeout":     defaults.Timeout.String(),
		"tick":        defaults.Tick.String(),
		"recv_window": defaults.RecvWindow,
		"send_window": defaults.SendWindow,
		"log.level":   defaults.Log.Level,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// Validation errors.
var (
	// ErrMissingInterface indicates no interface was configured.
	ErrMissingInterface = errors.New("interface must not be empty")

	// ErrInvalidSendWindow indicates send_window is non-positive.
	ErrInvalidSendWindow = errors.New("send_window must be > 0")

	// ErrInvalidRecvWindow indicates recv_window is non-positive.
	ErrInvalidRecvWindow = errors.New("recv_window must be > 0")
)

// Validate checks cfg for internal consistency.
func Validate(cfg *Config) error {
	if cfg.Interface == "" {
		return ErrMissingInterface
	}
	if cfg.SendWindow <= 0 {
		return ErrInvalidSendWindow
	}
	if cfg.RecvWindow <= 0 {
		return ErrInvalidRecvWindow
	}
	return nil
}

// ParseLogLevel maps a config-file level string to a slog.Level,
// defaulting to Info for anything unrecognized.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
