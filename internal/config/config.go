package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/phi-sentinel/")
	v.AddConfigPath("$HOME/.phi-sentinel/")

	v.SetEnvPrefix("PHI_SENTINEL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	current = v
	return config, nil
}

// current is the viper instance behind the last successful Load, used by Watch.
var current *viper.Viper

// Validate validates the loaded configuration
func Validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	r := config.Privacy.Redaction
	if utf8.RuneCountInString(r.Char) != 1 {
		return fmt.Errorf("invalid redaction char %q: must be a single character", r.Char)
	}
	if r.PartialChars < 0 {
		return fmt.Errorf("invalid partial_chars: %d", r.PartialChars)
	}
	if config.Privacy.PreviewLength <= 0 {
		return fmt.Errorf("invalid preview_length: %d", config.Privacy.PreviewLength)
	}

	a := config.Audit
	if a.MaxEvents <= 0 {
		return fmt.Errorf("invalid audit max_events: %d", a.MaxEvents)
	}
	if a.Storage.Capacity <= 0 || a.Storage.Capacity > a.MaxEvents {
		return fmt.Errorf("invalid audit storage capacity: %d (must be between 1 and max_events %d)", a.Storage.Capacity, a.MaxEvents)
	}
	switch a.Storage.Backend {
	case "memory", "redis", "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid audit storage backend: %s (must be memory, redis, postgres, or sqlite)", a.Storage.Backend)
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.RateLimit.RequestsPerMin)
	}

	return nil
}

// Watch starts watching the configuration file for changes. Invalid
// revisions are reported through onError and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) error {
	if current == nil {
		return errors.New("config not loaded")
	}

	v := current
	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}

		if err := Validate(newConfig); err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
