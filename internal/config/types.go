package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Privacy   PrivacyConfig   `yaml:"privacy" mapstructure:"privacy"`
	Audit     AuditConfig     `yaml:"audit" mapstructure:"audit"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxRequestSize int64         `yaml:"max_request_size" mapstructure:"max_request_size"`
}

// PrivacyConfig contains PHI detection and redaction configuration
type PrivacyConfig struct {
	Enabled       bool            `yaml:"enabled" mapstructure:"enabled"`
	Detectors     []string        `yaml:"detectors" mapstructure:"detectors"`
	Redaction     RedactionConfig `yaml:"redaction" mapstructure:"redaction"`
	PreviewLength int             `yaml:"preview_length" mapstructure:"preview_length"`
}

// RedactionConfig holds the default redaction options applied when a caller
// does not supply its own.
type RedactionConfig struct {
	Char           string `yaml:"char" mapstructure:"char"`
	PreserveLength bool   `yaml:"preserve_length" mapstructure:"preserve_length"`
	ShowPartial    bool   `yaml:"show_partial" mapstructure:"show_partial"`
	PartialChars   int    `yaml:"partial_chars" mapstructure:"partial_chars"`
	UseHash        bool   `yaml:"use_hash" mapstructure:"use_hash"`
	HashPrefix     string `yaml:"hash_prefix" mapstructure:"hash_prefix"`
}

// AuditConfig contains audit logger configuration
type AuditConfig struct {
	MaxEvents      int           `yaml:"max_events" mapstructure:"max_events"`
	PersistBuffer  int           `yaml:"persist_buffer" mapstructure:"persist_buffer"`
	PersistTimeout time.Duration `yaml:"persist_timeout" mapstructure:"persist_timeout"`
	Storage        StorageConfig `yaml:"storage" mapstructure:"storage"`
}

// StorageConfig selects and configures the durable audit store
type StorageConfig struct {
	Backend         string        `yaml:"backend" mapstructure:"backend"` // memory, redis, postgres, sqlite
	Capacity        int           `yaml:"capacity" mapstructure:"capacity"`
	RedisURL        string        `yaml:"redis_url" mapstructure:"redis_url"`
	KeyPrefix       string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns    int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath      string        `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// RateLimitConfig contains API rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int  `yaml:"burst" mapstructure:"burst"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	Path           string   `yaml:"path" mapstructure:"path"`
	Username       string   `yaml:"username" mapstructure:"username"`
	Password       string   `yaml:"password" mapstructure:"password"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Events         struct {
		BroadcastAudit       bool `yaml:"broadcast_audit" mapstructure:"broadcast_audit"`
		BroadcastAlerts      bool `yaml:"broadcast_alerts" mapstructure:"broadcast_alerts"`
		BroadcastConnections bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
	} `yaml:"events" mapstructure:"events"`
}

// MetricsConfig contains Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxRequestSize: 10 << 20,
		},
		Privacy: PrivacyConfig{
			Enabled:   true,
			Detectors: []string{"all"},
			Redaction: RedactionConfig{
				Char:           "*",
				PreserveLength: true,
				PartialChars:   2,
				HashPrefix:     "HASH_",
			},
			PreviewLength: 200,
		},
		Audit: AuditConfig{
			MaxEvents:      10000,
			PersistBuffer:  1024,
			PersistTimeout: 5 * time.Second,
			Storage: StorageConfig{
				Backend:         "memory",
				Capacity:        1000,
				RedisURL:        "redis://localhost:6379/0",
				KeyPrefix:       "phi-sentinel",
				MaxConnections:  10,
				MinIdleConns:    2,
				SQLitePath:      "data/audit.db",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 30 * time.Minute,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 600,
			Burst:          50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		WebSocket: WebSocketConfig{
			Enabled:        true,
			Path:           "/ws",
			AllowedOrigins: []string{"*"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
	cfg.Logging.File.Path = "logs/phi-sentinel.log"
	cfg.WebSocket.Events.BroadcastAudit = true
	cfg.WebSocket.Events.BroadcastAlerts = true
	cfg.WebSocket.Events.BroadcastConnections = true
	return cfg
}
