// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Agent        AgentConfig        `mapstructure:"agent"`
	Health       HealthConfig       `mapstructure:"health"`
	Verification VerificationConfig `mapstructure:"verification"`
	Store        StoreConfig        `mapstructure:"store"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	TTS          TTSConfig          `mapstructure:"tts"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// AgentConfig points at the remote agent's session API.
type AgentConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Source         string `mapstructure:"source"`
	StartingBranch string `mapstructure:"starting_branch"`
	AutomationMode string `mapstructure:"automation_mode"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HealthConfig governs crawler health-check probes.
type HealthConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	BasePath       string `mapstructure:"base_path"`
	TrendsMinItems int    `mapstructure:"trends_min_items"`
	VideosMinItems int    `mapstructure:"videos_min_items"`
	ForumMinItems  int    `mapstructure:"forum_min_items"`
}

// VerificationConfig bounds the session lifecycle manager.
type VerificationConfig struct {
	MaxSessions   int `mapstructure:"max_sessions"`
	ActivityLimit int `mapstructure:"activity_limit"`
}

// StoreConfig selects the card store implementation.
type StoreConfig struct {
	Provider string         `mapstructure:"provider"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig controls the Postgres-backed card store.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig controls the Redis-backed card store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ArchiveConfig selects where terminal-card reports are archived.
type ArchiveConfig struct {
	Provider    string `mapstructure:"provider"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	BaseDir     string `mapstructure:"base_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// NotifyConfig holds metadata for lifecycle publish-subscribe events.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TTSConfig points at the external text-to-speech endpoint.
type TTSConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Language       string `mapstructure:"language"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRENDSENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("agent.base_url", "https://jules.googleapis.com/v1alpha")
	v.SetDefault("agent.starting_branch", "main")
	v.SetDefault("agent.automation_mode", "AUTO_CREATE_PR")
	v.SetDefault("agent.timeout_seconds", 30)
	v.SetDefault("health.timeout_seconds", 10)
	v.SetDefault("health.trends_min_items", 20)
	v.SetDefault("health.videos_min_items", 5)
	v.SetDefault("health.forum_min_items", 5)
	v.SetDefault("verification.max_sessions", 15)
	v.SetDefault("verification.activity_limit", 30)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("store.postgres.table", "verification_cards")
	v.SetDefault("store.redis.key_prefix", "trendsentry")
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.prefix", "reports")
	v.SetDefault("archive.content_type", "text/markdown; charset=utf-8")
	v.SetDefault("notify.provider", "none")
	v.SetDefault("tts.endpoint", "https://translate.googleapis.com/translate_tts")
	v.SetDefault("tts.language", "ko")
	v.SetDefault("tts.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("tts.timeout_seconds", 15)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Agent.BaseURL == "" {
		return fmt.Errorf("agent.base_url is required")
	}
	if c.Health.TimeoutSeconds <= 0 {
		return fmt.Errorf("health.timeout_seconds must be > 0")
	}
	if c.Verification.MaxSessions <= 0 {
		return fmt.Errorf("verification.max_sessions must be > 0")
	}
	if c.Verification.ActivityLimit <= 0 {
		return fmt.Errorf("verification.activity_limit must be > 0")
	}
	switch c.Store.Provider {
	case "memory":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set when store.provider is postgres")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr must be set when store.provider is redis")
		}
	default:
		return fmt.Errorf("unknown store provider %q", c.Store.Provider)
	}
	switch c.Archive.Provider {
	case "none", "memory":
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
		}
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.provider is local")
		}
	default:
		return fmt.Errorf("unknown archive provider %q", c.Archive.Provider)
	}
	switch c.Notify.Provider {
	case "none", "memory":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.TopicName == "" {
			return fmt.Errorf("notify.project_id and notify.topic_name must be set when notify.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown notify provider %q", c.Notify.Provider)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// HealthTimeout converts the probe timeout into a duration.
func (c Config) HealthTimeout() time.Duration {
	return time.Duration(c.Health.TimeoutSeconds) * time.Second
}

// AgentTimeout converts the gateway timeout into a duration.
func (c Config) AgentTimeout() time.Duration {
	return time.Duration(c.Agent.TimeoutSeconds) * time.Second
}

// TTSTimeout converts the text-to-speech timeout into a duration.
func (c Config) TTSTimeout() time.Duration {
	return time.Duration(c.TTS.TimeoutSeconds) * time.Second
}
