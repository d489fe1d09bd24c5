package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/ekaya-review/pkg/models"
)

// Storage backends.
const (
	StorageBackendPostgres = "postgres"
	StorageBackendMemory   = "memory"
)

// Config holds all configuration for ekaya-review.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3450"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis is optional; when Host is empty the Redis notification channel is disabled.
	Redis RedisConfig `yaml:"redis"`

	Storage StorageConfig `yaml:"storage"`

	Review ReviewConfig `yaml:"review"`

	Notifications NotificationsConfig `yaml:"notifications"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_review"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// StorageConfig selects the persistence adapters.
type StorageConfig struct {
	// Backend is "postgres" for production or "memory" for local development.
	Backend string `yaml:"backend" env:"STORAGE_BACKEND" env-default:"postgres"`
	// JournalPath is the directory of the local audit journal. Empty disables it.
	JournalPath string `yaml:"journal_path" env:"AUDIT_JOURNAL_PATH" env-default:""`
	// MigrationsEnabled runs embedded migrations at startup.
	MigrationsEnabled bool `yaml:"migrations_enabled" env:"MIGRATIONS_ENABLED" env-default:"true"`
}

// ReviewConfig configures the change review engine.
type ReviewConfig struct {
	// ElevatedRolesStr is a comma-separated list of roles that always see every area.
	ElevatedRolesStr string `yaml:"elevated_roles" env:"REVIEW_ELEVATED_ROLES" env-default:"owner,admin"`

	// ElevatedRoles is parsed from ElevatedRolesStr (not from config file).
	ElevatedRoles []string `yaml:"-"`

	// NotificationTimeout bounds each notification channel delivery.
	NotificationTimeout time.Duration `yaml:"notification_timeout" env:"REVIEW_NOTIFICATION_TIMEOUT" env-default:"5s"`

	// ListLimit caps proposal listings that do not set their own limit.
	ListLimit int `yaml:"list_limit" env:"REVIEW_LIST_LIMIT" env-default:"500"`

	// Collections declares the target collections proposals may touch.
	Collections []CollectionConfig `yaml:"collections"`
}

// CollectionConfig describes one target collection.
type CollectionConfig struct {
	Name string `yaml:"name"`
	// AreaField names the field carrying the visibility area tag. Empty means
	// records of this collection are never area-restricted.
	AreaField string `yaml:"area_field"`
	// KeyFields form the natural key used by upsert when no target_id is given.
	KeyFields []string `yaml:"key_fields"`
}

// NotificationsConfig configures outbound notification channels.
type NotificationsConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// RedisChannel is the pub/sub channel for review events. Requires Redis.
	RedisChannel  string `yaml:"redis_channel" env:"NOTIFY_REDIS_CHANNEL" env-default:""`
	RedisTemplate string `yaml:"redis_template" env:"NOTIFY_REDIS_TEMPLATE" env-default:""`

	// LogChannel writes every notification to the service log.
	LogChannel bool `yaml:"log_channel" env:"NOTIFY_LOG_CHANNEL" env-default:"false"`
}

// WebhookConfig is one outbound webhook channel.
type WebhookConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Template string `yaml:"template"`
}

// DefaultCollections are used when the config file declares none.
func DefaultCollections() []CollectionConfig {
	return []CollectionConfig{
		{Name: "actions", AreaField: "area", KeyFields: []string{"title"}},
		{Name: "risks", AreaField: "area", KeyFields: []string{"title"}},
		{Name: "decisions", AreaField: "area", KeyFields: []string{"title"}},
		{Name: "issues", AreaField: "area", KeyFields: []string{"title"}},
		{Name: "integrations", AreaField: "area", KeyFields: []string{"name"}},
	}
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile reads configuration from path with environment variable overrides.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	cfg.resolveServiceHosts()

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.Review.ElevatedRoles = parseList(c.Review.ElevatedRolesStr)
	for _, role := range c.Review.ElevatedRoles {
		if !models.IsValidRole(role) {
			return fmt.Errorf("unknown elevated role %q", role)
		}
	}
	if len(c.Review.Collections) == 0 {
		c.Review.Collections = DefaultCollections()
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case StorageBackendPostgres, StorageBackendMemory:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q",
			StorageBackendPostgres, StorageBackendMemory, c.Storage.Backend)
	}

	if c.Review.NotificationTimeout <= 0 {
		return fmt.Errorf("review.notification_timeout must be positive")
	}

	seen := make(map[string]bool, len(c.Review.Collections))
	for _, col := range c.Review.Collections {
		name := strings.TrimSpace(col.Name)
		if name == "" {
			return fmt.Errorf("collection name is required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate collection %q", name)
		}
		seen[name] = true
	}

	for _, wh := range c.Notifications.Webhooks {
		if wh.Name == "" || wh.URL == "" {
			return fmt.Errorf("webhook name and url are required")
		}
		if _, err := url.ParseRequestURI(wh.URL); err != nil {
			return fmt.Errorf("webhook %q has invalid url: %w", wh.Name, err)
		}
	}

	if c.Notifications.RedisChannel != "" && c.Redis.Host == "" {
		return fmt.Errorf("notifications.redis_channel requires redis.host")
	}

	return nil
}

// parseList splits a comma-separated value and drops empty entries.
func parseList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// URL returns the database as a postgres:// URL (required by golang-migrate).
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}
