package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// writeConfig writes yamlContent to a temp config.yaml and returns its path.
func writeConfig(t *testing.T, yamlContent string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ENVIRONMENT", "BASE_URL", "PGHOST", "STORAGE_BACKEND",
		"REVIEW_ELEVATED_ROLES", "REVIEW_NOTIFICATION_TIMEOUT", "NOTIFY_REDIS_CHANNEL", "REDIS_HOST",
	} {
		if v, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, v) })
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	yamlContent := `
port: "3450"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yamlContent), 0644))

	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})

	t.Setenv("PORT", "4450")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load("test-version")
	require.NoError(t, err)

	assert.Equal(t, "4450", cfg.Port)
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, "http://localhost:4450", cfg.BaseURL)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile(writeConfig(t, `env: "test"`), "dev")
	require.NoError(t, err)

	assert.Equal(t, StorageBackendPostgres, cfg.Storage.Backend)
	assert.Equal(t, []string{"owner", "admin"}, cfg.Review.ElevatedRoles)
	assert.Equal(t, 5*time.Second, cfg.Review.NotificationTimeout)
	assert.Equal(t, 500, cfg.Review.ListLimit)
	assert.Equal(t, DefaultCollections(), cfg.Review.Collections)
	assert.Empty(t, cfg.Storage.JournalPath)
}

func TestLoad_ReviewSectionFromYAML(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile(writeConfig(t, `
storage:
  backend: memory
review:
  elevated_roles: "owner"
  notification_timeout: 750ms
  collections:
    - name: risks
      area_field: area
      key_fields: [title]
    - name: vendors
notifications:
  log_channel: true
  webhooks:
    - name: ops
      url: https://hooks.example.com/review
      template: "{{.Kind}}"
`), "dev")
	require.NoError(t, err)

	assert.Equal(t, StorageBackendMemory, cfg.Storage.Backend)
	assert.Equal(t, []string{"owner"}, cfg.Review.ElevatedRoles)
	assert.Equal(t, 750*time.Millisecond, cfg.Review.NotificationTimeout)
	require.Len(t, cfg.Review.Collections, 2)
	assert.Equal(t, "vendors", cfg.Review.Collections[1].Name)
	assert.Empty(t, cfg.Review.Collections[1].AreaField)
	assert.True(t, cfg.Notifications.LogChannel)
	require.Len(t, cfg.Notifications.Webhooks, 1)
	assert.Equal(t, "https://hooks.example.com/review", cfg.Notifications.Webhooks[0].URL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown backend", "storage:\n  backend: mongo\n"},
		{"unknown elevated role", "review:\n  elevated_roles: \"owner,root\"\n"},
		{"duplicate collection", "review:\n  collections:\n    - name: risks\n    - name: risks\n"},
		{"webhook without url", "notifications:\n  webhooks:\n    - name: ops\n"},
		{"redis channel without redis", "notifications:\n  redis_channel: review-events\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := LoadFile(writeConfig(t, tt.yaml), "dev")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), "dev")
	assert.Error(t, err)
}

func TestDatabaseConfig_URL(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5433, User: "ekaya", Password: "p@ss", Database: "review", SSLMode: "disable"}
	assert.Equal(t, "postgres://ekaya:p%40ss@db:5433/review?sslmode=disable", cfg.URL())
}

func TestLoad_RenderedCollections(t *testing.T) {
	clearEnv(t)
	want := []CollectionConfig{
		{Name: "risks", AreaField: "area", KeyFields: []string{"title"}},
		{Name: "vendors", KeyFields: []string{"name", "country"}},
	}
	rendered, err := yaml.Marshal(map[string]any{
		"env":    "test",
		"review": map[string]any{"collections": want},
	})
	require.NoError(t, err)

	cfg, err := LoadFile(writeConfig(t, string(rendered)), "dev")
	require.NoError(t, err)
	assert.Equal(t, want, cfg.Review.Collections)
}
