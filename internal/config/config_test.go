package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadIn(t *testing.T, dir string) *Config {
	t.Helper()

	t.Setenv("CONFIG_PATH", filepath.Join(dir, "config.json"))
	t.Setenv("GALLERY_PROFILE_DIR", filepath.Join(dir, "profile"))

	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

// clearEnv blanks overrides that may leak in from the surrounding
// environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "DATABASE_PATH",
		"OBJECT_STORE_ENDPOINT", "AUDIT_WEBHOOK_URL",
		"SYNC_POLL_INTERVAL_SECONDS", "UPLOAD_CONCURRENCY_WIDTH",
	} {
		if os.Getenv(key) != "" {
			t.Setenv(key, "")
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := loadIn(t, t.TempDir())

	assert.False(t, cfg.Database.UsePostgres())
	assert.Equal(t, "gallery.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Upload.ConcurrencyWidth)
	assert.Equal(t, 1920, cfg.Upload.MaxDimension)
	assert.Equal(t, 85, cfg.Upload.JPEGQuality)
	assert.Equal(t, int64(100*1024), cfg.Upload.MinCompressBytes)
	assert.Equal(t, 30*time.Second, cfg.Sync.PollInterval())
	assert.Equal(t, 10, cfg.Audit.MaxGroupsPerRun)
	assert.Equal(t, ":5000", cfg.API.Address)

	// Profile directory must exist after loading.
	info, err := os.Stat(cfg.ProfileDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoad_FromFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	content := `{
		"database": {"url": "postgres://localhost/gallery"},
		"upload": {"concurrencyWidth": 8},
		"sync": {"pollIntervalSeconds": 60}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0o644))

	cfg := loadIn(t, dir)

	assert.True(t, cfg.Database.UsePostgres())
	assert.Equal(t, 8, cfg.Upload.ConcurrencyWidth)
	assert.Equal(t, time.Minute, cfg.Sync.PollInterval())
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("DATABASE_URL", "postgres://db.example.com/pool")
	t.Setenv("OBJECT_STORE_ENDPOINT", "http://127.0.0.1:9000")
	t.Setenv("AUDIT_WEBHOOK_URL", "https://discord.test/hook")
	t.Setenv("UPLOAD_CONCURRENCY_WIDTH", "2")
	t.Setenv("SYNC_POLL_INTERVAL_SECONDS", "10")

	cfg := loadIn(t, dir)

	assert.Equal(t, "postgres://db.example.com/pool", cfg.Database.URL)
	assert.Equal(t, "http://127.0.0.1:9000", cfg.ObjectStore.Endpoint)
	assert.Equal(t, "https://discord.test/hook", cfg.Audit.WebhookURL)
	assert.Equal(t, 2, cfg.Upload.ConcurrencyWidth)
	assert.Equal(t, 10*time.Second, cfg.Sync.PollInterval())
}

func TestPollInterval_Floor(t *testing.T) {
	s := Sync{PollIntervalSeconds: 0}
	assert.Equal(t, time.Second, s.PollInterval())

	s.PollIntervalSeconds = -5
	assert.Equal(t, time.Second, s.PollInterval())
}
