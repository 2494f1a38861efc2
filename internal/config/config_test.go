package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/noorsync/backend/internal/errors"
	"github.com/kimhsiao/noorsync/backend/internal/logging"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestDefaults verifies the configuration used without a file.
func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := NewLoader("").Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 30*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, []string{"surahs", "verses", "hadiths", "vocabulary"}, cfg.Sync.ContentTypes)
	assert.Equal(t, 24*time.Hour, cfg.Sync.MaxAge)
	assert.Equal(t, 10*time.Minute, cfg.Sync.StaleLockAfter)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.SyncInterval)
	assert.Equal(t, time.Minute, cfg.Scheduler.CheckInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
	assert.Equal(t, "localhost:8090", cfg.Desktop.Addr)
}

// TestYAMLFile verifies file values override defaults.
func TestYAMLFile(t *testing.T) {
	path := writeConfig(t, "noorsync.yaml", `
data_dir: /var/lib/noorsync
remote:
  base_url: https://api.example.com
  timeout: 5s
sync:
  content_types: [surahs, verses, conversation_scenarios]
  stale_lock_after: 2m
log:
  level: debug
  file: /tmp/noorsync.log
`)

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, path, loader.ConfigFile())
	assert.Equal(t, "/var/lib/noorsync", cfg.DataDir)
	assert.Equal(t, "https://api.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, []string{"surahs", "verses", "conversation_scenarios"}, cfg.Sync.ContentTypes)
	assert.Equal(t, 2*time.Minute, cfg.Sync.StaleLockAfter)
	assert.Equal(t, 4, cfg.Sync.Concurrency)

	opts, err := cfg.Log.LoggingOptions()
	require.NoError(t, err)
	assert.Equal(t, string(logging.LevelDebug), opts.Level)
	assert.Equal(t, "/tmp/noorsync.log", opts.File)
}

// TestEnvOverrides verifies NOOR_* variables win over the file.
func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "noorsync.yaml", "remote:\n  base_url: https://file.example.com\n")
	t.Setenv("NOOR_REMOTE_BASE_URL", "https://env.example.com")
	t.Setenv("NOOR_SYNC_CONCURRENCY", "2")
	t.Setenv("NOOR_SYNC_MAX_AGE", "1h")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 2, cfg.Sync.Concurrency)
	assert.Equal(t, time.Hour, cfg.Sync.MaxAge)
}

// TestMissingExplicitFile verifies an explicit path must exist.
func TestMissingExplicitFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	assert.True(t, errors.Is(err, errors.ErrConfigInvalid))
}

// TestValidate verifies rejected values.
func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad url", "remote:\n  base_url: ftp://x\n"},
		{"zero timeout", "remote:\n  timeout: 0s\n"},
		{"zero concurrency", "sync:\n  concurrency: 0\n"},
		{"negative max age", "sync:\n  max_age: -1h\n"},
		{"empty content type", "sync:\n  content_types: [surahs, '']\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"zero interval", "scheduler:\n  check_interval: 0s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(writeConfig(t, "noorsync.yaml", tt.body)).Load()
			assert.True(t, errors.Is(err, errors.ErrConfigInvalid), "got %v", err)
		})
	}
}

// TestWatch verifies edits to the config file are delivered.
func TestWatch(t *testing.T) {
	path := writeConfig(t, "noorsync.yaml", "log:\n  level: info\n")
	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 16)
	loader.Watch(func(c *Config) { changed <- c })

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644))

	// A truncate and a write may arrive as separate events.
	timeout := time.After(3 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Log.Level == "warn" {
				return
			}
		case <-timeout:
			t.Fatal("config change not observed")
		}
	}
}
