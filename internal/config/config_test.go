package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"STORAGE_TYPE", "SQLITE_PATH", "PG_URL", "FILE_ROOT",
		"INSTANCES_MIN_EXPANSION_SPAN", "INSTANCES_MAX_EXCEPTION_SPAN",
		"INSTANCES_TIMEZONE_TYPE", "INSTANCES_HOME_TIMEZONE", "TZ_CACHE_TTL",
		"TZ", "LOG_LEVEL", "CONFIG_FILE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 62*24*time.Hour, cfg.Instances.MinExpansionSpan)
	assert.Equal(t, 7*24*time.Hour, cfg.Instances.MaxExceptionSpan)
	assert.Equal(t, TimezoneAuto, cfg.Instances.TimezoneType)
	assert.Equal(t, time.Hour, cfg.Instances.TimezoneCacheTTL)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_TYPE", "memory")
	t.Setenv("INSTANCES_MIN_EXPANSION_SPAN", "720h")
	t.Setenv("INSTANCES_TIMEZONE_TYPE", "home")
	t.Setenv("INSTANCES_HOME_TIMEZONE", "Europe/Paris")
	t.Setenv("TZ", "America/Los_Angeles")
	t.Setenv("MAINTENANCE_CRON", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 720*time.Hour, cfg.Instances.MinExpansionSpan)
	assert.Equal(t, TimezoneHome, cfg.Instances.TimezoneType)
	assert.Equal(t, "Europe/Paris", cfg.Instances.HomeTimezone)
	assert.Equal(t, "America/Los_Angeles", cfg.Timezone)
	assert.Empty(t, cfg.Instances.MaintenanceCron)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad storage", map[string]string{"STORAGE_TYPE": "mongo"}},
		{"bad span", map[string]string{"INSTANCES_MIN_EXPANSION_SPAN": "two months"}},
		{"negative slack", map[string]string{"INSTANCES_MAX_EXCEPTION_SPAN": "-1h"}},
		{"bad tz", map[string]string{"TZ": "Mars/Olympus"}},
		{"home without zone", map[string]string{"INSTANCES_TIMEZONE_TYPE": "home"}},
		{"bad home zone", map[string]string{"INSTANCES_TIMEZONE_TYPE": "home", "INSTANCES_HOME_TIMEZONE": "Nowhere/Land"}},
		{"bad tz type", map[string]string{"INSTANCES_TIMEZONE_TYPE": "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAINTENANCE_CRON", "")
	require.NoError(t, os.Unsetenv("MAINTENANCE_CRON"))

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  type: filestore
  file_root: /var/lib/calinstances
instances:
  min_expansion_span: 240h
  timezone_type: home
  home_timezone: Asia/Tokyo
  maintenance_cron: "@hourly"
log_level: debug
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "filestore", cfg.Storage.Type)
	assert.Equal(t, "/var/lib/calinstances", cfg.Storage.FileRoot)
	assert.Equal(t, 240*time.Hour, cfg.Instances.MinExpansionSpan)
	assert.Equal(t, 7*24*time.Hour, cfg.Instances.MaxExceptionSpan)
	assert.Equal(t, TimezoneHome, cfg.Instances.TimezoneType)
	assert.Equal(t, "Asia/Tokyo", cfg.Instances.HomeTimezone)
	assert.Equal(t, "@hourly", cfg.Instances.MaintenanceCron)
	assert.Equal(t, "warn", cfg.LogLevel, "environment wins over the file")
}

func TestLoadConfigFileErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unclosed"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	_, err = Load()
	assert.Error(t, err)
}
