package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	conf, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.DataDir, conf.DataDir)
	assert.Equal(t, def.AssetsDir, conf.AssetsDir)
	assert.Equal(t, def.Sync.Workers, conf.Sync.Workers)
	assert.Equal(t, def.Sync.BatchLimit, conf.Sync.BatchLimit)
	assert.True(t, conf.Sync.WifiOnlyOriginals)
	assert.True(t, conf.Cache.Enabled)
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
dataDir: /var/lib/viewfinder
logger:
  level: debug
sync:
  workers: 2
  batchLimit: 5
  loadCooldown: 500ms
  wifiOnlyOriginals: false
metrics:
  enabled: true
  listen: ":9200"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	conf, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/viewfinder", conf.DataDir)
	assert.Equal(t, "debug", conf.Logger.Level)
	assert.Equal(t, 2, conf.Sync.Workers)
	assert.Equal(t, 5, conf.Sync.BatchLimit)
	assert.Equal(t, 500*time.Millisecond, conf.Sync.LoadCooldown)
	assert.False(t, conf.Sync.WifiOnlyOriginals)
	assert.True(t, conf.Metrics.Enabled)
	assert.Equal(t, ":9200", conf.Metrics.Listen)
	// Untouched keys keep their defaults.
	assert.Equal(t, Default().Sync.ThumbnailWait, conf.Sync.ThumbnailWait)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VF_DATA_DIR", "/tmp/vf-env")
	t.Setenv("VF_SYNC_WORKERS", "8")
	t.Setenv("VF_RESET_ERRORS_EPOCH", "3")

	conf, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/vf-env", conf.DataDir)
	assert.Equal(t, 8, conf.Sync.Workers)
	assert.Equal(t, int64(3), conf.Sync.ResetErrorsEpoch)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(*Config) {}, false},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, true},
		{"empty assets dir", func(c *Config) { c.AssetsDir = "" }, true},
		{"zero workers", func(c *Config) { c.Sync.Workers = 0 }, true},
		{"zero batch limit", func(c *Config) { c.Sync.BatchLimit = 0 }, true},
		{"negative cooldown", func(c *Config) { c.Sync.LoadCooldown = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := Default()
			tt.mutate(conf)
			err := conf.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
