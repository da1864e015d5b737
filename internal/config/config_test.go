package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.JSON)

	assert.Equal(t, "data/meetings.db", cfg.Store.Path)
	assert.Equal(t, "feeds.yaml", cfg.Feeds.File)

	assert.True(t, cfg.Scrape.Geocode)
	assert.Equal(t, 10*time.Second, cfg.Scrape.GeocodeTimeout)
	assert.Equal(t, 3, cfg.Scrape.StoreRetries)

	assert.Equal(t, "https://nominatim.openstreetmap.org", cfg.Geocode.BaseURL)
	assert.Equal(t, 1.0, cfg.Geocode.RequestsPerSecond)

	assert.Equal(t, 0.1, cfg.Cluster.CellSizeDegrees)
	assert.Equal(t, 25.0, cfg.Cluster.AttachThresholdKm)

	assert.False(t, cfg.Archive.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
store:
  path: /tmp/test.db
scrape:
  geocode: false
  geocode_timeout: 5s
archive:
  enabled: true
  bucket: my-archives
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/tmp/test.db", cfg.Store.Path)
	assert.False(t, cfg.Scrape.Geocode)
	assert.Equal(t, 5*time.Second, cfg.Scrape.GeocodeTimeout)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "my-archives", cfg.Archive.Bucket)

	// untouched keys keep defaults
	assert.Equal(t, "localhost", cfg.Server.Host)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MEETINGSCRAPER_SERVER_PORT", "7000")
	t.Setenv("MEETINGSCRAPER_LOGGING_LEVEL", "debug")
	t.Setenv("MEETINGSCRAPER_STORE_PATH", "/tmp/env.db")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/env.db", cfg.Store.Path)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	_, err := Load(write("no-store.yaml", "store:\n  path: \"\"\n"))
	require.Error(t, err)

	_, err = Load(write("bad-port.yaml", "server:\n  port: 99999\n"))
	require.Error(t, err)

	_, err = Load(write("bad-archive.yaml", "archive:\n  enabled: true\n"))
	require.Error(t, err)

	_, err = Load(write("ambiguous-archive.yaml", "archive:\n  enabled: true\n  bucket: b\n  directory: /tmp/a\n"))
	require.Error(t, err)

	_, err = Load(write("bad-cell.yaml", "cluster:\n  cell_size_degrees: 0\n"))
	require.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
