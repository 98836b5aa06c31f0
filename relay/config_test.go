package relay

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModeDirect, cfg.Relay.Mode)
	assert.Equal(t, int64(10<<20), cfg.Relay.MaxFileSize)
	assert.Equal(t, int64(11<<20), cfg.MaxBodySize())
	assert.Equal(t, 150*time.Second, cfg.WriteTimeout())
	assert.Equal(t, "id", cfg.Server.Language)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":8080"
relay:
  mode: disk-staged
  max_file_size: 2048
upstream:
  enhance_timeout: 5s
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ModeDiskStaged, cfg.Relay.Mode)
	assert.Equal(t, int64(2048), cfg.Relay.MaxFileSize)
	assert.Equal(t, 5*time.Second, cfg.Upstream.EnhanceTimeout)
	// untouched keys keep their defaults
	assert.Equal(t, 4, cfg.Relay.TwoHopScale)
	assert.Equal(t, "/uploads/", cfg.Uploads.URLPrefix)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "relay:\n  mode: direct\n")
	t.Setenv("IMAGETOHD_RELAY_MODE", "two-hop")
	t.Setenv("IMAGETOHD_RELAY_ALLOWED_EXTENSIONS", "png,jpg")
	t.Setenv("IMAGETOHD_STAGING_BACKEND", "s3")
	t.Setenv("IMAGETOHD_STAGING_S3_ENDPOINT", "localhost:9000")
	t.Setenv("IMAGETOHD_STAGING_S3_BUCKET", "staging")
	t.Setenv("IMAGETOHD_UPSTREAM_TWO_HOP_TIMEOUT", "90s")
	t.Setenv("IMAGETOHD_SERVER_LANGUAGE", "en")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ModeTwoHop, cfg.Relay.Mode)
	assert.Equal(t, []string{"png", "jpg"}, cfg.Relay.AllowedExtensions)
	assert.Equal(t, StagingS3, cfg.Staging.Backend)
	assert.Equal(t, "staging", cfg.Staging.S3.Bucket)
	assert.Equal(t, 90*time.Second, cfg.Upstream.TwoHopTimeout)
	assert.Equal(t, "en", cfg.Server.Language)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "relay: [\n"))
		assert.Error(t, err)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "relay:\n  mode: teleport\n"))
		assert.ErrorContains(t, err, "teleport")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero size", func(c *Config) { c.Relay.MaxFileSize = 0 }, "max_file_size"},
		{"relative enhance url", func(c *Config) { c.Upstream.EnhanceURL = "/upscale" }, "enhance_url"},
		{"prefix without slash", func(c *Config) { c.Uploads.URLPrefix = "uploads" }, "url_prefix"},
		{"s3 without bucket", func(c *Config) { c.Staging.Backend = StagingS3 }, "staging.s3"},
		{"bad public url", func(c *Config) { c.Server.PublicURL = "example.com" }, "public_url"},
		{"bad language", func(c *Config) { c.Server.Language = "not a tag!" }, "server.language"},
		{"empty language", func(c *Config) { c.Server.Language = "" }, "server.language"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
