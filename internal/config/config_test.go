package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("HTTP_LISTEN_ADDR")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("WEBHOOK_MAX_RETRIES")
	os.Unsetenv("WEBHOOK_BACKOFF_BASE")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "", cfg.DatabaseURL)
	assert.Equal(t, ":8090", cfg.HTTPListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5, cfg.WebhookMaxRetries)
	assert.Equal(t, time.Minute, cfg.WebhookBackoffBase)
	assert.Equal(t, time.Hour, cfg.WebhookBackoffMax)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/escrowd")
	t.Setenv("WEBHOOK_MAX_RETRIES", "3")
	t.Setenv("WEBHOOK_BACKOFF_BASE", "10s")
	t.Setenv("JOB_DEBOUNCE", "1m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost:5432/escrowd", cfg.DatabaseURL)
	assert.Equal(t, 3, cfg.WebhookMaxRetries)
	assert.Equal(t, 10*time.Second, cfg.WebhookBackoffBase)
	assert.Equal(t, time.Minute, cfg.JobDebounce)
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("WEBHOOK_BACKOFF_BASE", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEBHOOK_BACKOFF_BASE")
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate("escrow-api"))

	cfg.DatabaseURL = "postgres://localhost/escrowd"
	require.Error(t, cfg.Validate("escrow-api"), "S3 endpoint still missing")

	cfg.S3Endpoint = "http://localhost:9000"
	require.Error(t, cfg.Validate("escrow-api"), "signing key still missing")

	cfg.WebhookSigningKey = "secret"
	require.NoError(t, cfg.Validate("escrow-api"))

	require.Error(t, cfg.Validate("dispatcher"), "moderation URL still missing")
	cfg.ModerationURL = "http://moderation.local"
	require.NoError(t, cfg.Validate("dispatcher"))
}

func TestLoadChains(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	data := `chains:
  - chain_id: 137
    name: polygon
    gateway_url: http://gateway-polygon:8545
  - chain_id: 80002
    name: amoy
    gateway_url: http://gateway-amoy:8545
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	reg, err := LoadChains(path)
	require.NoError(t, err)

	c, err := reg.Get(137)
	require.NoError(t, err)
	assert.Equal(t, "polygon", c.Name)
	assert.Equal(t, "http://gateway-polygon:8545", c.GatewayURL)

	_, err = reg.Get(1)
	require.Error(t, err)

	assert.ElementsMatch(t, []int64{137, 80002}, reg.IDs())
}

func TestLoadChains_MissingGateway(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chains:\n  - chain_id: 1\n    name: mainnet\n"), 0o644))

	_, err := LoadChains(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway_url")
}
