package gamify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, StorageMemory, cfg.Storage.Type)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "/gamification", cfg.HTTP.Prefix)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
storage:
  type: redis
  redis:
    addr: redis.internal:6379
http:
  addr: ":9090"
webhooks:
  enabled: true
  retryDelay: 2s
modules:
  points:
    dailyLimit: 500
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, StorageRedis, cfg.Storage.Type)
	assert.Equal(t, "redis.internal:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.True(t, cfg.Webhooks.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Webhooks.RetryDelay)
	// Untouched sections keep their defaults.
	assert.Equal(t, "/gamification", cfg.HTTP.Prefix)
	assert.Equal(t, 500, cfg.Modules["points"]["dailyLimit"])
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[storage]
type = "memory"

[http]
addr = ":7070"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "config.ini", "[storage]\n"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = LoadConfig(writeConfig(t, "bad.yaml", "storage:\n  type: cassandra\n"))
	assert.ErrorIs(t, err, ErrUnknownStorageType)

	_, err = LoadConfig(writeConfig(t, "broken.yaml", "storage: ["))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GAMIFY_HTTP_ADDR", ":6060")
	t.Setenv("GAMIFY_STORAGE_TYPE", "redis")
	t.Setenv("REDIS_ADDR", "env.redis:6379")
	t.Setenv("GAMIFY_PRODUCTION", "true")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.HTTP.Addr)
	assert.Equal(t, StorageRedis, cfg.Storage.Type)
	assert.Equal(t, "env.redis:6379", cfg.Storage.Redis.Addr)
	assert.True(t, cfg.Security.Production)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	t.Setenv("GAMIFY_HTTP_ADDR", ":6061")
	path := writeConfig(t, "config.yaml", "http:\n  addr: \":9090\"\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":6061", cfg.HTTP.Addr)
}

func TestDeepMerge(t *testing.T) {
	base := map[string]any{
		"a": 1,
		"nested": map[string]any{
			"keep":     "base",
			"override": "base",
		},
		"list": []any{1, 2},
	}
	override := map[string]any{
		"nested": map[string]any{
			"override": "new",
			"added":    true,
		},
		"list": []any{3},
		"b":    2,
	}

	merged := DeepMerge(base, override)
	assert.Equal(t, 1, merged["a"])
	assert.Equal(t, 2, merged["b"])
	nested := merged["nested"].(map[string]any)
	assert.Equal(t, "base", nested["keep"])
	assert.Equal(t, "new", nested["override"])
	assert.Equal(t, true, nested["added"])
	// Arrays replace rather than merge.
	assert.Equal(t, []any{3}, merged["list"])

	// Inputs are untouched.
	assert.Equal(t, "base", base["nested"].(map[string]any)["override"])
	assert.NotContains(t, override["nested"], "keep")
}
