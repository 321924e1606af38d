package config

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
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
mysql:
  host: db.internal
  database: cards
redis:
  host: cache.internal
business:
  exclusion_lock_ttl_seconds: 15
  card_no_prefix: "7700"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.MySQL.Host)
	assert.Equal(t, "cards", cfg.MySQL.Database)
	assert.Equal(t, 3306, cfg.MySQL.Port)
	assert.Equal(t, "cache.internal", cfg.Redis.Host)
	assert.Equal(t, 15*time.Second, cfg.Business.ExclusionLockTTL())
	assert.Equal(t, 24*time.Hour, cfg.Business.IdempotencyTTL())
	assert.Equal(t, "7700", cfg.Business.CardNoPrefix)
	assert.Equal(t, "giftcard_event", cfg.Kafka.Topic.CardEvent)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
mysql:
  password: from-file
`)
	t.Setenv("GIFTCARD_MYSQL_PASSWORD", "from-env")
	t.Setenv("GIFTCARD_BUSINESS_MAX_ISSUE_QUANTITY", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.MySQL.Password)
	assert.Equal(t, 7, cfg.Business.MaxIssueQuantity)
}

func TestLoadConfig_DefaultsOnly(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 16, cfg.Business.CardNoLength)
	assert.Equal(t, 100*time.Millisecond, cfg.Business.OutboxInterval())
}

func TestLoadConfig_ValidationFails(t *testing.T) {
	path := writeConfig(t, `
log:
  level: verbose
`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
