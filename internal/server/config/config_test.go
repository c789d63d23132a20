package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("INVENTORY_DB_PATH", "")
	t.Setenv("INVENTORY_DEVICE_TOKENS", "")
	t.Setenv("INVENTORY_ALLOW_UNAUTH", "")
	t.Setenv("INVENTORY_EVENT_QUEUE_SIZE", "")
	t.Setenv("INVENTORY_HISTORY_LIMIT", "")

	cfg := FromEnv(":8800")

	assert.Equal(t, ":8800", cfg.ListenAddr)
	assert.Equal(t, "./data/inventory.db", cfg.DBPath)
	assert.Empty(t, cfg.DeviceTokens)
	assert.False(t, cfg.AllowUnauth)
	assert.Equal(t, 100, cfg.EventQueueSize)
	assert.Equal(t, 604800, cfg.EventRetentionSeconds)
	assert.Equal(t, 2000, cfg.HistoryLimit)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("INVENTORY_DB_PATH", "/var/lib/inventory.db")
	t.Setenv("INVENTORY_DEVICE_TOKENS", "tok-a, tok-b,")
	t.Setenv("INVENTORY_UI_TOKEN", "ui-secret")
	t.Setenv("INVENTORY_ALLOW_UNAUTH", "true")
	t.Setenv("INVENTORY_EVENT_QUEUE_SIZE", "50")
	t.Setenv("INVENTORY_CORS_ORIGINS", "http://ui.local,http://other.local")

	cfg := FromEnv(":9000")

	assert.Equal(t, "/var/lib/inventory.db", cfg.DBPath)
	assert.Equal(t, []string{"tok-a", "tok-b"}, cfg.DeviceTokens)
	assert.Equal(t, "ui-secret", cfg.UIToken)
	assert.True(t, cfg.AllowUnauth)
	assert.Equal(t, 50, cfg.EventQueueSize)
	assert.Equal(t, []string{"http://ui.local", "http://other.local"}, cfg.CORSOrigins)
}

func TestFromEnvInvalidIntFallsBack(t *testing.T) {
	t.Setenv("INVENTORY_EVENT_MAX_ROWS", "lots")

	cfg := FromEnv(":8800")
	assert.Equal(t, 10000, cfg.EventMaxRows)
}
