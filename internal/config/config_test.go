package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Manager.MaxActive)
	assert.Equal(t, 100, cfg.Manager.MaxRecent)
	assert.Equal(t, 500, cfg.Manager.MaxEventLog)
	assert.Equal(t, 600*time.Second, cfg.Manager.IdleTimeout)
	assert.Equal(t, 2, cfg.Manager.AgentMaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Manager.HeartbeatInterval)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("MAX_ACTIVE_SESSIONS", "3")
	t.Setenv("IDLE_TIMEOUT_SECONDS", "30")
	t.Setenv("HTTP_ADDR", ":9999")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Manager.MaxActive)
	assert.Equal(t, 30*time.Second, cfg.Manager.IdleTimeout)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
}

func TestLoadRejectsMalformedInt(t *testing.T) {
	t.Setenv("MAX_ACTIVE_SESSIONS", "not-a-number")
	_, err := Load("")
	assert.Error(t, err)
}
