package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_KEY", "super-secret-passphrase")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "auth_session_ticketer", cfg.CookieName)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, time.Minute, cfg.MonitorInterval)
	assert.Equal(t, 5*time.Minute, cfg.WarningThreshold)
	assert.Equal(t, "sessions.db", cfg.SessionDBPath)
	assert.Equal(t, "/login", cfg.LoginPath)
	assert.True(t, cfg.CookieSecure)
}

func TestLoadRequiresSessionKey(t *testing.T) {
	t.Setenv("SESSION_KEY", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLegacyCookieNameList(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, []string{"auth_session", "session_ticketer"}, cfg.LegacyCookieNameList())

	cfg.LegacyCookieNames = "old_one, old_two ,"
	assert.Equal(t, []string{"old_one", "old_two"}, cfg.LegacyCookieNameList())
}
