package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8097", cfg.Port)
	assert.Equal(t, 5000, cfg.PresenceTimeoutMs)
	assert.Equal(t, 90, cfg.RetentionDays)
	assert.Equal(t, 3, cfg.AutoResolveAfter)
	assert.Equal(t, []string{"advisory"}, cfg.AutoResolveSeverities)
	assert.False(t, cfg.PresenceOverridesAdminStatus)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("PRESENCE_TIMEOUT_MS", "1500")
	t.Setenv("PRESENCE_OVERRIDES_ADMIN_STATUS", "true")
	t.Setenv("AUTO_RESOLVE_SEVERITIES", "Advisory, warning")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 1500, cfg.PresenceTimeoutMs)
	assert.True(t, cfg.PresenceOverridesAdminStatus)
	assert.Equal(t, []string{"advisory", "warning"}, cfg.AutoResolveSeverities)
}
