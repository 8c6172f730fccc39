package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 0.0001, cfg.Billing.MinBalance)
	assert.Equal(t, 60, cfg.Upstream.TimeoutSeconds)
}

func TestLoad_EnvOverrides(t *testing.T) {
	os.Clearenv()
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_ENV", "test")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("SECURITY_ENCRYPTION_KEY", "c2VjcmV0LWtleS1mb3ItdGVzdHM=")
	t.Setenv("SERVER_ADMIN_KEYS", "admin-key-1,admin-key-2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "test", cfg.Server.Env)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "c2VjcmV0LWtleS1mb3ItdGVzdHM=", cfg.Security.EncryptionKey)
	assert.Equal(t, []string{"admin-key-1", "admin-key-2"}, cfg.Server.AdminKeys)
}
