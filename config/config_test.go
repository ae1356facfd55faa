package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "absence.db", cfg.DBPath)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, time.Hour, cfg.AuditInterval)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.AutoApprove)
}

func TestLoad_EnvAndFlags(t *testing.T) {
	// GIVEN: environment and a .env file
	t.Setenv("PORT", "9000")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("AUTO_APPROVE", "true")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("LOG_LEVEL=debug\nAUDIT_INTERVAL=15m\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("AUDIT_INTERVAL")
	})

	// WHEN: flags override the port
	cfg, err := Load([]string{"-port", "9100", "-db", ":memory:"}, envFile)
	require.NoError(t, err)

	// THEN
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Equal(t, 15*time.Minute, cfg.AuditInterval)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.True(t, cfg.AutoApprove)
}

func TestLoad_RejectsUnknownStore(t *testing.T) {
	_, err := Load([]string{"-store", "postgres"}, filepath.Join(t.TempDir(), "none.env"))
	assert.ErrorContains(t, err, "unknown store")
}

func TestLoad_RejectsBadLogLevel(t *testing.T) {
	_, err := Load([]string{"-log-level", "loud"}, filepath.Join(t.TempDir(), "none.env"))
	assert.Error(t, err)
}
