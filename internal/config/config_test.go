package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 100, cfg.RateLimit)
	assert.Equal(t, time.Minute, cfg.RateWindow)
	assert.Equal(t, 300*time.Second, cfg.TokenBuffer)
	assert.Equal(t, 15*time.Minute, cfg.RetryInterval)
	assert.Equal(t, domain.SeverityWarning, cfg.NotifyMinSeverity)
	assert.True(t, cfg.RetryEnabled)
	assert.Empty(t, cfg.RedisURL)
	assert.Nil(t, cfg.AllowedOrigins)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RATE_LIMIT", "60")
	t.Setenv("RATE_WINDOW", "30s")
	t.Setenv("RETRY_INTERVAL", "120")
	t.Setenv("RETRY_ENABLED", "no")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("RECONCILE_DETAIL_RATE", "2.5")

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 60, cfg.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.RateWindow)
	assert.Equal(t, 2*time.Minute, cfg.RetryInterval)
	assert.False(t, cfg.RetryEnabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 2.5, cfg.ReconcileDetailRate)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ACCOUNTING_TENANT_ID=tenant-from-file\n"), 0o600))
	t.Setenv("ACCOUNTING_TENANT_ID", "")
	os.Unsetenv("ACCOUNTING_TENANT_ID")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tenant-from-file", cfg.TenantID)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad log level", "LOG_LEVEL", "loud"},
		{"bad log format", "LOG_FORMAT", "xml"},
		{"port out of range", "PORT", "70000"},
		{"zero rate limit", "RATE_LIMIT", "0"},
		{"unknown severity", "NOTIFY_MIN_SEVERITY", "panic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load(missingEnvFile(t))
			assert.Error(t, err)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"", 5 * time.Second},
		{"90s", 90 * time.Second},
		{"2m", 2 * time.Minute},
		{"45", 45 * time.Second},
		{"soon", 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			assert.Equal(t, tt.expected, getEnvDuration("TEST_DURATION", 5*time.Second))
		})
	}
}

func TestRequireAccounting(t *testing.T) {
	cfg := &Config{}
	err := cfg.RequireAccounting()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotConfigured))
	assert.Contains(t, err.Error(), "ACCOUNTING_BASE_URL")
	assert.Contains(t, err.Error(), "CREDENTIALS_KEY")

	cfg = &Config{AccountingBaseURL: "https://api.books.example", TokenURL: "https://id.books.example/token", CredentialsKey: "k"}
	assert.NoError(t, cfg.RequireAccounting())
}

func TestRequireAPI(t *testing.T) {
	assert.ErrorIs(t, (&Config{}).RequireAPI(), domain.ErrNotConfigured)
	assert.NoError(t, (&Config{JWTSecret: "s"}).RequireAPI())
}
