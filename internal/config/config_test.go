package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	require := require.New(t)
	t.Setenv("APP_ENV", "")
	t.Setenv("OPTIMIZER_URL", "http://opt.internal:9000/")
	cfg, err := Load()
	require.NoError(err)
	require.Equal(8080, cfg.Port)
	require.Equal("http://opt.internal:9000", cfg.Optimizer.URL)
	require.Equal(30*time.Second, cfg.Optimizer.HealthInterval)
	require.False(cfg.Production())
	require.False(cfg.Optimizer.UseMockData)
}

func TestLoadProductionAndOverrides(t *testing.T) {
	require := require.New(t)
	t.Setenv("APP_ENV", "Production")
	t.Setenv("PORT", "9100")
	t.Setenv("USE_MOCK_DATA", "true")
	t.Setenv("OPTIMIZER_HEALTH_INTERVAL", "5s")
	t.Setenv("RATE_BURST", "0")
	cfg, err := Load()
	require.NoError(err)
	require.True(cfg.Production())
	require.Equal(":9100", cfg.Addr())
	require.True(cfg.Optimizer.UseMockData)
	require.Equal(5*time.Second, cfg.Optimizer.HealthInterval)
	require.Equal(1, cfg.RateLimit.Burst)
}

func TestLoadRejectsBadInterval(t *testing.T) {
	t.Setenv("OPTIMIZER_HEALTH_INTERVAL", "0s")
	_, err := Load()
	require.Error(t, err)
}

func TestAllowedOrigins(t *testing.T) {
	require := require.New(t)
	t.Setenv("ALLOWED_ORIGINS", " https://ops.example.com/ , ,https://dash.example.com")
	cfg, err := Load()
	require.NoError(err)
	require.Equal([]string{"https://ops.example.com/", "https://dash.example.com"}, cfg.AllowedOrigins)
	require.True(cfg.AllowsOrigin("https://ops.example.com"))
	require.True(cfg.AllowsOrigin("https://DASH.example.com"))
	require.True(cfg.AllowsOrigin(""))
	require.False(cfg.AllowsOrigin("https://evil.example.net"))

	open := &Config{}
	require.True(open.AllowsOrigin("https://evil.example.net"))
}
