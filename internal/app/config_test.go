package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "rxoptima-app", cfg.AppNamespace)
	require.Equal(t, 20, cfg.LowStockThreshold)
	require.False(t, cfg.StrictStock)
	require.Equal(t, 30*24*time.Hour, cfg.ExpiryWindow())
	require.Equal(t, 5, cfg.LoginMaxAttempts)
	require.Equal(t, 15*time.Minute, cfg.LoginLockout)
	require.False(t, cfg.IsProduction())
	require.NotNil(t, cfg.Formatter())
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"driver":    {"STORE_DRIVER": "sqlite"},
		"threshold": {"STORE_DRIVER": "memory", "LOW_STOCK_THRESHOLD": "-1"},
		"currency":  {"STORE_DRIVER": "memory", "CURRENCY": "NAIRA"},
		"locale":    {"STORE_DRIVER": "memory", "LOCALE": "not a locale!"},
		"bootstrap": {"STORE_DRIVER": "memory", "BOOTSTRAP_EMAIL": "ada@rxoptima.test"},
		"sweep":     {"STORE_DRIVER": "memory", "LOW_STOCK_SWEEP_CRON": "0 6 * * *"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestLoadConfigStrictStock(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("STRICT_STOCK", "true")
	t.Setenv("LOW_STOCK_THRESHOLD", "5")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.StrictStock)
	require.Equal(t, 5, cfg.LowStockThreshold)
}
