package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v := New()
	v.AddConfigPath(t.TempDir())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "log", cfg.PushDriver)
	assert.Equal(t, "local", cfg.PushTransport)
	assert.Equal(t, 50.0, cfg.MaxRadiusKm)
	assert.Equal(t, 32, cfg.WSSendQueueSize)
	assert.Equal(t, 10*time.Second, cfg.WSWriteTimeout)
	assert.Equal(t, 2, cfg.PushMaxAttempts)

	pool := cfg.PoolSettings()
	assert.EqualValues(t, 10, pool.MaxConns)
	assert.EqualValues(t, 2, pool.MinConns)
	assert.Equal(t, time.Hour, pool.MaxConnLifetime)
	assert.Equal(t, 30*time.Minute, pool.MaxConnIdleTime)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_STORE_DRIVER", "memory")
	t.Setenv("APP_MAX_RADIUS_KM", "12.5")
	t.Setenv("APP_WS_SEND_QUEUE_SIZE", "8")

	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 12.5, cfg.MaxRadiusKm)
	assert.Equal(t, 8, cfg.WSSendQueueSize)
}

func TestLoad_RejectsInvalidCombinations(t *testing.T) {
	t.Run("UnknownStoreDriver", func(t *testing.T) {
		t.Setenv("APP_STORE_DRIVER", "sqlite")
		_, err := Load(New())
		assert.ErrorContains(t, err, "STORE_DRIVER")
	})

	t.Run("NATSTransportWithoutURL", func(t *testing.T) {
		t.Setenv("APP_PUSH_TRANSPORT", "nats")
		_, err := Load(New())
		assert.ErrorContains(t, err, "NATS_URL")
	})

	t.Run("FCMWithoutCredentials", func(t *testing.T) {
		t.Setenv("APP_PUSH_DRIVER", "fcm")
		_, err := Load(New())
		assert.ErrorContains(t, err, "FCM_PROJECT_ID")
	})
}
