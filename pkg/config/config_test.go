package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/lexbilling/pkg/config"
)

type checkoutConfig struct {
	SuccessURL string        `env:"TEST_CHECKOUT_SUCCESS_URL" envDefault:"https://app.local/ok"`
	Timeout    time.Duration `env:"TEST_CHECKOUT_TIMEOUT" envDefault:"10s"`
}

type cachedConfig struct {
	Value string `env:"TEST_CACHED_VALUE" envDefault:"first"`
}

type requiredConfig struct {
	Key string `env:"TEST_REQUIRED_KEY,required"`
}

func TestLoad(t *testing.T) {
	t.Run("reads environment and defaults", func(t *testing.T) {
		t.Setenv("TEST_CHECKOUT_TIMEOUT", "3s")

		var cfg checkoutConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "https://app.local/ok", cfg.SuccessURL)
		assert.Equal(t, 3*time.Second, cfg.Timeout)
	})

	t.Run("caches per type", func(t *testing.T) {
		var first cachedConfig
		require.NoError(t, config.Load(&first))

		t.Setenv("TEST_CACHED_VALUE", "second")
		var second cachedConfig
		require.NoError(t, config.Load(&second))
		assert.Equal(t, first.Value, second.Value)
	})

	t.Run("missing required value", func(t *testing.T) {
		var cfg requiredConfig
		err := config.Load(&cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)

		t.Setenv("TEST_REQUIRED_KEY", "set")
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "set", cfg.Key)
	})

	t.Run("nil pointer", func(t *testing.T) {
		assert.ErrorIs(t, config.Load[checkoutConfig](nil), config.ErrNilPointer)
	})

	t.Run("must load panics", func(t *testing.T) {
		type mustConfig struct {
			Key string `env:"TEST_MUST_KEY,required"`
		}
		assert.Panics(t, func() {
			var cfg mustConfig
			config.MustLoad(&cfg)
		})
	})
}
