package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cart-engine/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"PORT":                  "",
		"CART_DEFAULT_INSTANCE": "",
		"CART_MERGE_STRATEGY":   "",
		"CART_LOCKING_ENABLED":  "",
	})
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "default", cfg.DefaultInstance)
	require.Equal(t, "add_quantities", cfg.MergeStrategy)
	require.True(t, cfg.LockingEnabled)
	require.Equal(t, int64(1<<20), cfg.MaxPayloadBytes)
	require.Equal(t, 30*time.Second, cfg.LockTTL)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"PORT":                   "9090",
		"CART_DEFAULT_INSTANCE":  "basket",
		"CART_MERGE_STRATEGY":    "keep_user_cart",
		"CART_LOCKING_ENABLED":   "false",
		"CART_MAX_PAYLOAD_BYTES": "2048",
		"CART_LOCK_TTL":          "5s",
		"CORS_ALLOWED_ORIGINS":   "https://a.example, https://b.example",
	})
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, "basket", cfg.DefaultInstance)
	require.Equal(t, "keep_user_cart", cfg.MergeStrategy)
	require.False(t, cfg.LockingEnabled)
	require.Equal(t, int64(2048), cfg.MaxPayloadBytes)
	require.Equal(t, 5*time.Second, cfg.LockTTL)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestInvalidNumbersFallBack(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"CART_MAX_PAYLOAD_BYTES": "not-a-number",
		"CART_LOCK_TTL":          "garbage",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1<<20), cfg.MaxPayloadBytes)
	require.Equal(t, 30*time.Second, cfg.LockTTL)
}
