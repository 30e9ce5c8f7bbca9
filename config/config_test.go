package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *BrokerConfig {
	return &BrokerConfig{
		HTTPPort:           "8080",
		MongoURI:           "mongodb://localhost:27017/idfed_test",
		MongoDBName:        "idfed_test",
		StoreBackend:       "memory",
		CallbackBaseURL:    "http://localhost:8080/broker/callback",
		JWTSecretKey:       "test-secret",
		JWTIssuer:          "idfed",
		SessionTTLMin:      10,
		AccessTokenTTLMin:  60,
		PasswordIterations: 600_000,
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*BrokerConfig)
	}{
		{"unknown backend", func(c *BrokerConfig) { c.StoreBackend = "etcd" }},
		{"missing jwt secret", func(c *BrokerConfig) { c.JWTSecretKey = "" }},
		{"zero session ttl", func(c *BrokerConfig) { c.SessionTTLMin = 0 }},
		{"negative token ttl", func(c *BrokerConfig) { c.AccessTokenTTLMin = -1 }},
		{"zero iterations", func(c *BrokerConfig) { c.PasswordIterations = 0 }},
		{"missing callback base", func(c *BrokerConfig) { c.CallbackBaseURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "env-secret")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SESSION_TTL_MIN", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.JWTSecretKey)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 5, cfg.SessionTTLMin)
	// Untouched keys fall back to defaults.
	assert.Equal(t, "8080", cfg.HTTPPort)
}

func TestLoadConfig_InvalidRejected(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "env-secret")
	t.Setenv("SESSION_TTL_MIN", "0")

	_, err := LoadConfig()
	assert.Error(t, err)
}
