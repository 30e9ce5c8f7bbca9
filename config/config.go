package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// BrokerConfig holds all configuration for the broker daemon.
// Tags use mapstructure for Viper unmarshalling.
type BrokerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogPretty   bool   `mapstructure:"LOG_PRETTY"`

	// StoreBackend selects where broker sessions live: "memory", "redis"
	// or "mongo". Identity data always lives in MongoDB.
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	RedisAddr    string `mapstructure:"REDIS_ADDR"`
	RedisPrefix  string `mapstructure:"REDIS_PREFIX"`

	// CallbackBaseURL is the externally visible base of the broker's
	// callback endpoint; the realm id is appended per login.
	CallbackBaseURL string `mapstructure:"CALLBACK_BASE_URL"`

	JWTSecretKey       string `mapstructure:"JWT_SECRET_KEY"`
	JWTIssuer          string `mapstructure:"JWT_ISSUER"`
	SessionTTLMin      int    `mapstructure:"SESSION_TTL_MIN"`
	AccessTokenTTLMin  int    `mapstructure:"ACCESS_TOKEN_TTL_MIN"`
	PasswordIterations int    `mapstructure:"PASSWORD_ITERATIONS"`
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*BrokerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/idfed/")
	v.AddConfigPath("$HOME/.idfed")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/idfed_dev")
	v.SetDefault("MONGO_DB_NAME", "idfed_dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("STORE_BACKEND", "mongo")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PREFIX", "idfed")
	v.SetDefault("CALLBACK_BASE_URL", "http://localhost:8080/broker/callback")
	v.SetDefault("JWT_ISSUER", "idfed")
	v.SetDefault("SESSION_TTL_MIN", 10)
	v.SetDefault("ACCESS_TOKEN_TTL_MIN", 60)
	v.SetDefault("PASSWORD_ITERATIONS", 600_000)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg BrokerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the broker cannot safely run with.
func (c *BrokerConfig) Validate() error {
	switch c.StoreBackend {
	case "memory", "redis", "mongo":
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q: must be memory, redis or mongo", c.StoreBackend)
	}
	if c.JWTSecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY must be set")
	}
	if c.SessionTTLMin <= 0 {
		return fmt.Errorf("SESSION_TTL_MIN must be positive, got %d", c.SessionTTLMin)
	}
	if c.AccessTokenTTLMin <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL_MIN must be positive, got %d", c.AccessTokenTTLMin)
	}
	if c.PasswordIterations <= 0 {
		return fmt.Errorf("PASSWORD_ITERATIONS must be positive, got %d", c.PasswordIterations)
	}
	if c.CallbackBaseURL == "" {
		return fmt.Errorf("CALLBACK_BASE_URL must be set")
	}
	return nil
}
