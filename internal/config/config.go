package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all server settings. Defaults are applied first, then an
// optional YAML file named by CONFIG_FILE, then environment variables
// (optionally loaded from a .env file).
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" yaml:"listen_addr"`

	// RedisAddr enables the Redis-backed message store when set.
	// Empty means messages are kept in memory only.
	RedisAddr string `envconfig:"REDIS_ADDR" yaml:"redis_addr"`

	// JWTSecret signs and verifies bearer tokens. Required.
	JWTSecret string `envconfig:"JWT_SECRET" yaml:"jwt_secret"`

	TokenTTL     time.Duration `envconfig:"TOKEN_TTL" yaml:"token_ttl"`
	HistoryLimit int           `envconfig:"HISTORY_LIMIT" yaml:"history_limit"`

	// MaxConns caps concurrent WebSocket connections. 0 = unlimited.
	MaxConns int `envconfig:"MAX_CONNS" yaml:"max_conns"`

	// IdleTimeout closes WebSocket connections idle for longer than this.
	// 0 disables idle reaping.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT" yaml:"idle_timeout"`

	// AuthRateLimit is the number of register/login requests allowed per IP
	// per AuthRateWindow.
	AuthRateLimit  int           `envconfig:"AUTH_RATE_LIMIT" yaml:"auth_rate_limit"`
	AuthRateWindow time.Duration `envconfig:"AUTH_RATE_WINDOW" yaml:"auth_rate_window"`
}

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		TokenTTL:       24 * time.Hour,
		HistoryLimit:   50,
		AuthRateLimit:  10,
		AuthRateWindow: time.Minute,
	}
}

// Load reads configuration, layering CONFIG_FILE and then the environment
// over the defaults. Environment variables always win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
