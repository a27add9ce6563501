package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads the YAML file at path, applies OFFLINE_* environment
// overrides and fills in defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("offline")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("upstream.base_url", "http://localhost:3000")
	v.SetDefault("upstream.api_prefix", "/api/")

	v.SetDefault("state_storage.type", "sqlite")
	v.SetDefault("state_storage.file_path", "data/offline.db")
	v.SetDefault("state_storage.port", 3306)

	v.SetDefault("cache.static_name", "pwa-crm")
	v.SetDefault("cache.api_name", "pwa-crm-api")
	v.SetDefault("cache.version", 1)
	v.SetDefault("cache.offline_page", "/offline.html")
	v.SetDefault("cache.precache", []string{
		"/",
		"/index.html",
		"/auth.html",
		"/register.html",
		"/dashboard.html",
		"/admin.html",
		"/style.css",
		"/app.js",
		"/manifest.json",
	})

	v.SetDefault("queue.storage_key", "pwa_pending_actions")

	v.SetDefault("sync.batch_size", 20)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.cooldown", "10s")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "@every 30s")

	v.SetDefault("connectivity.probe_interval", "@every 15s")
	v.SetDefault("connectivity.probe_timeout", "3s")
	v.SetDefault("connectivity.start_online", true)

	v.SetDefault("notifications.display_interval", "3s")
	v.SetDefault("notifications.action_display_interval", "30s")

	v.SetDefault("auth.mode", "allow_all")
	v.SetDefault("auth.cookie_name", "session")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Cache.StaticName == "" || c.Cache.APIName == "" {
		return fmt.Errorf("cache store names are required")
	}
	if c.Cache.StaticName == c.Cache.APIName {
		return fmt.Errorf("cache.static_name and cache.api_name must differ")
	}
	if c.Cache.Version <= 0 {
		return fmt.Errorf("cache.version must be positive, got %d", c.Cache.Version)
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync.max_attempts must be positive, got %d", c.Sync.MaxAttempts)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	switch c.Auth.Mode {
	case "allow_all":
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth.mode is jwt")
		}
	default:
		return fmt.Errorf("unknown auth.mode %q", c.Auth.Mode)
	}
	switch c.StateStorage.Type {
	case "sqlite", "mysql", "memory":
	default:
		return fmt.Errorf("unknown state_storage.type %q", c.StateStorage.Type)
	}
	return nil
}
