package config

import (
	"time"
)

type Config struct {
	Upstream      UpstreamConfig     `mapstructure:"upstream"`
	StateStorage  StateStorage       `mapstructure:"state_storage"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Queue         QueueConfig        `mapstructure:"queue"`
	Sync          SyncConfig         `mapstructure:"sync"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler"`
	Connectivity  ConnectivityConfig `mapstructure:"connectivity"`
	Notifications NotifyConfig       `mapstructure:"notifications"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

type UpstreamConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIPrefix string `mapstructure:"api_prefix"`
}

type StateStorage struct {
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	FilePath string `mapstructure:"file_path"` // For SQLite
}

type CacheConfig struct {
	StaticName  string   `mapstructure:"static_name"`
	APIName     string   `mapstructure:"api_name"`
	Version     int      `mapstructure:"version"`
	OfflinePage string   `mapstructure:"offline_page"`
	Precache    []string `mapstructure:"precache"`
}

type QueueConfig struct {
	StorageKey string `mapstructure:"storage_key"`
}

type SyncConfig struct {
	BatchSize   int    `mapstructure:"batch_size"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	Cooldown    string `mapstructure:"cooldown"`
}

func (s SyncConfig) GetCooldown() time.Duration {
	d, _ := time.ParseDuration(s.Cooldown)
	return d
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type ConnectivityConfig struct {
	ProbeURL      string `mapstructure:"probe_url"`
	ProbeInterval string `mapstructure:"probe_interval"`
	ProbeTimeout  string `mapstructure:"probe_timeout"`
	StartOnline   bool   `mapstructure:"start_online"`
}

func (c ConnectivityConfig) GetProbeTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ProbeTimeout)
	return d
}

type NotifyConfig struct {
	DisplayInterval       string `mapstructure:"display_interval"`
	ActionDisplayInterval string `mapstructure:"action_display_interval"`
}

func (n NotifyConfig) GetDisplayInterval() time.Duration {
	d, _ := time.ParseDuration(n.DisplayInterval)
	return d
}

func (n NotifyConfig) GetActionDisplayInterval() time.Duration {
	d, _ := time.ParseDuration(n.ActionDisplayInterval)
	return d
}

type AuthConfig struct {
	Mode       string `mapstructure:"mode"` // allow_all | jwt
	JWTSecret  string `mapstructure:"jwt_secret"`
	CookieName string `mapstructure:"cookie_name"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
