package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Alarms     AlarmConfig      `yaml:"alarms"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// AlarmConfig holds the scheduling policy for alarm instances.
//
// The lead times control how long before the firing time the low- and
// high-priority notifications appear. They are product knobs, not
// algorithmic invariants; the only hard requirement is
// low lead > high lead > 0.
type AlarmConfig struct {
	Timezone                    string        `yaml:"timezone"`
	LowNotificationLeadMinutes  int           `yaml:"low_notification_lead_minutes"`
	HighNotificationLeadMinutes int           `yaml:"high_notification_lead_minutes"`
	PredismissCutoffHours       int           `yaml:"predismiss_cutoff_hours"`
	MissedTimeToLiveHours       int           `yaml:"missed_time_to_live_hours"`
	LowNotificationLead         time.Duration `yaml:"-"`
	HighNotificationLead        time.Duration `yaml:"-"`
	PredismissCutoff            time.Duration `yaml:"-"`
	MissedTimeToLive            time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Alarms.LowNotificationLeadMinutes <= 0 {
		cfg.Alarms.LowNotificationLeadMinutes = 120
	}
	if cfg.Alarms.HighNotificationLeadMinutes <= 0 {
		cfg.Alarms.HighNotificationLeadMinutes = 30
	}
	if cfg.Alarms.PredismissCutoffHours <= 0 {
		cfg.Alarms.PredismissCutoffHours = 24
	}
	if cfg.Alarms.MissedTimeToLiveHours <= 0 {
		cfg.Alarms.MissedTimeToLiveHours = 12
	}

	if cfg.Alarms.LowNotificationLeadMinutes <= cfg.Alarms.HighNotificationLeadMinutes {
		return nil, fmt.Errorf("alarms.low_notification_lead_minutes (%d) must be greater than alarms.high_notification_lead_minutes (%d)",
			cfg.Alarms.LowNotificationLeadMinutes, cfg.Alarms.HighNotificationLeadMinutes)
	}

	cfg.Alarms.LowNotificationLead = time.Duration(cfg.Alarms.LowNotificationLeadMinutes) * time.Minute
	cfg.Alarms.HighNotificationLead = time.Duration(cfg.Alarms.HighNotificationLeadMinutes) * time.Minute
	cfg.Alarms.PredismissCutoff = time.Duration(cfg.Alarms.PredismissCutoffHours) * time.Hour
	cfg.Alarms.MissedTimeToLive = time.Duration(cfg.Alarms.MissedTimeToLiveHours) * time.Hour

	if cfg.Alarms.Timezone == "" {
		cfg.Alarms.Timezone = "Local"
	}

	return &cfg, nil
}

// Location resolves the configured alarm timezone.
func (c *AlarmConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
