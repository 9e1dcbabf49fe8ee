// Package config loads server configuration from the environment with
// sane defaults.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Port          string
	DBPath        string
	QueueCapacity int
	IdleAfter     time.Duration
	BlockCooldown time.Duration
}

// Load reads configuration from environment variables, falling back to
// defaults suitable for development.
func Load() *Config {
	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("db_path", "data/hub.db")
	v.SetDefault("queue_capacity", 256)
	v.SetDefault("idle_after", "5m")
	v.SetDefault("block_cooldown", "15m")
	v.AutomaticEnv()

	return &Config{
		Port:          v.GetString("port"),
		DBPath:        v.GetString("db_path"),
		QueueCapacity: v.GetInt("queue_capacity"),
		IdleAfter:     v.GetDuration("idle_after"),
		BlockCooldown: v.GetDuration("block_cooldown"),
	}
}
