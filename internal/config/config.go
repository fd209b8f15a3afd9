// Package config loads modbot settings from an optional YAML file and
// MODBOT_* environment variables via viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete runtime configuration.
type Config struct {
	Bot       BotConfig
	NATS      NATSConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	WS        WSConfig
	Metrics   MetricsConfig
	RateLimit RateLimitConfig
}

type BotConfig struct {
	UserID        string
	ReportChannel string
	ModChannel    string
	FlagThreshold float64
}

type NATSConfig struct {
	URL            string
	Name           string
	RequestTimeout time.Duration
}

// RedisConfig.Addr empty disables bans and rate limiting.
type RedisConfig struct {
	Addr string
}

// DatabaseConfig.URL empty disables the archive.
type DatabaseConfig struct {
	URL string
}

// WSConfig.ListenAddr empty disables the console.
type WSConfig struct {
	ListenAddr     string
	MaxConnections int
}

type MetricsConfig struct {
	ListenAddr string
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// New returns a viper instance with defaults, env binding and, when path is
// set, that config file. Otherwise modbot.yaml is searched in ./configs and
// the working directory.
func New(path string) *viper.Viper {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("modbot")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MODBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("bot.user_id", "")
	v.SetDefault("bot.report_channel", "")
	v.SetDefault("bot.mod_channel", "")
	v.SetDefault("bot.flag_threshold", 0.3)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "modbot")
	v.SetDefault("nats.request_timeout", "3s")
	v.SetDefault("redis.addr", "")
	v.SetDefault("database.url", "")
	v.SetDefault("ws.listen_addr", "")
	v.SetDefault("ws.max_connections", 1000)
	v.SetDefault("metrics.listen_addr", ":9090")
	v.SetDefault("ratelimit.limit", 10)
	v.SetDefault("ratelimit.window", "10s")

	return v
}

// Load reads the configuration. A missing config file is not an error when
// no explicit path was given; defaults and the environment still apply.
func Load(path string) (*Config, error) {
	v := New(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{
		Bot: BotConfig{
			UserID:        v.GetString("bot.user_id"),
			ReportChannel: v.GetString("bot.report_channel"),
			ModChannel:    v.GetString("bot.mod_channel"),
			FlagThreshold: v.GetFloat64("bot.flag_threshold"),
		},
		NATS: NATSConfig{
			URL:            v.GetString("nats.url"),
			Name:           v.GetString("nats.name"),
			RequestTimeout: v.GetDuration("nats.request_timeout"),
		},
		Redis:    RedisConfig{Addr: v.GetString("redis.addr")},
		Database: DatabaseConfig{URL: v.GetString("database.url")},
		WS: WSConfig{
			ListenAddr:     v.GetString("ws.listen_addr"),
			MaxConnections: v.GetInt("ws.max_connections"),
		},
		Metrics: MetricsConfig{ListenAddr: v.GetString("metrics.listen_addr")},
		RateLimit: RateLimitConfig{
			Limit:  v.GetInt("ratelimit.limit"),
			Window: v.GetDuration("ratelimit.window"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the bot cannot run with.
func (c *Config) Validate() error {
	if c.Bot.UserID == "" {
		return errors.New("config: bot.user_id is required")
	}
	if c.Bot.ModChannel == "" {
		return errors.New("config: bot.mod_channel is required")
	}
	if c.Bot.FlagThreshold < 0 || c.Bot.FlagThreshold > 1 {
		return fmt.Errorf("config: bot.flag_threshold %v is outside [0,1]", c.Bot.FlagThreshold)
	}
	if c.NATS.URL == "" {
		return errors.New("config: nats.url is required")
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("config: ratelimit.limit and ratelimit.window must be positive")
	}
	return nil
}
