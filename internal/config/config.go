package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	OfferTimeout    time.Duration `mapstructure:"offer_timeout"`
	TypingTTL       time.Duration `mapstructure:"typing_ttl"`
	OfferRateLimit  int           `mapstructure:"offer_rate_limit"`
	OfferRateWindow time.Duration `mapstructure:"offer_rate_window"`

	Auth    AuthConfig    `mapstructure:"auth"`
	History HistoryConfig `mapstructure:"history"`
}

type AuthConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Secret     string `mapstructure:"secret"`
	QueryParam string `mapstructure:"query_param"`
}

type HistoryConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Limit     int    `mapstructure:"limit"`
	QueueSize int    `mapstructure:"queue_size"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("offer_timeout", "30s")
	v.SetDefault("typing_ttl", "4s")
	v.SetDefault("offer_rate_limit", 10)
	v.SetDefault("offer_rate_window", "1m")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.query_param", "token")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.addr", "localhost:6379")
	v.SetDefault("history.limit", 50)
	v.SetDefault("history.queue_size", 1024)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
