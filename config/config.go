// Package config loads runtime configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port                string `mapstructure:"PORT"`
	RedisAddr           string `mapstructure:"REDIS_ADDR"`
	RedisPassword       string `mapstructure:"REDIS_PASSWORD"`
	RedisDB             int    `mapstructure:"REDIS_DB"`
	WorkerConcurrency   int    `mapstructure:"WORKER_CONCURRENCY"`
	DeliveriesPerMinute int    `mapstructure:"DELIVERIES_PER_MINUTE"`
	CacheMaxEntries     int    `mapstructure:"CACHE_MAX_ENTRIES"`
	RequireHTTPS        bool   `mapstructure:"REQUIRE_HTTPS"`
	PoliciesFile        string `mapstructure:"POLICIES_FILE"`
	LogLevel            string `mapstructure:"LOG_LEVEL"`
}

// GetConfig reads configuration from the environment. A missing .env file
// is not an error; unset values fall back to defaults.
func GetConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("WORKER_CONCURRENCY", 10)
	viper.SetDefault("DELIVERIES_PER_MINUTE", 200)
	viper.SetDefault("CACHE_MAX_ENTRIES", 1000)
	viper.SetDefault("REQUIRE_HTTPS", false)
	viper.SetDefault("POLICIES_FILE", "")
	viper.SetDefault("LOG_LEVEL", "info")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.DeliveriesPerMinute < 1 {
		return fmt.Errorf("DELIVERIES_PER_MINUTE must be at least 1")
	}
	if c.CacheMaxEntries < 1 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be at least 1")
	}
	return nil
}
