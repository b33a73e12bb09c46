package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/courtside/go/internal/live"
	"gopkg.in/yaml.v3"
)

type Config struct {
	League struct {
		Name  string     `yaml:"name"`
		Rules live.Rules `yaml:"rules"`
	} `yaml:"league"`
	Live struct {
		TickInterval          time.Duration `yaml:"tick_interval"`
		IdleTimeout           time.Duration `yaml:"idle_timeout"`
		SweepInterval         time.Duration `yaml:"sweep_interval"`
		SendBufferSize        int           `yaml:"send_buffer"`
		SnapshotFlushInterval time.Duration `yaml:"snapshot_flush_interval"`
	} `yaml:"live"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func defaultConfig() *Config {
	var config Config
	config.League.Name = "courtside"
	config.League.Rules = live.DefaultRules()
	config.Live.TickInterval = time.Second
	config.Live.IdleTimeout = 30 * time.Minute
	config.Live.SweepInterval = time.Minute
	config.Live.SnapshotFlushInterval = 500 * time.Millisecond
	return &config
}

// loadConfig reads the league file over the defaults. A missing file keeps
// the defaults.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := config.League.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid league rules: %w", err)
	}
	if config.Live.TickInterval <= 0 {
		return nil, fmt.Errorf("live.tick_interval must be positive")
	}

	return config, nil
}
