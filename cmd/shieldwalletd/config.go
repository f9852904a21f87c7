// config.go - Configuration management for the shielded wallet daemon
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the daemon configuration
type Config struct {
	// Wallet settings
	PoolDomain  string `json:"pool_domain"`
	SelfAddress string `json:"self_address"`

	// File paths
	DataDir string `json:"data_dir"`
	KeyDir  string `json:"key_dir"`

	// Chain settings
	ConfirmTimeoutSeconds int `json:"confirm_timeout_seconds"`
	ChainLatencyMillis    int `json:"chain_latency_millis"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		PoolDomain:            "shieldwallet-pool-v1",
		SelfAddress:           "self",
		DataDir:               "walletdata",
		KeyDir:                "keys",
		ConfirmTimeoutSeconds: 300,
		ChainLatencyMillis:    200,
		LogLevel:              "info",
		LogFile:               "shieldwallet.log",
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		var config Config
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return &config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.PoolDomain == "" {
		return fmt.Errorf("pool_domain must be set")
	}
	if c.SelfAddress == "" {
		return fmt.Errorf("self_address must be set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.KeyDir == "" {
		return fmt.Errorf("key_dir must be set")
	}
	if c.ConfirmTimeoutSeconds <= 0 {
		return fmt.Errorf("confirm_timeout_seconds must be positive")
	}
	if c.ChainLatencyMillis <= 0 {
		return fmt.Errorf("chain_latency_millis must be positive")
	}
	return nil
}
