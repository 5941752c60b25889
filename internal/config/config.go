package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port    int  `yaml:"port"`
		Verbose bool `yaml:"verbose"`
	} `yaml:"server"`

	Keys struct {
		Dir string `yaml:"dir"`
	} `yaml:"keys"`

	OTP struct {
		TTL             string `yaml:"ttl"`
		CleanupInterval string `yaml:"cleanup_interval"`
	} `yaml:"otp"`

	Email struct {
		Provider  string `yaml:"provider"` // "sendgrid" or "console"
		FromName  string `yaml:"from_name"`
		FromEmail string `yaml:"from_email"`
	} `yaml:"email"`
}

// ParsedConfig contains parsed time.Duration values for easier use
type ParsedConfig struct {
	Config
	OTPTTL             time.Duration
	OTPCleanupInterval time.Duration
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*ParsedConfig, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	otpTTL, err := time.ParseDuration(cfg.OTP.TTL)
	if err != nil {
		return nil, fmt.Errorf("invalid otp ttl: %v", err)
	}

	cleanupInterval, err := time.ParseDuration(cfg.OTP.CleanupInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid otp cleanup_interval: %v", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	return &ParsedConfig{
		Config:             cfg,
		OTPTTL:             otpTTL,
		OTPCleanupInterval: cleanupInterval,
	}, nil
}

// validateConfig validates the configuration values
func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	if cfg.Keys.Dir == "" {
		return fmt.Errorf("keys dir is required")
	}

	switch cfg.Email.Provider {
	case "sendgrid", "console":
	default:
		return fmt.Errorf("email provider must be \"sendgrid\" or \"console\"")
	}

	return nil
}
