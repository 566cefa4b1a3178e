package config

import (
	"fmt"
	"strings"
	"time"
)

var (
	// MinPollInterval bounds how aggressively selectord polls storage for
	// newly activated rulesets.
	MinPollInterval = time.Second
)

// Validate checks the loaded configuration for contradictions before the
// daemon starts wiring dependencies.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("server: listen address empty")
	}
	if cfg.PollInterval.Duration < MinPollInterval {
		return fmt.Errorf("reload: poll interval below %s", MinPollInterval)
	}
	if cfg.FileMode() && strings.TrimSpace(cfg.DatabaseURL) != "" {
		return fmt.Errorf("ruleset: RulesetFile and DatabaseURL are mutually exclusive")
	}
	if cfg.Auth.Enabled {
		if _, err := cfg.Auth.ResolveSecret(); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	for name, limit := range cfg.Limits {
		if limit.RequestsPerMinute <= 0 {
			return fmt.Errorf("limits[%s]: requests per minute must be positive", name)
		}
		if limit.Burst <= 0 {
			return fmt.Errorf("limits[%s]: burst must be positive", name)
		}
	}
	if cfg.LogFile.MaxSizeMB < 0 || cfg.LogFile.MaxBackups < 0 || cfg.LogFile.MaxAgeDays < 0 {
		return fmt.Errorf("log_file: rotation limits must not be negative")
	}
	return nil
}
