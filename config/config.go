package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config carries the selectord daemon settings loaded from TOML.
type Config struct {
	ListenAddress string               `toml:"ListenAddress"`
	Environment   string               `toml:"Environment"`
	DataDir       string               `toml:"DataDir"`
	DatabaseURL   string               `toml:"DatabaseURL"`
	RulesetFile   string               `toml:"RulesetFile"`
	CatalogFile   string               `toml:"CatalogFile"`
	SnapshotFile  string               `toml:"SnapshotFile"`
	PollInterval  Duration             `toml:"PollInterval"`
	Redis         Redis                `toml:"redis"`
	Auth          Auth                 `toml:"auth"`
	Limits        map[string]RateLimit `toml:"limits"`
	Telemetry     Telemetry            `toml:"telemetry"`
	LogFile       LogFile              `toml:"log_file"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	for _, undecoded := range meta.Undecoded() {
		if len(undecoded) == 1 && undecoded[0] == "RulesetPath" {
			return nil, fmt.Errorf("config file %s uses deprecated RulesetPath field; rename it to RulesetFile", path)
		}
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":7440"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./pixrouter-data"
	}
	if cfg.PollInterval.Duration == 0 {
		cfg.PollInterval = Duration{Duration: 15 * time.Second}
	}
	if cfg.Redis.CacheTTL.Duration == 0 {
		cfg.Redis.CacheTTL = Duration{Duration: time.Hour}
	}
	if cfg.Limits == nil {
		cfg.Limits = map[string]RateLimit{
			"select": {RequestsPerMinute: 6000, Burst: 200},
			"admin":  {RequestsPerMinute: 600, Burst: 20},
		}
	}
	if cfg.LogFile.Path != "" {
		if cfg.LogFile.MaxSizeMB == 0 {
			cfg.LogFile.MaxSizeMB = 100
		}
		if cfg.LogFile.MaxBackups == 0 {
			cfg.LogFile.MaxBackups = 5
		}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":7440",
		Environment:   "dev",
		DataDir:       "./pixrouter-data",
		CatalogFile:   "gateways.yaml",
	}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// SnapshotPath returns the bolt file used to cache the last good ruleset.
func (c *Config) SnapshotPath() string {
	if strings.TrimSpace(c.SnapshotFile) != "" {
		return c.SnapshotFile
	}
	return filepath.Join(c.DataDir, "snapshots.db")
}

// LocalDatabasePath returns the sqlite file used when no DatabaseURL is set.
func (c *Config) LocalDatabasePath() string {
	return filepath.Join(c.DataDir, "pixrouter.db")
}

// FileMode reports whether rulesets come from a local file instead of storage.
func (c *Config) FileMode() bool {
	return strings.TrimSpace(c.RulesetFile) != ""
}
