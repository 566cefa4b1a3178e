package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"pixrouter/observability/logging"
	otelobs "pixrouter/observability/otel"
)

// Duration wraps time.Duration so TOML files accept "15s" style values.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Redis configures the optional read-through cache in front of storage.
type Redis struct {
	Addr     string   `toml:"Addr"`
	Password string   `toml:"Password"`
	DB       int      `toml:"DB"`
	CacheTTL Duration `toml:"CacheTTL"`
}

// Enabled reports whether a cache server was configured.
func (r Redis) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// Auth configures bearer-token authentication for the admin API.
type Auth struct {
	Enabled    bool   `toml:"Enabled"`
	Secret     string `toml:"Secret"`
	SecretFile string `toml:"SecretFile"`
	SecretEnv  string `toml:"SecretEnv"`
	Issuer     string `toml:"Issuer"`
	Audience   string `toml:"Audience"`
}

// ResolveSecret returns the HMAC secret from the first configured source.
func (a Auth) ResolveSecret() (string, error) {
	if s := strings.TrimSpace(a.Secret); s != "" {
		return s, nil
	}
	if a.SecretFile != "" {
		raw, err := os.ReadFile(a.SecretFile)
		if err != nil {
			return "", fmt.Errorf("read secret file: %w", err)
		}
		if s := strings.TrimSpace(string(raw)); s != "" {
			return s, nil
		}
		return "", fmt.Errorf("secret file %s is empty", a.SecretFile)
	}
	if a.SecretEnv != "" {
		if s := strings.TrimSpace(os.Getenv(a.SecretEnv)); s != "" {
			return s, nil
		}
		return "", fmt.Errorf("environment variable %s is empty", a.SecretEnv)
	}
	return "", fmt.Errorf("hmac secret not configured")
}

// RateLimit bounds request throughput for one route group.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// OTELConfig maps the telemetry section onto the exporter configuration.
func (t Telemetry) OTELConfig(service, env string) otelobs.Config {
	return otelobs.Config{
		ServiceName: service,
		Environment: env,
		Endpoint:    t.Endpoint,
		Insecure:    t.Insecure,
		Headers:     otelobs.ParseHeaders(t.Headers),
		Metrics:     t.Metrics,
		Traces:      t.Traces,
	}
}

// LogFile configures on-disk log rotation alongside stdout.
type LogFile struct {
	Path       string `toml:"Path"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// Sink converts the rotation settings for logging.SetupWithSink. It returns
// nil when no log file is configured.
func (l LogFile) Sink() *logging.FileSink {
	if strings.TrimSpace(l.Path) == "" {
		return nil
	}
	return &logging.FileSink{
		Path:       l.Path,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}
