package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config represents a shortlist.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Service     ServiceConfig `yaml:"service"`
	Storage     StorageConfig `yaml:"storage"`
	Adapter     AdapterConfig `yaml:"adapter"`
	LogLevel    string        `yaml:"log_level"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

// ServiceConfig holds the screening service connection defaults.
type ServiceConfig struct {
	URL         string            `yaml:"url"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Timeout     Duration          `yaml:"timeout,omitempty"`
	Retries     *int              `yaml:"retries,omitempty"`
	UploadRate  float64           `yaml:"upload_rate,omitempty"`
	UploadBurst int               `yaml:"upload_burst,omitempty"`
}

// StorageConfig holds settings for s3:// resume sources.
type StorageConfig struct {
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds batch notification adapter defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
	KeyTTL  Duration          `yaml:"key_ttl,omitempty"`
}

// Adapter types.
const (
	AdapterWebhook = "webhook"
	AdapterRedis   = "redis"
)

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// Validate checks values that cannot be checked by flag parsing later.
func (c *Config) Validate() error {
	var errs []error
	if c.Service.URL != "" {
		if u, err := url.Parse(c.Service.URL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("service.url: invalid URL %q", c.Service.URL))
		}
	}
	if c.Service.Retries != nil && *c.Service.Retries < 0 {
		errs = append(errs, fmt.Errorf("service.retries: must be >= 0, got %d", *c.Service.Retries))
	}
	if c.Service.UploadRate < 0 {
		errs = append(errs, fmt.Errorf("service.upload_rate: must be >= 0, got %v", c.Service.UploadRate))
	}
	switch c.Adapter.Type {
	case "", AdapterWebhook, AdapterRedis:
	default:
		errs = append(errs, fmt.Errorf("adapter.type: unknown adapter %q (want webhook or redis)", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, errors.New("adapter.url: required when adapter.type is set"))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, fmt.Errorf("adapter.retries: must be >= 0, got %d", *c.Adapter.Retries))
	}
	return errors.Join(errs...)
}
