package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/hubsetup/pkg/auth"
	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/httpclient"
	"github.com/openfroyo/hubsetup/pkg/telemetry"
)

// DefaultJournalPath is where the run journal lives when none is configured.
const DefaultJournalPath = ".boomi-setup-journal.db"

// File is the tool configuration read from --config.
type File struct {
	Logging telemetry.LoggingConfig `yaml:"logging"`
	Metrics telemetry.MetricsConfig `yaml:"metrics"`
	Tracing telemetry.TracingConfig `yaml:"tracing"`
	HTTP    HTTPConfig              `yaml:"http"`
	Auth    AuthConfig              `yaml:"auth"`
	Journal JournalConfig           `yaml:"journal"`
}

// HTTPConfig paces and retries API calls.
type HTTPConfig struct {
	MinInterval       time.Duration   `yaml:"min_interval" validate:"gte=0"`
	Backoff           []time.Duration `yaml:"backoff" validate:"max=10,dive,gte=0"`
	RetryableStatuses []int           `yaml:"retryable_statuses" validate:"dive,gte=400,lte=599"`
	Timeout           time.Duration   `yaml:"timeout" validate:"gte=0"`
}

// AuthConfig tunes credential negotiation.
type AuthConfig struct {
	// ConfirmedStatuses replaces the default set of probe statuses that
	// confirm a credential.
	ConfirmedStatuses []int         `yaml:"confirmed_statuses" validate:"dive,gte=100,lte=599"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout" validate:"gte=0"`
}

// JournalConfig controls the SQLite run journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// DefaultFile returns the configuration used when no file is given.
func DefaultFile() *File {
	tel := telemetry.DefaultConfig()
	return &File{
		Logging: tel.Logging,
		Metrics: tel.Metrics,
		Tracing: tel.Tracing,
		HTTP: HTTPConfig{
			MinInterval:       httpclient.DefaultMinInterval,
			Backoff:           append([]time.Duration(nil), httpclient.DefaultBackoff...),
			RetryableStatuses: append([]int(nil), httpclient.DefaultRetryableStatuses...),
			Timeout:           httpclient.DefaultTimeout,
		},
		Auth: AuthConfig{
			ProbeTimeout: auth.DefaultProbeTimeout,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    DefaultJournalPath,
		},
	}
}

// LoadFile reads path over the defaults. An empty path returns the defaults.
func LoadFile(path string) (*File, error) {
	if path == "" {
		return DefaultFile(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, engine.NewNotFoundError(fmt.Sprintf("config file %s not found", path), err)
		}
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to open config file %s", path), err)
	}
	defer f.Close()
	return ParseFile(f)
}

// ParseFile decodes YAML over the defaults and validates the result.
func ParseFile(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to read config", err)
	}

	cfg := DefaultFile()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, engine.NewConfigurationError("failed to parse config", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the telemetry settings.
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return engine.NewConfigurationError("invalid config", err).WithCode(engine.ErrCodeValidation)
	}
	if err := f.Telemetry("", "").Validate(); err != nil {
		return engine.NewConfigurationError("invalid telemetry config", err).WithCode(engine.ErrCodeValidation)
	}
	return nil
}

// Telemetry returns the telemetry configuration for the given build.
func (f *File) Telemetry(serviceName, version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if serviceName != "" {
		cfg.ServiceName = serviceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Logging = f.Logging
	cfg.Metrics = f.Metrics
	cfg.Tracing = f.Tracing
	return cfg
}

// ClientOptions returns the HTTP client options without credentials or
// telemetry attached.
func (f *File) ClientOptions() httpclient.Options {
	return httpclient.Options{
		MinInterval:       f.HTTP.MinInterval,
		Backoff:           append([]time.Duration{}, f.HTTP.Backoff...),
		RetryableStatuses: append([]int(nil), f.HTTP.RetryableStatuses...),
		Timeout:           f.HTTP.Timeout,
	}
}

// Marshal renders the configuration as YAML.
func (f *File) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}
