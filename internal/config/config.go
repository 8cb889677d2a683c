// Package config handles YAML configuration for rpe.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RPE_OTEL_ENDPOINT.
const EnvPrefix = "RPE"

// Engine kinds.
const (
	EngineGo   = "go"
	EngineRego = "rego"
)

// Config is the root configuration structure.
type Config struct {
	Log     LogConfig      `mapstructure:"log"`
	OTEL    OTELConfig     `mapstructure:"otel"`
	Fetch   FetchConfig    `mapstructure:"fetch"`
	Engines []EngineConfig `mapstructure:"engines" validate:"dive"`
	Workers int            `mapstructure:"workers" validate:"gte=1"`
	PubSub  PubSubConfig   `mapstructure:"pubsub"`
	Storage StorageConfig  `mapstructure:"storage"`
	Metrics ServerConfig   `mapstructure:"metrics"`
	Scan    ScanConfig     `mapstructure:"scan"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	Insecure    bool          `mapstructure:"insecure"`
	ServiceName string        `mapstructure:"service_name" validate:"required"`
	Traces      TracesConfig  `mapstructure:"traces"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// FetchConfig controls how live resource data is read.
type FetchConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" validate:"gte=0"`
	BaseURL  string        `mapstructure:"base_url" validate:"omitempty,url"`
	Disabled bool          `mapstructure:"disabled"`
}

// EngineConfig declares one policy engine.
// For go engines Source names a registered pack (empty means all packs);
// for rego engines it is the bundle directory.
type EngineConfig struct {
	ID     string `mapstructure:"id" validate:"required"`
	Kind   string `mapstructure:"kind" validate:"oneof=go rego"`
	Source string `mapstructure:"source" validate:"required_if=Kind rego"`
}

// PubSubConfig holds the subscription the daemon consumes.
type PubSubConfig struct {
	Project        string `mapstructure:"project"`
	Subscription   string `mapstructure:"subscription"`
	Extractor      string `mapstructure:"extractor" validate:"oneof=auditlog asset"`
	MaxOutstanding int    `mapstructure:"max_outstanding" validate:"gte=0"`
}

// StorageConfig holds the finding store location.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds the metrics and health listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// ScanConfig selects the asset inventory records to evaluate.
type ScanConfig struct {
	Parent        string            `mapstructure:"parent"`
	AssetTypes    []string          `mapstructure:"asset_types"`
	ExcludeTypes  []string          `mapstructure:"exclude_types"`
	IncludeLabels map[string]string `mapstructure:"include_labels"`
	ExcludeLabels map[string]string `mapstructure:"exclude_labels"`
	// Interval re-runs the scan from the daemon; zero disables it.
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

var defaults = map[string]any{
	"log.level":               "info",
	"otel.endpoint":           "",
	"otel.insecure":           false,
	"otel.service_name":       "rpe",
	"otel.traces.enabled":     false,
	"otel.traces.sample_rate": 1.0,
	"otel.metrics.enabled":    false,
	"fetch.timeout":           "10s",
	"fetch.base_url":          "",
	"fetch.disabled":          false,
	"workers":                 8,
	"pubsub.project":          "",
	"pubsub.subscription":     "",
	"pubsub.extractor":        "auditlog",
	"pubsub.max_outstanding":  100,
	"storage.path":            "",
	"metrics.addr":            ":9090",
	"scan.parent":             "",
	"scan.interval":           "0s",
}

// Load reads a YAML config file, applies defaults and RPE_ environment
// overrides, and validates the result. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.Engines) == 0 {
		cfg.Engines = []EngineConfig{{ID: "builtin", Kind: EngineGo}}
	}
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validateInst = validator.New(validator.WithRequiredStructEnabled())
	})
	return validateInst
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		return convertValidationError(err)
	}

	seen := make(map[string]bool, len(c.Engines))
	for _, e := range c.Engines {
		if seen[e.ID] {
			return fmt.Errorf("engines: duplicate engine id %q", e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

func convertValidationError(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return fmt.Errorf("invalid config: %w", err)
	}

	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		msgs = append(msgs, fmt.Sprintf("%s failed validation for tag '%s'", fieldName(fe), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// fieldName turns Config.OTEL.Traces.SampleRate into otel.traces.samplerate.
func fieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "."))
}

// RequireSubscription checks the settings the daemon cannot start without.
func (c *Config) RequireSubscription() error {
	if c.PubSub.Project == "" || c.PubSub.Subscription == "" {
		return errors.New("pubsub: project and subscription are required")
	}
	return nil
}
