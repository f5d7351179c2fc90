// Package config provides configuration loading from YAML files.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Auth     AuthConfig     `yaml:"auth"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Playback PlaybackConfig `yaml:"playback"`
	Log      LogConfig      `yaml:"log"`
}

// AuthConfig represents authentication configuration.
type AuthConfig struct {
	ClientID        string `yaml:"client_id" validate:"required"`
	RedirectPort    int    `yaml:"redirect_port" default:"8898" validate:"gte=1024,lte=65535"`
	CredentialsFile string `yaml:"credentials_file" default:".cache/credentials.json"`
}

// CatalogConfig represents catalog API configuration.
type CatalogConfig struct {
	Market      string  `yaml:"market" validate:"omitempty,len=2" default:"US"`
	SearchLimit int     `yaml:"search_limit" default:"20" validate:"gte=1,lte=50"`
	RatePerSec  float64 `yaml:"rate_per_sec" default:"8" validate:"gt=0"`
	MaxRetries  int     `yaml:"max_retries" default:"3" validate:"gte=1,lte=10"`
}

// PlaybackConfig represents playback coordination configuration.
type PlaybackConfig struct {
	// MaxAutoSkips bounds consecutive unavailable-track skips before the
	// queue is declared stalled.
	MaxAutoSkips   int    `yaml:"max_auto_skips" default:"5" validate:"gte=1,lte=50"`
	PollIntervalMs int    `yaml:"poll_interval_ms" default:"1000" validate:"gte=250,lte=10000"`
	VolumeStep     int    `yaml:"volume_step" default:"5" validate:"gte=1,lte=25"`
	DeviceName     string `yaml:"device_name" default:"strum"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Output string `yaml:"output" default:"strum.log"`
	Level  string `yaml:"level" default:"info" validate:"omitempty,oneof=debug info warn error"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// Default returns a configuration built entirely from defaults and
// environment variables, for running without a config file.
func Default() (*Config, error) {
	var cfg Config
	cfg.overrideFromEnv()
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Auth.ClientID = v
	}
	if v := os.Getenv("STRUM_CREDENTIALS_FILE"); v != "" {
		c.Auth.CredentialsFile = v
	}
	if v := os.Getenv("STRUM_MARKET"); v != "" {
		c.Catalog.Market = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}
