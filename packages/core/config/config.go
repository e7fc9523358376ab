package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the parity configuration. Durations are in
// milliseconds.
type Config struct {
	DefaultEnvironment string                 `json:"defaultEnvironment,omitempty" yaml:"defaultEnvironment,omitempty"`
	Environments       map[string]Environment `json:"environments,omitempty" yaml:"environments,omitempty"`

	ConnectTimeout int     `json:"connectTimeout,omitempty" yaml:"connectTimeout,omitempty"`
	ReadTimeout    int     `json:"readTimeout,omitempty" yaml:"readTimeout,omitempty"`
	Retries        int     `json:"retries" yaml:"retries"`
	InitialBackoff int     `json:"initialBackoff,omitempty" yaml:"initialBackoff,omitempty"`
	MaxBackoff     int     `json:"maxBackoff,omitempty" yaml:"maxBackoff,omitempty"`
	BackoffFactor  float64 `json:"backoffFactor,omitempty" yaml:"backoffFactor,omitempty"`
	RequestDelay   int     `json:"requestDelay" yaml:"requestDelay"`
	Concurrency    int     `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	ValidateSSL *bool             `json:"validateSSL,omitempty" yaml:"validateSSL,omitempty"`

	DefaultLimit int   `json:"defaultLimit,omitempty" yaml:"defaultLimit,omitempty"`
	TestAllPages *bool `json:"testAllPages,omitempty" yaml:"testAllPages,omitempty"`
	SampleSize   int   `json:"sampleSize,omitempty" yaml:"sampleSize,omitempty"`

	OutputDir     string `json:"outputDir,omitempty" yaml:"outputDir,omitempty"`
	Database      string `json:"database,omitempty" yaml:"database,omitempty"`
	SaveResponses *bool  `json:"saveResponses,omitempty" yaml:"saveResponses,omitempty"`
	Bail          *bool  `json:"bail,omitempty" yaml:"bail,omitempty"`
	NoColor       *bool  `json:"noColor,omitempty" yaml:"noColor,omitempty"`
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetValidateSSL defaults to true.
func (c *Config) GetValidateSSL() bool {
	return getBool(c.ValidateSSL, true)
}

// GetTestAllPages defaults to true.
func (c *Config) GetTestAllPages() bool {
	return getBool(c.TestAllPages, true)
}

func (c *Config) GetSaveResponses() bool {
	return getBool(c.SaveResponses, false)
}

func (c *Config) GetBail() bool {
	return getBool(c.Bail, false)
}

func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func (c *Config) ConnectTimeoutDuration() time.Duration { return ms(c.ConnectTimeout) }
func (c *Config) ReadTimeoutDuration() time.Duration    { return ms(c.ReadTimeout) }
func (c *Config) InitialBackoffDuration() time.Duration { return ms(c.InitialBackoff) }
func (c *Config) MaxBackoffDuration() time.Duration     { return ms(c.MaxBackoff) }
func (c *Config) RequestDelayDuration() time.Duration   { return ms(c.RequestDelay) }

// DatabasePath returns the history database location.
func (c *Config) DatabasePath() string {
	if c.Database != "" {
		return c.Database
	}
	return filepath.Join(c.OutputDir, DefaultDatabaseName)
}

// ConfigFilenames contains the possible config file names, in search order.
var ConfigFilenames = []string{
	"parity.yaml",
	"parity.yml",
	".parity.yaml",
	"parity.json",
}

// LoadConfig loads configuration from path, or searches the current
// directory when path is empty.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}
	return FindAndLoadConfig(".")
}

// FindAndLoadConfig searches dir for a config file. Defaults are returned
// when none exists.
func FindAndLoadConfig(dir string) (*Config, error) {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadConfigFromFile(configPath)
		}
	}
	return DefaultConfig(), nil
}

func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if isJSON(path) {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.ConnectTimeout < 0 || c.ReadTimeout < 0:
		return fmt.Errorf("timeouts must not be negative")
	case c.Retries < 0:
		return fmt.Errorf("retries must not be negative")
	case c.BackoffFactor < 1:
		return fmt.Errorf("backoffFactor must be at least 1, got %v", c.BackoffFactor)
	case c.MaxBackoff < c.InitialBackoff:
		return fmt.Errorf("maxBackoff (%d) is smaller than initialBackoff (%d)", c.MaxBackoff, c.InitialBackoff)
	case c.RequestDelay < 0:
		return fmt.Errorf("requestDelay must not be negative")
	case c.Concurrency < 1:
		return fmt.Errorf("concurrency must be at least 1")
	case c.DefaultLimit < 1:
		return fmt.Errorf("defaultLimit must be at least 1")
	}
	for name, e := range c.Environments {
		if e.APIImpl1.BaseURL == "" || e.APIImpl2.BaseURL == "" {
			return fmt.Errorf("environment %q: apiImpl1 and apiImpl2 need a baseUrl", name)
		}
	}
	return nil
}

// Merge merges another config into this one, with other taking precedence.
// Zero values in other are treated as unset; Retries and RequestDelay are
// only taken from other when they differ from the defaults because zero is
// a meaningful value for both.
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c
	defaults := DefaultConfig()

	if other.DefaultEnvironment != "" {
		result.DefaultEnvironment = other.DefaultEnvironment
	}
	if other.ConnectTimeout > 0 {
		result.ConnectTimeout = other.ConnectTimeout
	}
	if other.ReadTimeout > 0 {
		result.ReadTimeout = other.ReadTimeout
	}
	if other.Retries != defaults.Retries {
		result.Retries = other.Retries
	}
	if other.InitialBackoff > 0 {
		result.InitialBackoff = other.InitialBackoff
	}
	if other.MaxBackoff > 0 {
		result.MaxBackoff = other.MaxBackoff
	}
	if other.BackoffFactor > 0 {
		result.BackoffFactor = other.BackoffFactor
	}
	if other.RequestDelay != defaults.RequestDelay {
		result.RequestDelay = other.RequestDelay
	}
	if other.Concurrency > 0 {
		result.Concurrency = other.Concurrency
	}
	if other.DefaultLimit > 0 {
		result.DefaultLimit = other.DefaultLimit
	}
	if other.SampleSize != 0 {
		result.SampleSize = other.SampleSize
	}
	if other.OutputDir != "" {
		result.OutputDir = other.OutputDir
	}
	if other.Database != "" {
		result.Database = other.Database
	}

	if other.ValidateSSL != nil {
		result.ValidateSSL = other.ValidateSSL
	}
	if other.TestAllPages != nil {
		result.TestAllPages = other.TestAllPages
	}
	if other.SaveResponses != nil {
		result.SaveResponses = other.SaveResponses
	}
	if other.Bail != nil {
		result.Bail = other.Bail
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}

	if len(other.Headers) > 0 {
		headers := make(map[string]string, len(result.Headers)+len(other.Headers))
		for k, v := range result.Headers {
			headers[k] = v
		}
		for k, v := range other.Headers {
			headers[k] = v
		}
		result.Headers = headers
	}

	if len(other.Environments) > 0 {
		envs := make(map[string]Environment, len(result.Environments)+len(other.Environments))
		for k, v := range result.Environments {
			envs[k] = v
		}
		for k, v := range other.Environments {
			envs[k] = v
		}
		result.Environments = envs
	}

	return &result
}

// SaveConfig writes the configuration as YAML, or as JSON when path ends
// in .json.
func (c *Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
