package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/abdul-hamid-achik/parity/packages/core/env"
)

// EnvVar names the environment variable that selects the environment.
const EnvVar = "PARITY_ENV"

// ErrUnknownEnvironment is returned when a named environment is not
// configured.
var ErrUnknownEnvironment = errors.New("unknown environment")

// Target is one API implementation: where it lives and how to
// authenticate. An empty APIKey means no key header is sent.
type Target struct {
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`
	APIKey  string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
}

// Expand resolves ${VAR} references and drops trailing slashes from the
// base URL.
func (t Target) Expand() Target {
	return Target{
		BaseURL: strings.TrimRight(env.Expand(t.BaseURL), "/"),
		APIKey:  env.Expand(t.APIKey),
	}
}

func (t Target) String() string {
	return fmt.Sprintf("%s (key: %s)", t.BaseURL, MaskKey(t.APIKey))
}

// Environment pairs the reference implementation (APIImpl1) with the
// candidate (APIImpl2).
type Environment struct {
	Name     string `json:"-" yaml:"-"`
	APIImpl1 Target `json:"apiImpl1" yaml:"apiImpl1"`
	APIImpl2 Target `json:"apiImpl2" yaml:"apiImpl2"`
}

// EnvironmentName picks the active environment: the explicit flag, then
// PARITY_ENV, then the configured default, then "dev".
func (c *Config) EnvironmentName(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(EnvVar); v != "" {
		return v
	}
	if c.DefaultEnvironment != "" {
		return c.DefaultEnvironment
	}
	return DefaultEnvironmentName
}

// Environment returns the named environment with variables expanded.
func (c *Config) Environment(name string) (*Environment, error) {
	e, ok := c.Environments[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownEnvironment, name, strings.Join(c.EnvironmentNames(), ", "))
	}
	return &Environment{
		Name:     name,
		APIImpl1: e.APIImpl1.Expand(),
		APIImpl2: e.APIImpl2.Expand(),
	}, nil
}

// EnvironmentNames returns the configured environment names, sorted.
func (c *Config) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MaskKey hides all but the first four characters of an API key. Keys of
// four characters or fewer are hidden entirely.
func MaskKey(key string) string {
	if key == "" {
		return "Not set"
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}
