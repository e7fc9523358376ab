package suite

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode selects how the two responses of an endpoint are judged.
type Mode string

const (
	// ModeBody compares status codes and bodies.
	ModeBody Mode = "body"
	// ModeStatus only requires both responses to succeed, for endpoints
	// whose content legitimately differs between calls.
	ModeStatus Mode = "status"
)

// Suite is a tree of endpoints requested from both implementations.
type Suite struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Variables   map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
	Hooks       *Hooks            `yaml:"hooks,omitempty" json:"hooks,omitempty"`
	Endpoints   []*Endpoint       `yaml:"endpoints" json:"endpoints"`

	// File is the path the suite was loaded from, empty for built-in suites.
	File string `yaml:"-" json:"-"`
}

// Hooks are shell commands run in the suite directory before and after
// a run. A failing before hook aborts the run.
type Hooks struct {
	Before []string `yaml:"before,omitempty" json:"before,omitempty"`
	After  []string `yaml:"after,omitempty" json:"after,omitempty"`
}

// Endpoint is one templated GET request.
type Endpoint struct {
	Name        string            `yaml:"name" json:"name"`
	Path        string            `yaml:"path" json:"path"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Params      map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
	Paginated   bool              `yaml:"paginated,omitempty" json:"paginated,omitempty"`
	Compare     Mode              `yaml:"compare,omitempty" json:"compare,omitempty"`
	Repeat      int               `yaml:"repeat,omitempty" json:"repeat,omitempty"`
	// When names a variable; the endpoint is skipped when it is "false".
	When        string       `yaml:"when,omitempty" json:"when,omitempty"`
	Tags        []string     `yaml:"tags,omitempty" json:"tags,omitempty"`
	Schema      any          `yaml:"schema,omitempty" json:"schema,omitempty"`
	Ignore      []string     `yaml:"ignore,omitempty" json:"ignore,omitempty"`
	IgnoreOrder bool         `yaml:"ignoreOrder,omitempty" json:"ignoreOrder,omitempty"`
	Skip        string       `yaml:"skip,omitempty" json:"skip,omitempty"`
	Children    []*Expansion `yaml:"children,omitempty" json:"children,omitempty"`
}

// Expansion derives child requests from the items of the reference
// response of its parent endpoint.
type Expansion struct {
	// Each is a gjson path selecting the items, e.g. "data".
	Each string `yaml:"each" json:"each"`
	// Value is a gjson path inside each item; empty uses the item itself.
	Value string `yaml:"value,omitempty" json:"value,omitempty"`
	// As is the variable the value is bound to.
	As string `yaml:"as" json:"as"`
	// Sample limits the items used: 0 means the configured sample size,
	// a negative value means every item.
	Sample int `yaml:"sample,omitempty" json:"sample,omitempty"`
	// Capture binds further item fields, variable name to gjson path.
	Capture   map[string]string `yaml:"capture,omitempty" json:"capture,omitempty"`
	Endpoints []*Endpoint       `yaml:"endpoints" json:"endpoints"`
}

// Mode returns the comparison mode, ModeBody when unset.
func (e *Endpoint) Mode() Mode {
	if e.Compare == "" {
		return ModeBody
	}
	return e.Compare
}

// Repeats returns how many times the endpoint is requested.
func (e *Endpoint) Repeats() int {
	if e.Repeat < 1 {
		return 1
	}
	return e.Repeat
}

func (e *Endpoint) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Limit returns how many items to expand given the configured sample
// size; -1 means all.
func (x *Expansion) Limit(sampleSize int) int {
	switch {
	case x.Sample < 0:
		return -1
	case x.Sample > 0:
		return x.Sample
	case sampleSize > 0:
		return sampleSize
	default:
		return -1
	}
}

// Walk visits every endpoint depth first. Returning false from fn stops
// the descent below that endpoint.
func (s *Suite) Walk(fn func(e *Endpoint, depth int) bool) {
	walk(s.Endpoints, 0, fn)
}

func walk(endpoints []*Endpoint, depth int, fn func(*Endpoint, int) bool) {
	for _, e := range endpoints {
		if !fn(e, depth) {
			continue
		}
		for _, x := range e.Children {
			walk(x.Endpoints, depth+1, fn)
		}
	}
}

// Count returns the number of endpoint definitions.
func (s *Suite) Count() int {
	n := 0
	s.Walk(func(*Endpoint, int) bool {
		n++
		return true
	})
	return n
}

// Find returns the endpoint with the given name or nil.
func (s *Suite) Find(name string) *Endpoint {
	var found *Endpoint
	s.Walk(func(e *Endpoint, _ int) bool {
		if found == nil && e.Name == name {
			found = e
		}
		return found == nil
	})
	return found
}

// Dir returns the directory relative schema paths are resolved against.
func (s *Suite) Dir() string {
	if s.File == "" {
		return "."
	}
	return filepath.Dir(s.File)
}

// Load reads a suite file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	s.File = path
	return s, nil
}

// Parse decodes a YAML suite. Unknown fields are rejected.
func Parse(data []byte) (*Suite, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Suite
	if err := dec.Decode(&s); err != nil {
		return nil, err
	}
	if s.Name == "" {
		s.Name = "default"
	}
	return &s, nil
}

// Marshal encodes the suite as YAML.
func (s *Suite) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the suite as YAML to path.
func (s *Suite) Save(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("encoding suite: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating suite directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

// IsSuiteFile reports whether path looks like a suite file.
func IsSuiteFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
