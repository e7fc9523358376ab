// Package schema validates response bodies against JSON Schema documents.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Validator holds a compiled schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// Load compiles ref, which is either a path to a schema file resolved
// against baseDir or an inline schema document decoded from YAML/JSON.
func Load(ref any, baseDir string) (*Validator, error) {
	var loader gojsonschema.JSONLoader
	switch v := ref.(type) {
	case string:
		path := v
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
			if err := validatePathWithinBase(path, baseDir); err != nil {
				return nil, err
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file: %w", err)
		}
		loader = gojsonschema.NewBytesLoader(data)
	case map[string]any:
		loader = gojsonschema.NewGoLoader(v)
	default:
		return nil, fmt.Errorf("unsupported schema reference %T", ref)
	}

	s, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// Validate checks body and returns one message per violation.
func (v *Validator) Validate(body []byte) []string {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return []string{fmt.Sprintf("schema validation error: %v", err)}
	}
	if result.Valid() {
		return nil
	}
	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return errs
}

// validatePathWithinBase rejects relative schema paths that escape baseDir.
func validatePathWithinBase(path, baseDir string) error {
	cleanBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %v", err)
	}
	cleanPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %v", err)
	}
	if !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) && cleanPath != cleanBase {
		return fmt.Errorf("path traversal detected: %s is outside allowed directory %s", path, baseDir)
	}
	return nil
}
