package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const collectionSchema = `{
  "type": "object",
  "required": ["data", "total"],
  "properties": {
    "total": {"type": "integer"},
    "data": {"type": "array", "items": {"type": "object", "required": ["name"]}}
  }
}`

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "schemas"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schemas", "collections.json"), []byte(collectionSchema), 0644))

	v, err := Load("schemas/collections.json", dir)
	require.NoError(t, err)

	assert.Empty(t, v.Validate([]byte(`{"total": 1, "data": [{"name": "bukhari"}]}`)))

	errs := v.Validate([]byte(`{"total": "1", "data": [{}]}`))
	assert.Len(t, errs, 2)
}

func TestLoadInline(t *testing.T) {
	v, err := Load(map[string]any{"type": "object", "required": []any{"id"}}, "")
	require.NoError(t, err)
	assert.Empty(t, v.Validate([]byte(`{"id": 1}`)))
	assert.NotEmpty(t, v.Validate([]byte(`{}`)))
	assert.NotEmpty(t, v.Validate([]byte(`not json`)))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load("missing.json", dir)
	assert.Error(t, err)

	_, err = Load("../outside.json", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path traversal")

	_, err = Load(42, dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"type": 12}`), 0644))
	_, err = Load("bad.json", dir)
	assert.Error(t, err)
}
