package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/parity/packages/http"
	"github.com/abdul-hamid-achik/parity/packages/suite"
)

const collections = `{
  "total": 3,
  "limit": 50,
  "data": [
    {"name": "bukhari", "hasBooks": true, "hasChapters": true},
    {"name": "", "hasBooks": true},
    {"name": "muslim", "hasBooks": false, "hasChapters": {"nested": 1}}
  ]
}`

func TestExtractor_Get(t *testing.T) {
	e := NewExtractor(&http.Response{Body: []byte(collections)})

	v, ok := e.Get("data.0.name")
	require.True(t, ok)
	assert.Equal(t, "bukhari", v)

	_, ok = e.Get("data.9.name")
	assert.False(t, ok)

	total, ok := e.Int("total")
	require.True(t, ok)
	assert.Equal(t, int64(3), total)

	_, ok = e.Int("data")
	assert.False(t, ok)
}

func TestExtractor_NonJSON(t *testing.T) {
	e := FromBytes([]byte("<html>oops</html>"))
	_, ok := e.Get("")
	assert.False(t, ok)
	assert.Nil(t, e.Items("data", -1))

	_, ok = NewExtractor(nil).Int("total")
	assert.False(t, ok)
}

func TestExtractor_Items(t *testing.T) {
	e := FromBytes([]byte(collections))
	assert.Len(t, e.Items("data", -1), 3)
	assert.Len(t, e.Items("data", 2), 2)
	assert.Len(t, e.Items("data", 10), 3)
	assert.Nil(t, e.Items("total", -1))
}

func TestExtractor_Expand(t *testing.T) {
	e := FromBytes([]byte(collections))
	x := &suite.Expansion{
		Each:    "data",
		Value:   "name",
		As:      "collection",
		Sample:  -1,
		Capture: map[string]string{"hasBooks": "hasBooks", "hasChapters": "hasChapters"},
	}

	bindings, skipped := e.Expand(x, 5)
	assert.Equal(t, 1, skipped)
	require.Len(t, bindings, 2)
	assert.Equal(t, map[string]string{"collection": "bukhari", "hasBooks": "true", "hasChapters": "true"}, bindings[0])
	assert.Equal(t, map[string]string{"collection": "muslim", "hasBooks": "false"}, bindings[1])
}

func TestExtractor_ExpandSample(t *testing.T) {
	e := FromBytes([]byte(`{"data": [1, 2, 3, 4, 5, 6]}`))

	bindings, skipped := e.Expand(&suite.Expansion{Each: "data", As: "n"}, 4)
	assert.Zero(t, skipped)
	require.Len(t, bindings, 4)
	assert.Equal(t, "1", bindings[0]["n"])
	assert.Equal(t, "4", bindings[3]["n"])

	bindings, _ = e.Expand(&suite.Expansion{Each: "data", As: "n", Sample: 2}, 4)
	assert.Len(t, bindings, 2)
}
