package capture

import (
	"github.com/tidwall/gjson"

	"github.com/abdul-hamid-achik/parity/packages/http"
	"github.com/abdul-hamid-achik/parity/packages/suite"
)

// Extractor reads values from a JSON response body.
type Extractor struct {
	body  gjson.Result
	valid bool
}

func NewExtractor(resp *http.Response) *Extractor {
	if resp == nil {
		return &Extractor{}
	}
	return FromBytes(resp.Body)
}

// FromBytes builds an Extractor over a raw body. Non-JSON bodies yield
// no values.
func FromBytes(body []byte) *Extractor {
	if !gjson.ValidBytes(body) {
		return &Extractor{}
	}
	return &Extractor{body: gjson.ParseBytes(body), valid: true}
}

// Get returns the value at path.
func (e *Extractor) Get(path string) (any, bool) {
	if !e.valid {
		return nil, false
	}
	if path == "" {
		return e.body.Value(), true
	}
	result := e.body.Get(path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// Int returns the number at path.
func (e *Extractor) Int(path string) (int64, bool) {
	if !e.valid {
		return 0, false
	}
	result := e.body.Get(path)
	if result.Type != gjson.Number {
		return 0, false
	}
	return result.Int(), true
}

// Items returns the elements of the array at path, at most limit of
// them; a negative limit returns all.
func (e *Extractor) Items(path string, limit int) []gjson.Result {
	if !e.valid {
		return nil
	}
	result := e.body.Get(path)
	if !result.IsArray() {
		return nil
	}
	items := result.Array()
	if limit >= 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Expand returns one set of bindings per selected item of x. Items
// without a scalar value are skipped and counted.
func (e *Extractor) Expand(x *suite.Expansion, sampleSize int) (bindings []map[string]string, skipped int) {
	for _, item := range e.Items(x.Each, x.Limit(sampleSize)) {
		value := item
		if x.Value != "" {
			value = item.Get(x.Value)
		}
		if !isScalar(value) || value.String() == "" {
			skipped++
			continue
		}

		b := map[string]string{x.As: value.String()}
		for name, path := range x.Capture {
			if v := item.Get(path); isScalar(v) {
				b[name] = v.String()
			}
		}
		bindings = append(bindings, b)
	}
	return bindings, skipped
}

func isScalar(r gjson.Result) bool {
	switch r.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return true
	default:
		return false
	}
}
