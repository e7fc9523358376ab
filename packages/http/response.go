package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/parity/packages/compare"
)

// Response is what one implementation returned for a Request. When every
// attempt failed at the transport level StatusCode is 0 and Error says
// why; an exhausted rate limit keeps StatusCode 429 and sets Error.
type Response struct {
	URL        string
	StatusCode int
	Status     string
	Headers    map[string]string
	Body       []byte
	// JSON is the decoded body: nil when empty, the raw text when the body
	// is not JSON. Numbers decode as json.Number.
	JSON     any
	Duration time.Duration
	Attempts int
	Error    string
}

// BodyString returns the raw body as received.
func (r *Response) BodyString() string {
	return string(r.Body)
}

func (r *Response) Header(key string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func (r *Response) ContentType() string {
	return r.Header("Content-Type")
}

func (r *Response) IsJSON() bool {
	return strings.Contains(r.ContentType(), "application/json")
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// Observed converts the response for the comparator.
func (r *Response) Observed() compare.Observed {
	return compare.Observed{
		Response: compare.Response{Status: r.StatusCode, JSON: r.JSON},
		Err:      r.Error,
	}
}

// DecodeBody parses body as a single JSON value. Empty bodies decode to
// nil and anything that is not exactly one JSON value is returned as a
// string.
func DecodeBody(body []byte) any {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(body)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return string(body)
	}
	return v
}
