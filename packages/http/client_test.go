package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/parity/packages/core/config"
)

func fastClient(opts ...ClientOption) *Client {
	base := []ClientOption{
		WithBackoff(time.Millisecond, 10*time.Millisecond, 2),
		WithJitter(0),
	}
	return NewClient(append(base, opts...)...)
}

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/v1/collections", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total": 12, "data": [{"name": "bukhari"}]}`))
	}))
	defer server.Close()

	target := config.Target{BaseURL: server.URL + "/v1/", APIKey: "secret"}
	resp, err := fastClient().Get(context.Background(), target, "/collections", map[string]string{"page": "2"})

	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 1, resp.Attempts)
	assert.Empty(t, resp.Error)
	assert.True(t, resp.IsJSON())

	body, ok := resp.JSON.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("12"), body["total"])
}

func TestClient_NoKeyHeaderWhenEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header["X-Api-Key"]
		assert.False(t, present)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := fastClient().Get(context.Background(), config.Target{BaseURL: server.URL}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Nil(t, resp.JSON)
}

func TestClient_WithDefaultHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "parity", r.Header.Get("X-Trace"))
		assert.Equal(t, "custom-agent", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := fastClient(
		WithDefaultHeaders(map[string]string{"X-Trace": "parity"}),
		WithDefaultHeader("User-Agent", "custom-agent"),
	)
	resp, err := client.Get(context.Background(), config.Target{BaseURL: server.URL}, "/", nil)

	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	resp, err := fastClient().Get(context.Background(), config.Target{BaseURL: server.URL}, "/", nil)

	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	resp, err := fastClient(WithRetries(2)).Get(context.Background(), config.Target{BaseURL: server.URL}, "/", nil)

	require.NoError(t, err)
	assert.Equal(t, 429, resp.StatusCode)
	assert.Equal(t, "rate limit exceeded after maximum retries", resp.Error)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_NetworkErrorAfterRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	resp, err := fastClient(WithRetries(1)).Get(context.Background(), config.Target{BaseURL: url}, "/", nil)

	require.NoError(t, err)
	assert.Equal(t, 0, resp.StatusCode)
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, 2, resp.Attempts)

	observed := resp.Observed()
	assert.Equal(t, 0, observed.Status)
	assert.Equal(t, resp.Error, observed.Err)
}

func TestClient_ReadTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	client := fastClient(WithReadTimeout(50*time.Millisecond), WithRetries(0))
	resp, err := client.Get(context.Background(), config.Target{BaseURL: server.URL}, "/", nil)

	require.NoError(t, err)
	assert.Equal(t, 0, resp.StatusCode)
	assert.NotEmpty(t, resp.Error)
}

func TestClient_RequestDelay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := fastClient(WithRequestDelay(50 * time.Millisecond))
	target := config.Target{BaseURL: server.URL}

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Get(context.Background(), target, "/", nil)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestClient_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(WithBackoff(10*time.Second, time.Minute, 2), WithJitter(0))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, config.Target{BaseURL: server.URL}, "/", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_InvalidBaseURL(t *testing.T) {
	_, err := fastClient().Get(context.Background(), config.Target{BaseURL: "ftp://example.com"}, "/", nil)
	assert.Error(t, err)
}

func TestComparisonClient_CompareGet(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	handler := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			_, _ = w.Write([]byte(`{"impl": "` + name + `"}`))
		})
	}
	one := httptest.NewServer(handler("one"))
	defer one.Close()
	two := httptest.NewServer(handler("two"))
	defer two.Close()

	env := &config.Environment{
		Name:     "test",
		APIImpl1: config.Target{BaseURL: one.URL},
		APIImpl2: config.Target{BaseURL: two.URL},
	}
	first, second, err := NewComparisonClient(fastClient(), env).CompareGet(context.Background(), "/x", nil)

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"impl": "one"}, first.JSON)
	assert.Equal(t, map[string]any{"impl": "two"}, second.JSON)
	assert.Equal(t, []string{"one", "two"}, order)
}

func TestRetryAfter(t *testing.T) {
	d, ok := retryAfter("3")
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	_, ok = retryAfter("Wed, 21 Oct 2015 07:28:00 GMT")
	assert.False(t, ok)
	_, ok = retryAfter("")
	assert.False(t, ok)
	_, ok = retryAfter("-1")
	assert.False(t, ok)
}

func TestBackoffGrowthIsCapped(t *testing.T) {
	c := NewClient(WithBackoff(time.Second, 5*time.Second, 2), WithJitter(0))

	b := time.Second
	var got []time.Duration
	for i := 0; i < 4; i++ {
		got = append(got, c.backoffDelay(b))
		b = c.grow(b)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}, got)
}

func TestBackoffJitterBounds(t *testing.T) {
	c := NewClient(WithBackoff(time.Second, time.Minute, 2), WithJitter(time.Second))
	for i := 0; i < 20; i++ {
		d := c.backoffDelay(time.Second)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 2*time.Second)
	}
}

func TestDecodeBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected any
	}{
		{name: "empty", body: "", expected: nil},
		{name: "whitespace", body: "  \n", expected: nil},
		{name: "object", body: `{"a": 1}`, expected: map[string]any{"a": json.Number("1")}},
		{name: "array", body: `[true, null]`, expected: []any{true, nil}},
		{name: "html", body: "<html></html>", expected: "<html></html>"},
		{name: "trailing data", body: `{"a": 1} {"b": 2}`, expected: `{"a": 1} {"b": 2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DecodeBody([]byte(tt.body)))
		})
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		endpoint string
		params   map[string]string
		expected string
	}{
		{name: "join", base: "http://h/v1", endpoint: "collections", expected: "http://h/v1/collections"},
		{name: "slashes", base: "http://h/v1/", endpoint: "/collections", expected: "http://h/v1/collections"},
		{name: "params sorted", base: "http://h", endpoint: "/books", params: map[string]string{"page": "2", "limit": "50"}, expected: "http://h/books?limit=50&page=2"},
		{name: "endpoint query kept", base: "http://h", endpoint: "/b?x=1", params: map[string]string{"y": "2"}, expected: "http://h/b?x=1&y=2"},
		{name: "no endpoint", base: "http://h/v1", expected: "http://h/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildURL(tt.base, tt.endpoint, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParamString(t *testing.T) {
	assert.Equal(t, "", ParamString(nil))
	assert.Equal(t, "limit=50&page=2", ParamString(map[string]string{"page": "2", "limit": "50"}))

	req := NewRequest(config.Target{BaseURL: "http://h"}, "/a").SetParam("k", "v").SetHeader("X", "1")
	u, err := req.URL()
	require.NoError(t, err)
	assert.Equal(t, "http://h/a?k=v", u)
	assert.Equal(t, "1", req.Headers["X"])
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
		errMsg  string
	}{
		{name: "valid http URL", url: "http://example.com/path"},
		{name: "valid https URL", url: "https://example.com/path"},
		{name: "invalid scheme", url: "ftp://example.com", wantErr: true, errMsg: "unsupported URL scheme"},
		{name: "missing scheme", url: "example.com/path", wantErr: true, errMsg: "unsupported URL scheme"},
		{name: "missing host", url: "http:///path", wantErr: true, errMsg: "URL must have a host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResponse_IsSuccess(t *testing.T) {
	for code, expected := range map[int]bool{200: true, 204: true, 299: true, 300: false, 404: false, 500: false, 0: false} {
		resp := &Response{StatusCode: code}
		assert.Equal(t, expected, resp.IsSuccess(), "StatusCode: %d", code)
	}
}

func TestResponse_Header(t *testing.T) {
	resp := &Response{Headers: map[string]string{"Content-Type": "application/json; charset=utf-8"}}
	assert.Equal(t, "application/json; charset=utf-8", resp.Header("content-type"))
	assert.True(t, resp.IsJSON())
	assert.Equal(t, "", resp.Header("X-Missing"))
}
