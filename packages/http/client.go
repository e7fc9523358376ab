package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/parity/packages/core/config"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 5 * time.Second
	DefaultRetries        = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 60 * time.Second
	DefaultBackoffFactor  = 2.0
	DefaultJitter         = time.Second

	// DefaultMaxIdleConns is the maximum number of idle connections in the pool
	DefaultMaxIdleConns = 100
	// DefaultMaxIdleConnsPerHost is the maximum number of idle connections per host
	DefaultMaxIdleConnsPerHost = 10
	// DefaultIdleConnTimeout is how long idle connections stay in the pool
	DefaultIdleConnTimeout = 90 * time.Second

	// APIKeyHeader carries the target's API key.
	APIKeyHeader = "X-API-Key"

	errRateLimited = "rate limit exceeded after maximum retries"
)

// Client issues GET requests with retries. Rate-limited (429) responses
// and transport errors are retried with exponential backoff; consecutive
// requests to the same base URL are spaced by the request delay.
type Client struct {
	httpClient     *http.Client
	connectTimeout time.Duration
	readTimeout    time.Duration
	retries        int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	backoffFactor  float64
	jitter         time.Duration
	requestDelay   time.Duration
	validateSSL    bool
	defaultHeaders map[string]string
	logger         *log.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type ClientOption func(*Client)

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
		retries:        DefaultRetries,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		backoffFactor:  DefaultBackoffFactor,
		jitter:         DefaultJitter,
		validateSSL:    true,
		defaultHeaders: make(map[string]string),
		limiters:       make(map[string]*rate.Limiter),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = log.New()
		c.logger.SetOutput(io.Discard)
	}

	dialer := &net.Dialer{Timeout: c.connectTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   c.connectTimeout,
		ResponseHeaderTimeout: c.readTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
	}
	if !c.validateSSL {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	c.httpClient = &http.Client{Transport: transport}
	if c.connectTimeout > 0 && c.readTimeout > 0 {
		c.httpClient.Timeout = c.connectTimeout + c.readTimeout
	}

	return c
}

// WithConnectTimeout bounds dialing and the TLS handshake.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.connectTimeout = d
	}
}

// WithReadTimeout bounds the wait for response headers.
func WithReadTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.readTimeout = d
	}
}

// WithRetries sets how many times a request is retried after the first
// attempt.
func WithRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithBackoff configures the exponential backoff between retries.
func WithBackoff(initial, max time.Duration, factor float64) ClientOption {
	return func(c *Client) {
		c.initialBackoff = initial
		c.maxBackoff = max
		if factor >= 1 {
			c.backoffFactor = factor
		}
	}
}

// WithJitter sets the upper bound of the random delay added to each
// backoff. Zero disables jitter.
func WithJitter(d time.Duration) ClientOption {
	return func(c *Client) {
		c.jitter = d
	}
}

// WithRequestDelay spaces consecutive requests to the same base URL.
func WithRequestDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.requestDelay = d
	}
}

func WithDefaultHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.defaultHeaders[key] = value
	}
}

// WithDefaultHeaders sets multiple default headers for all requests
func WithDefaultHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.defaultHeaders[k] = v
		}
	}
}

// WithValidateSSL enables or disables SSL certificate validation
func WithValidateSSL(validate bool) ClientOption {
	return func(c *Client) {
		c.validateSSL = validate
	}
}

func WithLogger(l *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// Get builds a Request for target and executes it.
func (c *Client) Get(ctx context.Context, target config.Target, endpoint string, params map[string]string) (*Response, error) {
	return c.Do(ctx, &Request{Target: target, Endpoint: endpoint, Params: params})
}

// Do executes req, retrying as configured. The returned error is non-nil
// only when the request cannot be built or ctx ends; transport failures
// are reported through Response.Error.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	rawURL, err := req.URL()
	if err != nil {
		return nil, err
	}

	logger := c.logger.WithFields(log.Fields{"url": rawURL})
	backoff := c.initialBackoff
	attempts := c.retries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.wait(ctx, req.Target.BaseURL); err != nil {
			return nil, err
		}

		logger.WithField("attempt", attempt).Debug("sending request")
		resp, err := c.send(ctx, rawURL, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt == attempts {
				break
			}
			delay := c.backoffDelay(backoff)
			logger.WithError(err).WithField("wait", delay).Warn("request failed, retrying")
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			backoff = c.grow(backoff)
			continue
		}
		resp.Attempts = attempt

		if resp.StatusCode != http.StatusTooManyRequests {
			logger.WithFields(log.Fields{
				"status":   resp.StatusCode,
				"duration": resp.Duration,
			}).Debug("received response")
			return resp, nil
		}

		if attempt == attempts {
			logger.Warn(errRateLimited)
			resp.Error = errRateLimited
			return resp, nil
		}

		delay, ok := retryAfter(resp.Header("Retry-After"))
		if ok {
			delay = min(delay, c.maxBackoff)
		} else {
			delay = c.backoffDelay(backoff)
			backoff = c.grow(backoff)
		}
		logger.WithField("wait", delay).Warn("rate limited, waiting")
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return &Response{
		URL:      rawURL,
		Attempts: attempts,
		Error:    lastErr.Error(),
	}, nil
}

func (c *Client) send(ctx context.Context, rawURL string, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Accept", "application/json")
	for k, v := range c.defaultHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Target.APIKey != "" {
		httpReq.Header.Set(APIKeyHeader, req.Target.APIKey)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	duration := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	headers := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		headers[k] = httpResp.Header.Get(k)
	}

	return &Response{
		URL:        rawURL,
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    headers,
		Body:       body,
		JSON:       DecodeBody(body),
		Duration:   duration,
	}, nil
}

// wait blocks until the pacing limiter for baseURL allows a request.
func (c *Client) wait(ctx context.Context, baseURL string) error {
	if c.requestDelay <= 0 {
		return ctx.Err()
	}

	c.mu.Lock()
	l, ok := c.limiters[baseURL]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.requestDelay), 1)
		c.limiters[baseURL] = l
	}
	c.mu.Unlock()

	return l.Wait(ctx)
}

func (c *Client) backoffDelay(backoff time.Duration) time.Duration {
	d := backoff
	if c.jitter > 0 {
		d += rand.N(c.jitter)
	}
	return min(d, c.maxBackoff)
}

func (c *Client) grow(backoff time.Duration) time.Duration {
	next := time.Duration(float64(backoff) * c.backoffFactor)
	return min(next, c.maxBackoff)
}

// retryAfter parses a Retry-After header given in whole seconds.
func retryAfter(v string) (time.Duration, bool) {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
