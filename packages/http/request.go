package http

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/abdul-hamid-achik/parity/packages/core/config"
)

// Request is a GET against one API implementation.
type Request struct {
	Target   config.Target
	Endpoint string
	Params   map[string]string
	Headers  map[string]string
}

func NewRequest(target config.Target, endpoint string) *Request {
	return &Request{
		Target:   target,
		Endpoint: endpoint,
		Params:   make(map[string]string),
		Headers:  make(map[string]string),
	}
}

func (r *Request) SetParam(key, value string) *Request {
	r.Params[key] = value
	return r
}

func (r *Request) SetHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

// URL joins the target base URL with the endpoint and appends the query
// parameters in sorted order.
func (r *Request) URL() (string, error) {
	return BuildURL(r.Target.BaseURL, r.Endpoint, r.Params)
}

// BuildURL joins baseURL and endpoint with exactly one slash and encodes
// params as the query string. Parameters already present in endpoint are
// kept unless params overrides them.
func BuildURL(baseURL, endpoint string, params map[string]string) (string, error) {
	if err := ValidateURL(baseURL); err != nil {
		return "", err
	}

	raw := strings.TrimRight(baseURL, "/")
	if endpoint != "" {
		raw += "/" + strings.TrimLeft(endpoint, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %v", err)
	}

	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// ParamString renders params as a stable "k=v&k2=v2" string, or "" when
// there are none. It names saved response files and result rows.
func ParamString(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + params[k]
	}
	return strings.Join(parts, "&")
}

// ValidateURL checks that a URL is well-formed and uses an allowed scheme
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %q (only http and https are allowed)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
