package runner

import (
	"time"

	"github.com/abdul-hamid-achik/parity/packages/export/metrics"
	"github.com/abdul-hamid-achik/parity/packages/http"
)

// RunResult is the outcome of one suite run.
type RunResult struct {
	ID          string
	Suite       string
	Environment string
	StartedAt   time.Time
	Duration    time.Duration
	Results     []*CaseResult
	Passed      int
	Failed      int
	Skipped     int
	// Errors counts failed cases where a request could not complete.
	Errors int
	// Bailed is set when the run stopped at the first failure.
	Bailed  bool
	Metrics *metrics.Summary
}

// Total is the number of compared cases, skipped ones excluded.
func (r *RunResult) Total() int {
	return r.Passed + r.Failed
}

// PassRate returns the passed share of compared cases in percent.
func (r *RunResult) PassRate() float64 {
	if r.Total() == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total()) * 100
}

// Failures returns the failed cases in run order.
func (r *RunResult) Failures() []*CaseResult {
	var out []*CaseResult
	for _, c := range r.Results {
		if !c.Passed && !c.Skipped {
			out = append(out, c)
		}
	}
	return out
}

// CaseResult is the verdict for one request sent to both implementations.
type CaseResult struct {
	Endpoint    string
	Path        string
	Params      map[string]string
	Tags        []string
	Passed      bool
	Skipped     bool
	SkipReason  string
	Differences []string
	// Error is set when the case could not be compared at all.
	Error     string
	Response1 *http.Response
	Response2 *http.Response
	Duration  time.Duration

	order []int
}

// ParamString renders the query parameters as "k=v&k2=v2".
func (c *CaseResult) ParamString() string {
	return http.ParamString(c.Params)
}

// Name identifies the case in reports: the request path and its query.
func (c *CaseResult) Name() string {
	if p := c.ParamString(); p != "" {
		return c.Path + "?" + p
	}
	return c.Path
}

// Errored reports whether a request of the case failed to complete.
func (c *CaseResult) Errored() bool {
	if c.Error != "" {
		return true
	}
	for _, r := range []*http.Response{c.Response1, c.Response2} {
		if r != nil && r.Error != "" {
			return true
		}
	}
	return false
}

// Status returns the two status codes, 0 for a missing response.
func (c *CaseResult) Status() (int, int) {
	var s1, s2 int
	if c.Response1 != nil {
		s1 = c.Response1.StatusCode
	}
	if c.Response2 != nil {
		s2 = c.Response2.StatusCode
	}
	return s1, s2
}

func before(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
