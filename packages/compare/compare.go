package compare

import "fmt"

// Response is the part of an HTTP response that takes part in a
// comparison. JSON holds the decoded body (nil for an empty body).
type Response struct {
	Status int `json:"status"`
	JSON   any `json:"json"`
}

// Result is the verdict of a comparison. Differences is never nil.
type Result struct {
	Equal       bool     `json:"equal"`
	Differences []string `json:"differences"`
}

// Observed is a response as seen by the HTTP client, including any
// transport error that prevented a real response.
type Observed struct {
	Response
	Err string `json:"error,omitempty"`
}

func (o Observed) success() bool {
	return o.Status >= 200 && o.Status < 300
}

func newResult() Result {
	return Result{Equal: true, Differences: []string{}}
}

func (r *Result) addf(format string, args ...any) {
	r.Equal = false
	r.Differences = append(r.Differences, fmt.Sprintf(format, args...))
}

// Compare checks that a and b carry the same status code and
// structurally equal JSON bodies.
func Compare(a, b Response) Result {
	return CompareWith(a, b, Options{})
}

// CompareWith is Compare with diff options applied to the bodies.
func CompareWith(a, b Response, opts Options) Result {
	r := newResult()
	if a.Status != b.Status {
		r.addf("Status codes differ: %d vs %d", a.Status, b.Status)
	}
	r.compareBodies(a.JSON, b.JSON, opts)
	return r
}

// CompareObserved compares two observed responses. Transport errors are
// reported for each side and bodies are only compared when both
// responses are 2xx, so two different error pages with the same status
// count as equal.
func CompareObserved(a, b Observed, opts Options) Result {
	r := newResult()
	if a.Status != b.Status {
		r.addf("Status codes differ: %d vs %d", a.Status, b.Status)
	}
	if a.Err != "" {
		r.addf("API1 error: %s", a.Err)
	}
	if b.Err != "" {
		r.addf("API2 error: %s", b.Err)
	}
	if a.success() && b.success() {
		r.compareBodies(a.JSON, b.JSON, opts)
	}
	return r
}

// CompareSuccess only requires both responses to be 2xx. It is used for
// endpoints whose bodies are expected to differ, such as random items.
func CompareSuccess(a, b Observed) Result {
	r := newResult()
	if !a.success() {
		r.addf("API1 error: %s", a.failure())
	}
	if !b.success() {
		r.addf("API2 error: %s", b.failure())
	}
	return r
}

func (o Observed) failure() string {
	if o.Err != "" {
		return o.Err
	}
	return fmt.Sprint(o.Status)
}

func (r *Result) compareBodies(a, b any, opts Options) {
	diffs, err := Diff(a, b, opts)
	if err != nil {
		r.addf("Error comparing responses: %v", err)
		return
	}
	if len(diffs) > 0 {
		r.addf("Response bodies differ: %s", Summarize(diffs))
	}
}

func (r Result) String() string {
	if r.Equal {
		return "equal"
	}
	return fmt.Sprintf("%d difference(s)", len(r.Differences))
}
