// Package metrics records request latency per API implementation and the
// comparison outcomes of a run, and exports them as JSON or Prometheus
// text.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Latencies are stored in microseconds, from 1µs to 60s.
const (
	minLatency   = 1
	maxLatency   = 60_000_000
	sigFigs      = 3
	usPerMilli   = 1000.0
	maxTrackable = maxLatency * time.Microsecond
)

// Recorder is safe for concurrent use.
type Recorder struct {
	mu          sync.Mutex
	targets     map[string]*targetStats
	comparisons int64
	equal       int64
	started     time.Time
}

type targetStats struct {
	histogram   *hdrhistogram.Histogram
	requests    int64
	errors      int64
	retries     int64
	statusCodes map[int]int64
}

func NewRecorder() *Recorder {
	return &Recorder{
		targets: make(map[string]*targetStats),
		started: time.Now(),
	}
}

// RecordRequest adds one request made to target. failed marks transport
// errors and exhausted rate limits; attempts beyond the first count as
// retries.
func (r *Recorder) RecordRequest(target string, statusCode int, d time.Duration, attempts int, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts, ok := r.targets[target]
	if !ok {
		ts = &targetStats{
			histogram:   hdrhistogram.New(minLatency, maxLatency, sigFigs),
			statusCodes: make(map[int]int64),
		}
		r.targets[target] = ts
	}

	ts.requests++
	ts.statusCodes[statusCode]++
	if failed {
		ts.errors++
	}
	if attempts > 1 {
		ts.retries += int64(attempts - 1)
	}
	if d > 0 {
		_ = ts.histogram.RecordValue(min(d, maxTrackable).Microseconds())
	}
}

// RecordComparison counts one comparison verdict.
func (r *Recorder) RecordComparison(equal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comparisons++
	if equal {
		r.equal++
	}
}

// Summary is a point-in-time view of a Recorder.
type Summary struct {
	Duration    time.Duration    `json:"-"`
	DurationMs  float64          `json:"duration_ms"`
	Comparisons int64            `json:"comparisons"`
	Equal       int64            `json:"equal"`
	Different   int64            `json:"different"`
	Targets     []*TargetSummary `json:"targets"`
}

// TargetSummary holds the request statistics of one implementation.
type TargetSummary struct {
	Name        string        `json:"name"`
	Requests    int64         `json:"requests"`
	Errors      int64         `json:"errors"`
	Retries     int64         `json:"retries"`
	StatusCodes map[int]int64 `json:"status_codes"`
	MinMs       float64       `json:"min_ms"`
	MaxMs       float64       `json:"max_ms"`
	MeanMs      float64       `json:"mean_ms"`
	P50Ms       float64       `json:"p50_ms"`
	P90Ms       float64       `json:"p90_ms"`
	P95Ms       float64       `json:"p95_ms"`
	P99Ms       float64       `json:"p99_ms"`
}

// Target returns the summary for name, or nil.
func (s *Summary) Target(name string) *TargetSummary {
	for _, t := range s.Targets {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (r *Recorder) Summary() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := time.Since(r.started)
	s := &Summary{
		Duration:    d,
		DurationMs:  float64(d.Microseconds()) / usPerMilli,
		Comparisons: r.comparisons,
		Equal:       r.equal,
		Different:   r.comparisons - r.equal,
	}

	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ts := r.targets[name]
		codes := make(map[int]int64, len(ts.statusCodes))
		for k, v := range ts.statusCodes {
			codes[k] = v
		}
		h := ts.histogram
		s.Targets = append(s.Targets, &TargetSummary{
			Name:        name,
			Requests:    ts.requests,
			Errors:      ts.errors,
			Retries:     ts.retries,
			StatusCodes: codes,
			MinMs:       float64(h.Min()) / usPerMilli,
			MaxMs:       float64(h.Max()) / usPerMilli,
			MeanMs:      h.Mean() / usPerMilli,
			P50Ms:       float64(h.ValueAtQuantile(50)) / usPerMilli,
			P90Ms:       float64(h.ValueAtQuantile(90)) / usPerMilli,
			P95Ms:       float64(h.ValueAtQuantile(95)) / usPerMilli,
			P99Ms:       float64(h.ValueAtQuantile(99)) / usPerMilli,
		})
	}
	return s
}
