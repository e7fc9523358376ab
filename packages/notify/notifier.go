// Package notify posts parity run summaries to chat webhooks.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/abdul-hamid-achik/parity/packages/core/runner"
)

// NotifyOn specifies when to send notifications
type NotifyOn string

const (
	// NotifyAlways sends notifications for every run
	NotifyAlways NotifyOn = "always"
	// NotifyFailure sends notifications only when cases fail
	NotifyFailure NotifyOn = "failure"
	// NotifySuccess sends notifications only when every case passes
	NotifySuccess NotifyOn = "success"
	// NotifyRecovery sends notifications on failure and when a run passes
	// after a failing one
	NotifyRecovery NotifyOn = "recovery"
)

// maxFailedResults bounds the failed cases listed in a message.
const maxFailedResults = 10

// ParseNotifyOn validates a policy name; "" means failure.
func ParseNotifyOn(s string) (NotifyOn, error) {
	switch NotifyOn(s) {
	case "":
		return NotifyFailure, nil
	case NotifyAlways, NotifyFailure, NotifySuccess, NotifyRecovery:
		return NotifyOn(s), nil
	default:
		return "", fmt.Errorf("invalid notify-on value %q (want always, failure, success or recovery)", s)
	}
}

// RunSummary is what a notification says about a run.
type RunSummary struct {
	RunID       string        `json:"run_id,omitempty"`
	Suite       string        `json:"suite"`
	Environment string        `json:"environment,omitempty"`
	Compared    int           `json:"compared"`
	Equal       int           `json:"equal"`
	Differing   int           `json:"differing"`
	Errored     int           `json:"errored"`
	Skipped     int           `json:"skipped"`
	PassRate    float64       `json:"pass_rate"`
	Duration    time.Duration `json:"duration"`
	// Latency holds the p95 latency of each implementation, by target.
	Latency  map[string]time.Duration `json:"latency,omitempty"`
	Failures []Failure                `json:"failures,omitempty"`
	// More counts failed cases beyond Failures.
	More      int  `json:"more,omitempty"`
	Recovered bool `json:"recovered,omitempty"`
}

// Failure is one differing request.
type Failure struct {
	Name        string   `json:"name"`
	Endpoint    string   `json:"endpoint"`
	Status1     int      `json:"status1"`
	Status2     int      `json:"status2"`
	Differences []string `json:"differences,omitempty"`
}

// NewRunSummary summarizes a run, listing at most ten failed cases.
func NewRunSummary(result *runner.RunResult) *RunSummary {
	s := &RunSummary{
		RunID:       result.ID,
		Suite:       result.Suite,
		Environment: result.Environment,
		Compared:    result.Total(),
		Equal:       result.Passed,
		Differing:   result.Failed,
		Errored:     result.Errors,
		Skipped:     result.Skipped,
		PassRate:    result.PassRate(),
		Duration:    result.Duration,
	}
	if result.Metrics != nil && len(result.Metrics.Targets) > 0 {
		s.Latency = make(map[string]time.Duration, len(result.Metrics.Targets))
		for _, t := range result.Metrics.Targets {
			s.Latency[t.Name] = time.Duration(t.P95Ms * float64(time.Millisecond))
		}
	}
	for _, c := range result.Failures() {
		if len(s.Failures) == maxFailedResults {
			s.More++
			continue
		}
		s1, s2 := c.Status()
		diffs := c.Differences
		if c.Error != "" {
			diffs = append([]string{c.Error}, diffs...)
		}
		s.Failures = append(s.Failures, Failure{
			Name:        c.Name(),
			Endpoint:    c.Endpoint,
			Status1:     s1,
			Status2:     s2,
			Differences: diffs,
		})
	}
	return s
}

// OK reports whether the implementations agreed on every request.
func (s *RunSummary) OK() bool {
	return s.Differing == 0
}

func (s *RunSummary) title() string {
	switch {
	case !s.OK():
		return fmt.Sprintf("%d of %d comparison(s) differ", s.Differing, s.Compared)
	case s.Recovered:
		return "Implementations match again"
	default:
		return fmt.Sprintf("All %d comparison(s) match", s.Compared)
	}
}

// facts are the label/value pairs shown by every notifier, in order.
func (s *RunSummary) facts() [][2]string {
	facts := [][2]string{
		{"Suite", s.Suite},
		{"Compared", strconv.Itoa(s.Compared)},
		{"Differing", strconv.Itoa(s.Differing)},
		{"Pass Rate", fmt.Sprintf("%.2f%%", s.PassRate)},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
	}
	if s.Environment != "" {
		facts = append(facts, [2]string{"Environment", s.Environment})
	}
	if s.Errored > 0 {
		facts = append(facts, [2]string{"Request Errors", strconv.Itoa(s.Errored)})
	}
	targets := make([]string, 0, len(s.Latency))
	for name := range s.Latency {
		targets = append(targets, name)
	}
	sort.Strings(targets)
	for _, name := range targets {
		facts = append(facts, [2]string{name + " p95", s.Latency[name].Round(time.Millisecond).String()})
	}
	return facts
}

// failureLines renders the listed failures, one request per entry
// followed by its differences.
func (s *RunSummary) failureLines() []string {
	var lines []string
	for _, f := range s.Failures {
		lines = append(lines, fmt.Sprintf("`%s` (%d vs %d)", f.Name, f.Status1, f.Status2))
		for _, d := range f.Differences {
			lines = append(lines, "  "+d)
		}
	}
	if s.More > 0 {
		lines = append(lines, fmt.Sprintf("…and %d more", s.More))
	}
	return lines
}

// Notifier is the interface for notification services
type Notifier interface {
	// Notify sends a notification about a run
	Notify(ctx context.Context, summary *RunSummary) error

	// Name returns the name of the notifier
	Name() string
}

// Manager manages multiple notifiers
type Manager struct {
	notifiers []Notifier
	notifyOn  NotifyOn
	lastState bool // true if last run was successful
}

type ManagerOption func(*Manager)

// WithPreviousSuccess seeds the outcome of the previous run, typically
// read from the history database.
func WithPreviousSuccess(ok bool) ManagerOption {
	return func(m *Manager) {
		m.lastState = ok
	}
}

// NewManager creates a new notification manager
func NewManager(notifyOn NotifyOn, notifiers []Notifier, opts ...ManagerOption) *Manager {
	m := &Manager{
		notifiers: notifiers,
		notifyOn:  notifyOn,
		lastState: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddNotifier adds a notifier to the manager
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Len returns the number of configured notifiers.
func (m *Manager) Len() int {
	return len(m.notifiers)
}

// Notify sends notifications based on the configured policy. It reports
// whether a notification was due and the last delivery error.
func (m *Manager) Notify(ctx context.Context, summary *RunSummary) (bool, error) {
	shouldNotify := false
	currentSuccess := summary.OK()

	switch m.notifyOn {
	case NotifyAlways:
		shouldNotify = true
	case NotifyFailure:
		shouldNotify = !currentSuccess
	case NotifySuccess:
		shouldNotify = currentSuccess
	case NotifyRecovery:
		if !m.lastState && currentSuccess {
			shouldNotify = true
			summary.Recovered = true
		}
		if !currentSuccess {
			shouldNotify = true
		}
	}

	m.lastState = currentSuccess

	if !shouldNotify {
		return false, nil
	}

	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, summary); err != nil {
			lastErr = fmt.Errorf("%s: %w", n.Name(), err)
		}
	}
	return true, lastErr
}
