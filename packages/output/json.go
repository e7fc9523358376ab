package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/parity/packages/core/runner"
	"github.com/abdul-hamid-achik/parity/packages/export/metrics"
)

// JSONOutput is the JSON report of a run. The diff command reads it back.
type JSONOutput struct {
	RunID       string           `json:"runId,omitempty"`
	Suite       string           `json:"suite"`
	Environment string           `json:"environment"`
	Summary     JSONSummary      `json:"summary"`
	Tests       []JSONTest       `json:"tests"`
	Metrics     *metrics.Summary `json:"metrics,omitempty"`
	Duration    float64          `json:"duration"`
	Time        string           `json:"time"`
}

// JSONSummary counts the cases of a run. Total excludes skipped cases.
type JSONSummary struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	Errors   int     `json:"errors"`
	PassRate float64 `json:"passRate"`
	Bailed   bool    `json:"bailed,omitempty"`
}

// JSONTest is one compared request.
type JSONTest struct {
	Name        string            `json:"name"`
	Endpoint    string            `json:"endpoint"`
	Path        string            `json:"path"`
	Params      map[string]string `json:"params,omitempty"`
	Passed      bool              `json:"passed"`
	Skipped     bool              `json:"skipped,omitempty"`
	SkipReason  string            `json:"skipReason,omitempty"`
	Duration    float64           `json:"duration"`
	Error       string            `json:"error,omitempty"`
	Status1     int               `json:"status1,omitempty"`
	Status2     int               `json:"status2,omitempty"`
	Differences []string          `json:"differences,omitempty"`
}

// JSONFormatter formats run results as JSON
type JSONFormatter struct {
	writer io.Writer
	output JSONOutput
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{
		writer: os.Stdout,
		output: JSONOutput{Tests: make([]JSONTest, 0)},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

// NewJSONTest converts a case for the JSON report.
func NewJSONTest(c *runner.CaseResult) JSONTest {
	s1, s2 := c.Status()
	return JSONTest{
		Name:        c.Name(),
		Endpoint:    c.Endpoint,
		Path:        c.Path,
		Params:      c.Params,
		Passed:      c.Passed,
		Skipped:     c.Skipped,
		SkipReason:  c.SkipReason,
		Duration:    float64(c.Duration.Milliseconds()),
		Error:       c.Error,
		Status1:     s1,
		Status2:     s2,
		Differences: c.Differences,
	}
}

// FormatResult accumulates a run. When several runs are formatted, as in
// watch mode, the report describes the last one.
func (f *JSONFormatter) FormatResult(result *runner.RunResult) {
	tests := make([]JSONTest, 0, len(result.Results))
	for _, c := range result.Results {
		tests = append(tests, NewJSONTest(c))
	}
	f.output = JSONOutput{
		RunID:       result.ID,
		Suite:       result.Suite,
		Environment: result.Environment,
		Summary: JSONSummary{
			Total:    result.Total(),
			Passed:   result.Passed,
			Failed:   result.Failed,
			Skipped:  result.Skipped,
			Errors:   result.Errors,
			PassRate: result.PassRate(),
			Bailed:   result.Bailed,
		},
		Tests:   tests,
		Metrics: result.Metrics,
	}
}

func (f *JSONFormatter) FormatError(err error) {
	// Errors are included in individual test results
}

func (f *JSONFormatter) FormatHeader(version string) {
	// No header needed for JSON output
}

// Flush writes the accumulated JSON output
func (f *JSONFormatter) Flush(totalDuration time.Duration) error {
	f.output.Duration = float64(totalDuration.Milliseconds())
	f.output.Time = time.Now().Format(time.RFC3339)

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(f.output)
}

// LoadJSONReport reads a report written by JSONFormatter.
func LoadJSONReport(path string) (*JSONOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out JSONOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}
	return &out, nil
}
