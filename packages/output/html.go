package output

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/parity/packages/compare"
	"github.com/abdul-hamid-achik/parity/packages/core/runner"
	"github.com/abdul-hamid-achik/parity/packages/export/metrics"
)

// HTMLOutput is the data rendered by the HTML report template
type HTMLOutput struct {
	Version     string
	Title       string
	Suite       string
	Environment string
	Summary     HTMLSummary
	Groups      []HTMLGroup
	Latency     []*metrics.TargetSummary
	Duration    float64
	Time        string
}

type HTMLSummary struct {
	Total     int
	Passed    int
	Failed    int
	Skipped   int
	Errors    int
	PassRate  float64
	RateClass string
}

// HTMLGroup holds the cases of one endpoint
type HTMLGroup struct {
	Endpoint string
	Passed   int
	Failed   int
	Tests    []HTMLTest
}

type HTMLTest struct {
	Name        string
	Params      string
	Passed      bool
	Skipped     bool
	SkipReason  string
	Duration    float64
	Error       string
	StatusClass string
	Status1     int
	Status2     int
	Differences []string
	Diff        string
}

// HTMLFormatter formats run results as an HTML report grouped by endpoint
type HTMLFormatter struct {
	writer  io.Writer
	output  HTMLOutput
	diffs   bool
	version string
}

// HTMLOption is a functional option for HTMLFormatter
type HTMLOption func(*HTMLFormatter)

func NewHTMLFormatter(opts ...HTMLOption) *HTMLFormatter {
	f := &HTMLFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// HTMLWithWriter sets the output writer
func HTMLWithWriter(w io.Writer) HTMLOption {
	return func(f *HTMLFormatter) {
		f.writer = w
	}
}

// HTMLWithDiffs embeds a text diff of the bodies of every failed case.
func HTMLWithDiffs(enabled bool) HTMLOption {
	return func(f *HTMLFormatter) {
		f.diffs = enabled
	}
}

// FormatResult accumulates a run. Only the last run is rendered.
func (f *HTMLFormatter) FormatResult(result *runner.RunResult) {
	out := HTMLOutput{
		Title:       "API Regression Test Report",
		Suite:       result.Suite,
		Environment: result.Environment,
		Summary: HTMLSummary{
			Total:     result.Total(),
			Passed:    result.Passed,
			Failed:    result.Failed,
			Skipped:   result.Skipped,
			Errors:    result.Errors,
			PassRate:  result.PassRate(),
			RateClass: rateClass(result.PassRate()),
		},
	}
	if result.Metrics != nil {
		out.Latency = result.Metrics.Targets
	}

	index := map[string]int{}
	for _, c := range result.Results {
		i, ok := index[c.Endpoint]
		if !ok {
			i = len(out.Groups)
			index[c.Endpoint] = i
			out.Groups = append(out.Groups, HTMLGroup{Endpoint: c.Endpoint})
		}
		g := &out.Groups[i]

		s1, s2 := c.Status()
		test := HTMLTest{
			Name:        c.Name(),
			Params:      c.ParamString(),
			Passed:      c.Passed,
			Skipped:     c.Skipped,
			SkipReason:  c.SkipReason,
			Duration:    float64(c.Duration.Milliseconds()),
			Error:       c.Error,
			Status1:     s1,
			Status2:     s2,
			Differences: c.Differences,
		}
		switch {
		case c.Skipped:
			test.StatusClass = "skipped"
		case c.Passed:
			test.StatusClass = "pass"
			g.Passed++
		default:
			test.StatusClass = "fail"
			g.Failed++
			if f.diffs && c.Response1 != nil && c.Response2 != nil {
				test.Diff = compare.TextDiff(c.Response1.JSON, c.Response2.JSON)
			}
		}
		g.Tests = append(g.Tests, test)
	}
	f.output = out
}

func rateClass(rate float64) string {
	switch {
	case rate >= 90:
		return "good"
	case rate >= 70:
		return "warn"
	default:
		return "bad"
	}
}

// FormatError handles errors (no-op for HTML, errors are in test results)
func (f *HTMLFormatter) FormatError(err error) {
	// Errors are included in individual test results
}

// FormatHeader captures the version for the HTML report
func (f *HTMLFormatter) FormatHeader(version string) {
	f.version = version
}

// Flush writes the accumulated HTML output
func (f *HTMLFormatter) Flush(totalDuration time.Duration) error {
	f.output.Version = f.version
	f.output.Duration = float64(totalDuration.Milliseconds())
	f.output.Time = time.Now().Format("2006-01-02 15:04:05")
	if f.output.Title == "" {
		f.output.Title = "API Regression Test Report"
	}

	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse HTML template: %w", err)
	}

	return tmpl.Execute(f.writer, f.output)
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; margin: 0; padding: 20px; color: #333; }
h1, h2, h3 { color: #444; }
.summary { background-color: #f5f5f5; padding: 15px; border-radius: 5px; margin-bottom: 20px; }
.summary-item { margin-bottom: 10px; }
.pass-rate { font-size: 24px; font-weight: bold; }
.pass-rate.good { color: #4CAF50; }
.pass-rate.warn { color: #FF9800; }
.pass-rate.bad { color: #F44336; }
table.latency { border-collapse: collapse; margin-bottom: 20px; }
table.latency td, table.latency th { border: 1px solid #ddd; padding: 4px 10px; text-align: right; }
details.endpoint-group { margin-bottom: 20px; border: 1px solid #ddd; border-radius: 5px; }
details.endpoint-group > summary { background-color: #f0f0f0; padding: 10px 15px; cursor: pointer; }
.test-result { padding: 10px 15px; border-bottom: 1px solid #eee; }
.pass { border-left: 5px solid #4CAF50; }
.fail { border-left: 5px solid #F44336; }
.skipped { border-left: 5px solid #9E9E9E; color: #777; }
.params { font-family: monospace; background-color: #f9f9f9; padding: 5px; border-radius: 3px; }
.differences { margin-top: 10px; padding-left: 20px; }
.difference-item { font-family: monospace; color: #F44336; margin-bottom: 5px; }
pre.diff { background-color: #fafafa; padding: 10px; overflow-x: auto; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<div class="summary">
  <div class="summary-item">Suite: {{.Suite}} ({{.Environment}})</div>
  <div class="summary-item">Generated: {{.Time}}{{if .Version}} by parity {{.Version}}{{end}}</div>
  <div class="summary-item">Total Tests: {{.Summary.Total}}</div>
  <div class="summary-item">Passed: {{.Summary.Passed}}</div>
  <div class="summary-item">Failed: {{.Summary.Failed}}{{if .Summary.Errors}} ({{.Summary.Errors}} request errors){{end}}</div>
  {{if .Summary.Skipped}}<div class="summary-item">Skipped: {{.Summary.Skipped}}</div>{{end}}
  <div class="summary-item">Pass Rate: <span class="pass-rate {{.Summary.RateClass}}">{{printf "%.2f" .Summary.PassRate}}%</span></div>
  <div class="summary-item">Duration: {{printf "%.0f" .Duration}}ms</div>
</div>
{{if .Latency}}
<h2>Latency</h2>
<table class="latency">
<tr><th>Target</th><th>Requests</th><th>Errors</th><th>p50 (ms)</th><th>p90 (ms)</th><th>p95 (ms)</th><th>p99 (ms)</th><th>max (ms)</th></tr>
{{range .Latency}}<tr><td>{{.Name}}</td><td>{{.Requests}}</td><td>{{.Errors}}</td><td>{{printf "%.1f" .P50Ms}}</td><td>{{printf "%.1f" .P90Ms}}</td><td>{{printf "%.1f" .P95Ms}}</td><td>{{printf "%.1f" .P99Ms}}</td><td>{{printf "%.1f" .MaxMs}}</td></tr>
{{end}}</table>
{{end}}
<h2>Results by Endpoint</h2>
{{range .Groups}}
<details class="endpoint-group"{{if .Failed}} open{{end}}>
<summary><strong>{{.Endpoint}}</strong> {{.Passed}} passed, {{.Failed}} failed</summary>
{{range .Tests}}
<div class="test-result {{.StatusClass}}">
  <div><strong>{{.Name}}</strong>{{if not .Skipped}} ({{printf "%.0f" .Duration}}ms, status {{.Status1}} vs {{.Status2}}){{end}}</div>
  {{if .Params}}<div class="params">{{.Params}}</div>{{end}}
  {{if .Skipped}}<div>Skipped{{if .SkipReason}}: {{.SkipReason}}{{end}}</div>{{end}}
  {{if .Error}}<div class="difference-item">{{.Error}}</div>{{end}}
  {{if and (not .Passed) (not .Skipped) .Differences}}
  <div class="differences">
  {{range .Differences}}<div class="difference-item">{{.}}</div>
  {{end}}</div>
  {{end}}
  {{if .Diff}}<pre class="diff">{{.Diff}}</pre>{{end}}
</div>
{{end}}
</details>
{{end}}
</body>
</html>
`
