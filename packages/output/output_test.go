package output

import (
	"bytes"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/parity/packages/core/runner"
	"github.com/abdul-hamid-achik/parity/packages/export/metrics"
	"github.com/abdul-hamid-achik/parity/packages/http"
)

func jsonResponse(status int, body any) *http.Response {
	return &http.Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		JSON:       body,
		Duration:   12 * time.Millisecond,
	}
}

func sampleResult() *runner.RunResult {
	recorder := metrics.NewRecorder()
	recorder.RecordRequest(runner.Target1, 200, 10*time.Millisecond, 1, false)
	recorder.RecordRequest(runner.Target2, 200, 20*time.Millisecond, 1, false)

	return &runner.RunResult{
		ID:          "run-1",
		Suite:       "sunnah",
		Environment: "dev",
		StartedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:    1500 * time.Millisecond,
		Passed:      1,
		Failed:      2,
		Skipped:     1,
		Errors:      1,
		Metrics:     recorder.Summary(),
		Results: []*runner.CaseResult{
			{
				Endpoint:    "collections",
				Path:        "collections",
				Passed:      true,
				Differences: []string{},
				Response1:   jsonResponse(200, map[string]any{"total": 1}),
				Response2:   jsonResponse(200, map[string]any{"total": 1}),
				Duration:    25 * time.Millisecond,
			},
			{
				Endpoint:    "collection",
				Path:        "collections/bukhari",
				Params:      map[string]string{"page": "2"},
				Differences: []string{`Response bodies differ: $.name: "bukhari" vs "muslim"`},
				Response1:   jsonResponse(200, map[string]any{"name": "bukhari"}),
				Response2:   jsonResponse(200, map[string]any{"name": "muslim"}),
				Duration:    30 * time.Millisecond,
			},
			{
				Endpoint:    "hadith",
				Path:        "hadiths/1",
				Differences: []string{"Status codes differ: 200 vs 0", "API2 error: connection refused"},
				Response1:   jsonResponse(200, map[string]any{}),
				Response2:   &http.Response{Error: "connection refused"},
			},
			{
				Endpoint:   "books",
				Path:       "collections/muslim/books",
				Skipped:    true,
				SkipReason: "hasBooks is false",
			},
		},
	}
}

func TestConsoleFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewConsoleFormatter(WithWriter(&buf), WithNoColor(true), WithVerbose(true))
	f.FormatHeader("1.0.0")
	f.FormatResult(sampleResult())

	out := buf.String()
	assert.Contains(t, out, "parity 1.0.0")
	assert.Contains(t, out, "Suite: sunnah (environment: dev)")
	assert.Contains(t, out, "✓ collections (25ms)")
	assert.Contains(t, out, "✗ collections/bukhari?page=2 (30ms)")
	assert.Contains(t, out, `→ Response bodies differ: $.name: "bukhari" vs "muslim"`)
	assert.Contains(t, out, `-   "name": "bukhari"`)
	assert.Contains(t, out, `+   "name": "muslim"`)
	assert.Contains(t, out, "Status: 200 vs 0")
	assert.Contains(t, out, "- collections/muslim/books (hasBooks is false)")
	assert.Contains(t, out, "1 passed, 2 failed, 1 skipped, 3 total")
	assert.Contains(t, out, "Pass rate: 33.33%")
	assert.Contains(t, out, "Errors: 1 request(s) failed")
	assert.Contains(t, out, "apiImpl1")
	assert.Contains(t, out, "Time:  1500ms")
	assert.Regexp(t, `apiImpl1 +1 requests  p50 [0-9.]+ms  p90 [0-9.]+ms  p95`, out)
}

func TestConsoleFormatter_TextBodies(t *testing.T) {
	page := "<html>\n  <body>Bad Gateway</body>\n</html>\n"
	result := &runner.RunResult{
		Failed: 1,
		Results: []*runner.CaseResult{{
			Endpoint:    "collections",
			Path:        "collections",
			Differences: []string{"Status codes differ: 200 vs 502"},
			Response1:   jsonResponse(200, map[string]any{"total": 1}),
			Response2: &http.Response{
				StatusCode: 502,
				Headers:    map[string]string{"Content-Type": "text/html"},
				Body:       []byte(page + strings.Repeat("x", 200)),
			},
		}},
	}

	var buf bytes.Buffer
	NewConsoleFormatter(WithWriter(&buf), WithNoColor(true), WithVerbose(true)).FormatResult(result)
	out := buf.String()
	assert.Contains(t, out, "apiImpl2 body: <html> <body>Bad Gateway</body> </html> xxx")
	assert.Contains(t, out, "...\n")
	assert.NotContains(t, out, "apiImpl1 body:")
	assert.NotContains(t, out, "Diff (-")

	buf.Reset()
	NewConsoleFormatter(WithWriter(&buf), WithNoColor(true)).FormatResult(result)
	assert.NotContains(t, buf.String(), "body:")
}

func TestConsoleFormatter_Error(t *testing.T) {
	var buf bytes.Buffer
	f := NewConsoleFormatter(WithWriter(&buf), WithNoColor(true))
	f.FormatError(assert.AnError)
	assert.True(t, strings.HasPrefix(buf.String(), "Error: "))
}

func TestJSONFormatter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	file, err := os.Create(path)
	require.NoError(t, err)

	f := NewJSONFormatter(JSONWithWriter(file))
	f.FormatResult(sampleResult())
	require.NoError(t, f.Flush(2*time.Second))
	require.NoError(t, file.Close())

	report, err := LoadJSONReport(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, "sunnah", report.Suite)
	assert.Equal(t, 3, report.Summary.Total)
	assert.Equal(t, 2, report.Summary.Failed)
	assert.Equal(t, 1, report.Summary.Skipped)
	assert.Equal(t, 1, report.Summary.Errors)
	assert.InDelta(t, 33.33, report.Summary.PassRate, 0.01)
	assert.Equal(t, float64(2000), report.Duration)
	require.Len(t, report.Tests, 4)
	assert.Equal(t, "collections/bukhari?page=2", report.Tests[1].Name)
	assert.Equal(t, map[string]string{"page": "2"}, report.Tests[1].Params)
	assert.Equal(t, 0, report.Tests[2].Status2)
	assert.True(t, report.Tests[3].Skipped)
	require.NotNil(t, report.Metrics)
	assert.Len(t, report.Metrics.Targets, 2)
}

func TestLoadJSONReport_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	_, err := LoadJSONReport(path)
	assert.Error(t, err)

	_, err = LoadJSONReport(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestJUnitFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewJUnitFormatter(JUnitWithWriter(&buf))
	f.FormatResult(sampleResult())
	require.NoError(t, f.Flush(time.Second))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`))

	var suites JUnitTestSuites
	require.NoError(t, xml.Unmarshal([]byte(strings.SplitN(out, "\n", 2)[1]), &suites))
	assert.Equal(t, "parity", suites.Name)
	assert.Equal(t, 4, suites.Tests)
	assert.Equal(t, 1, suites.Failures)
	assert.Equal(t, 1, suites.Errors)
	assert.Equal(t, 1, suites.Skipped)

	require.Len(t, suites.TestSuites, 1)
	cases := suites.TestSuites[0].TestCases
	require.Len(t, cases, 4)
	assert.Equal(t, "sunnah.collection", cases[1].ClassName)
	require.NotNil(t, cases[1].Failure)
	assert.Equal(t, "1 difference(s)", cases[1].Failure.Message)
	require.NotNil(t, cases[2].Error)
	assert.Equal(t, "API2 error: connection refused", cases[2].Error.Message)
	assert.Equal(t, "apiImpl1: 200 in 12ms\napiImpl2: connection refused", cases[2].SystemOut)
	require.NotNil(t, cases[3].Skipped)
	assert.Empty(t, cases[3].SystemOut)

	assert.Contains(t, suites.TestSuites[0].Properties, JUnitProperty{Name: "run_id", Value: "run-1"})
}

func TestTAPFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewTAPFormatter(TAPWithWriter(&buf))
	f.FormatResult(sampleResult())
	require.NoError(t, f.Flush(time.Second))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "TAP version 13\n1..4\n"))
	assert.Contains(t, out, "ok 1 - collections\n")
	assert.Contains(t, out, "not ok 2 - collections/bukhari?page=2\n")
	assert.Contains(t, out, "not ok 3 - hadiths/1\n")
	assert.Contains(t, out, "ok 4 - collections/muslim/books # SKIP hasBooks is false\n")
	assert.True(t, strings.HasSuffix(out, "# time 1000ms\n"))

	blocks := tapDiagnostics(t, out)
	require.Len(t, blocks, 2)

	assert.Equal(t, "collection", blocks[0].Endpoint)
	assert.Equal(t, []int{200, 200}, blocks[0].Status)
	assert.Equal(t, "fail", blocks[0].Severity)
	assert.Equal(t, []string{`Response bodies differ: $.name: "bukhari" vs "muslim"`}, blocks[0].Differences)

	assert.Equal(t, "error", blocks[1].Severity)
	assert.Equal(t, []int{200, 0}, blocks[1].Status)
	assert.Equal(t, "API2 error: connection refused", blocks[1].Message)
}

// tapDiagnostics parses every "---" ... "..." block of a TAP stream.
func tapDiagnostics(t *testing.T, out string) []tapDiagnostic {
	t.Helper()
	var blocks []tapDiagnostic
	var current []string
	inBlock := false
	for _, line := range strings.Split(out, "\n") {
		switch {
		case line == "  ---":
			inBlock, current = true, nil
		case line == "  ...":
			var d tapDiagnostic
			require.NoError(t, yaml.Unmarshal([]byte(strings.Join(current, "\n")), &d))
			blocks = append(blocks, d)
			inBlock = false
		case inBlock:
			current = append(current, strings.TrimPrefix(line, "  "))
		}
	}
	return blocks
}

func TestHTMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewHTMLFormatter(HTMLWithWriter(&buf), HTMLWithDiffs(true))
	f.FormatHeader("1.0.0")
	f.FormatResult(sampleResult())
	require.NoError(t, f.Flush(time.Second))

	out := buf.String()
	assert.Contains(t, out, "<title>API Regression Test Report</title>")
	assert.Contains(t, out, "Suite: sunnah (dev)")
	assert.Contains(t, out, `<span class="pass-rate bad">33.33%</span>`)
	assert.Contains(t, out, "<strong>collection</strong> 0 passed, 1 failed")
	assert.Contains(t, out, "hasBooks is false")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, `<pre class="diff">`)
	assert.Contains(t, out, "by parity 1.0.0")
	assert.Contains(t, out, "<th>p90 (ms)</th>")
}

func TestRateClass(t *testing.T) {
	assert.Equal(t, "good", rateClass(95))
	assert.Equal(t, "warn", rateClass(75))
	assert.Equal(t, "bad", rateClass(10))
}
