package output

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/parity/packages/core/runner"
	"github.com/abdul-hamid-achik/parity/packages/http"
)

// JUnitTestSuites is the root element. Each formatted run becomes one
// testsuite.
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Name       string           `xml:"name,attr,omitempty"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Errors     int              `xml:"errors,attr"`
	Skipped    int              `xml:"skipped,attr"`
	Time       float64          `xml:"time,attr"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

type JUnitTestSuite struct {
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Errors     int             `xml:"errors,attr"`
	Skipped    int             `xml:"skipped,attr"`
	Time       float64         `xml:"time,attr"`
	Timestamp  string          `xml:"timestamp,attr,omitempty"`
	Properties []JUnitProperty `xml:"properties>property,omitempty"`
	TestCases  []JUnitTestCase `xml:"testcase"`
}

type JUnitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// JUnitTestCase is one request sent to both implementations. SystemOut
// lists what each implementation answered.
type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitProblem `xml:"failure,omitempty"`
	Error     *JUnitProblem `xml:"error,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

// JUnitProblem is the body of a failure or error element.
type JUnitProblem struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

type JUnitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// JUnitFormatter writes results as JUnit XML for CI test reporters.
type JUnitFormatter struct {
	writer io.Writer
	suites []JUnitTestSuite
}

type JUnitOption func(*JUnitFormatter)

func NewJUnitFormatter(opts ...JUnitOption) *JUnitFormatter {
	f := &JUnitFormatter{writer: os.Stdout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JUnitWithWriter(w io.Writer) JUnitOption {
	return func(f *JUnitFormatter) {
		f.writer = w
	}
}

func (f *JUnitFormatter) FormatResult(result *runner.RunResult) {
	suite := JUnitTestSuite{
		Name:      result.Suite + " (" + result.Environment + ")",
		Tests:     len(result.Results),
		Failures:  result.Failed - result.Errors,
		Errors:    result.Errors,
		Skipped:   result.Skipped,
		Time:      result.Duration.Seconds(),
		Timestamp: result.StartedAt.Format(time.RFC3339),
		Properties: []JUnitProperty{
			{Name: "environment", Value: result.Environment},
			{Name: "run_id", Value: result.ID},
		},
	}
	if result.Bailed {
		suite.Properties = append(suite.Properties, JUnitProperty{Name: "bailed", Value: "true"})
	}

	for _, c := range result.Results {
		tc := JUnitTestCase{
			Name:      c.Name(),
			ClassName: result.Suite + "." + c.Endpoint,
			Time:      c.Duration.Seconds(),
			SystemOut: answers(c),
		}
		details := strings.Join(c.Differences, "\n")
		switch {
		case c.Skipped:
			tc.Skipped = &JUnitSkipped{Message: c.SkipReason}
		case c.Passed:
		case c.Errored():
			tc.Error = &JUnitProblem{Message: firstDifference(c), Type: "RequestError", Content: details}
		default:
			tc.Failure = &JUnitProblem{
				Message: fmt.Sprintf("%d difference(s)", len(c.Differences)),
				Type:    "ResponseMismatch",
				Content: details,
			}
		}
		suite.TestCases = append(suite.TestCases, tc)
	}

	f.suites = append(f.suites, suite)
}

// answers renders "apiImpl1: 200 in 12ms" lines for the responses a case
// received.
func answers(c *runner.CaseResult) string {
	var lines []string
	for _, a := range []struct {
		target string
		resp   *http.Response
	}{{runner.Target1, c.Response1}, {runner.Target2, c.Response2}} {
		switch {
		case a.resp == nil:
		case a.resp.Error != "":
			lines = append(lines, fmt.Sprintf("%s: %s", a.target, a.resp.Error))
		default:
			lines = append(lines, fmt.Sprintf("%s: %d in %dms", a.target, a.resp.StatusCode, a.resp.DurationMs()))
		}
	}
	return strings.Join(lines, "\n")
}

func firstDifference(c *runner.CaseResult) string {
	if c.Error != "" {
		return c.Error
	}
	for _, d := range c.Differences {
		if strings.Contains(d, " error: ") {
			return d
		}
	}
	if len(c.Differences) > 0 {
		return c.Differences[0]
	}
	return ""
}

// FormatError is a no-op; request errors are reported per test case.
func (f *JUnitFormatter) FormatError(err error) {}

func (f *JUnitFormatter) FormatHeader(version string) {}

func (f *JUnitFormatter) Flush(totalDuration time.Duration) error {
	root := JUnitTestSuites{
		Name:       "parity",
		Time:       totalDuration.Seconds(),
		TestSuites: f.suites,
	}
	for _, s := range f.suites {
		root.Tests += s.Tests
		root.Failures += s.Failures
		root.Errors += s.Errors
		root.Skipped += s.Skipped
	}

	if _, err := io.WriteString(f.writer, xml.Header); err != nil {
		return err
	}
	encoder := xml.NewEncoder(f.writer)
	encoder.Indent("", "  ")
	if err := encoder.Encode(root); err != nil {
		return err
	}
	_, err := io.WriteString(f.writer, "\n")
	return err
}
