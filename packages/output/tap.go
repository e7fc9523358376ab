package output

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/parity/packages/core/runner"
)

// TAPFormatter writes results as TAP version 13. Failed cases carry a
// YAML diagnostic block.
type TAPFormatter struct {
	writer io.Writer
	cases  []*runner.CaseResult
}

type TAPOption func(*TAPFormatter)

func NewTAPFormatter(opts ...TAPOption) *TAPFormatter {
	f := &TAPFormatter{writer: os.Stdout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func TAPWithWriter(w io.Writer) TAPOption {
	return func(f *TAPFormatter) {
		f.writer = w
	}
}

type tapDiagnostic struct {
	Endpoint    string   `yaml:"endpoint"`
	Status      []int    `yaml:"status,flow"`
	Severity    string   `yaml:"severity"`
	Message     string   `yaml:"message,omitempty"`
	Differences []string `yaml:"differences,omitempty"`
}

func (f *TAPFormatter) FormatResult(result *runner.RunResult) {
	f.cases = append(f.cases, result.Results...)
}

func (f *TAPFormatter) FormatError(err error) {}

func (f *TAPFormatter) FormatHeader(version string) {}

func (f *TAPFormatter) Flush(totalDuration time.Duration) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "TAP version 13\n1..%d\n", len(f.cases))

	for i, c := range f.cases {
		n := i + 1
		switch {
		case c.Skipped:
			reason := c.SkipReason
			if reason == "" {
				reason = "skipped"
			}
			fmt.Fprintf(&b, "ok %d - %s # SKIP %s\n", n, c.Name(), reason)
		case c.Passed:
			fmt.Fprintf(&b, "ok %d - %s\n", n, c.Name())
		default:
			fmt.Fprintf(&b, "not ok %d - %s\n", n, c.Name())
			if err := writeDiagnostic(&b, c); err != nil {
				return err
			}
		}
	}

	fmt.Fprintf(&b, "# time %dms\n", totalDuration.Milliseconds())
	_, err := f.writer.Write(b.Bytes())
	return err
}

func writeDiagnostic(b *bytes.Buffer, c *runner.CaseResult) error {
	s1, s2 := c.Status()
	d := tapDiagnostic{
		Endpoint:    c.Endpoint,
		Status:      []int{s1, s2},
		Severity:    "fail",
		Differences: c.Differences,
	}
	if c.Errored() {
		d.Severity = "error"
		d.Message = firstDifference(c)
	}

	var doc bytes.Buffer
	enc := yaml.NewEncoder(&doc)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encoding TAP diagnostic: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	b.WriteString("  ---\n")
	for _, line := range strings.Split(strings.TrimRight(doc.String(), "\n"), "\n") {
		b.WriteString("  " + line + "\n")
	}
	b.WriteString("  ...\n")
	return nil
}
