package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/abdul-hamid-achik/parity/packages/compare"
	"github.com/abdul-hamid-achik/parity/packages/core/runner"
	"github.com/abdul-hamid-achik/parity/packages/export/metrics"
	"github.com/abdul-hamid-achik/parity/packages/http"
)

type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

// WithVerbose prints status codes of every case and a text diff of the
// bodies of failed ones.
func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

func (f *ConsoleFormatter) FormatResult(result *runner.RunResult) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(f.writer, "\n%s\n", bold(fmt.Sprintf("Suite: %s (environment: %s)", result.Suite, result.Environment)))
	fmt.Fprintf(f.writer, "\n")

	for _, c := range result.Results {
		if c.Skipped {
			fmt.Fprintf(f.writer, "  %s %s", yellow("-"), c.Name())
			if c.SkipReason != "" {
				fmt.Fprintf(f.writer, " (%s)", c.SkipReason)
			}
			fmt.Fprintf(f.writer, "\n")
			continue
		}

		if c.Error != "" {
			fmt.Fprintf(f.writer, "  %s %s %s\n", red("x"), c.Name(), red(fmt.Sprintf("(%s)", c.Error)))
			continue
		}

		symbol := green("✓")
		if !c.Passed {
			symbol = red("✗")
		}
		fmt.Fprintf(f.writer, "  %s %s %s\n", symbol, c.Name(), cyan(fmt.Sprintf("(%dms)", c.Duration.Milliseconds())))

		if f.verbose {
			s1, s2 := c.Status()
			fmt.Fprintf(f.writer, "    Status: %d vs %d\n", s1, s2)
		}

		if c.Passed {
			continue
		}
		for _, d := range c.Differences {
			fmt.Fprintf(f.writer, "    %s %s\n", red("→"), d)
		}
		if f.verbose {
			f.formatBodies(c)
		}
	}

	fmt.Fprintf(f.writer, "\n")
	fmt.Fprintf(f.writer, "Cases: ")
	if result.Passed > 0 {
		fmt.Fprintf(f.writer, "%s, ", green(fmt.Sprintf("%d passed", result.Passed)))
	}
	if result.Failed > 0 {
		fmt.Fprintf(f.writer, "%s, ", red(fmt.Sprintf("%d failed", result.Failed)))
	}
	if result.Skipped > 0 {
		fmt.Fprintf(f.writer, "%s, ", yellow(fmt.Sprintf("%d skipped", result.Skipped)))
	}
	fmt.Fprintf(f.writer, "%d total\n", result.Total())
	fmt.Fprintf(f.writer, "Pass rate: %.2f%%\n", result.PassRate())
	if result.Errors > 0 {
		fmt.Fprintf(f.writer, "Errors: %s\n", red(fmt.Sprintf("%d request(s) failed", result.Errors)))
	}
	if result.Bailed {
		fmt.Fprintf(f.writer, "%s\n", yellow("Stopped after the first failure (--bail)"))
	}
	f.formatLatency(result.Metrics)
	fmt.Fprintf(f.writer, "Time:  %dms\n", result.Duration.Milliseconds())
	fmt.Fprintf(f.writer, "\n")
}

// maxBodyPreview bounds how much of a non-JSON body verbose output shows.
const maxBodyPreview = 120

// formatBodies prints a text diff when both bodies are JSON, and a short
// preview of each body that is not.
func (f *ConsoleFormatter) formatBodies(c *runner.CaseResult) {
	r1, r2 := c.Response1, c.Response2
	if r1 != nil && r2 != nil && r1.IsJSON() && r2.IsJSON() {
		if diff := compare.TextDiff(r1.JSON, r2.JSON); diff != "" {
			fmt.Fprintf(f.writer, "    Diff (- %s, + %s):\n", runner.Target1, runner.Target2)
			for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
				fmt.Fprintf(f.writer, "      %s\n", colorDiffLine(line))
			}
		}
		return
	}
	for _, side := range []struct {
		target string
		resp   *http.Response
	}{{runner.Target1, r1}, {runner.Target2, r2}} {
		if side.resp == nil || len(side.resp.Body) == 0 || side.resp.IsJSON() {
			continue
		}
		body := strings.Join(strings.Fields(side.resp.BodyString()), " ")
		if runes := []rune(body); len(runes) > maxBodyPreview {
			body = string(runes[:maxBodyPreview]) + "..."
		}
		fmt.Fprintf(f.writer, "    %s body: %s\n", side.target, body)
	}
}

func (f *ConsoleFormatter) formatLatency(s *metrics.Summary) {
	if s == nil || len(s.Targets) == 0 {
		return
	}
	fmt.Fprintf(f.writer, "Latency:\n")
	for _, t := range s.Targets {
		fmt.Fprintf(f.writer, "  %-9s %d requests  p50 %.1fms  p90 %.1fms  p95 %.1fms  p99 %.1fms  max %.1fms\n",
			t.Name, t.Requests, t.P50Ms, t.P90Ms, t.P95Ms, t.P99Ms, t.MaxMs)
	}
}

func colorDiffLine(line string) string {
	switch {
	case strings.HasPrefix(line, "-"):
		return color.RedString("%s", line)
	case strings.HasPrefix(line, "+"):
		return color.GreenString("%s", line)
	default:
		return line
	}
}

func (f *ConsoleFormatter) FormatError(err error) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(f.writer, "%s %v\n", red("Error:"), err)
}

func (f *ConsoleFormatter) FormatHeader(version string) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(f.writer, "%s %s\n", bold("parity"), version)
}
