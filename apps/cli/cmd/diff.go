package cmd

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/parity/packages/output"
)

var (
	diffOutputFlag     string
	diffThresholdFlag  string
	diffRegressionFlag bool
)

var diffCmd = &cobra.Command{
	Use:   "diff <report1.json> <report2.json>",
	Short: "Compare two JSON reports",
	Long: `Compare two JSON reports written by 'parity run' and show which
comparisons started or stopped passing, and how their durations changed.

Examples:
  parity diff output/report.json latest.json
  parity diff before.json after.json --output html
  parity diff before.json after.json --threshold 10% --fail-on-regression`,
	Args: cobra.ExactArgs(2),
	RunE: diffCommand,
}

func init() {
	diffCmd.Flags().StringVarP(&diffOutputFlag, "output", "o", "console", "Output format: console, json, html")
	diffCmd.Flags().StringVar(&diffThresholdFlag, "threshold", "", "Fail if any comparison is slower by this percentage (e.g., 10%)")
	diffCmd.Flags().BoolVar(&diffRegressionFlag, "fail-on-regression", false, "Fail if a comparison that passed now fails")
}

// DiffResult holds the comparison result
type DiffResult struct {
	File1       string           `json:"file1"`
	File2       string           `json:"file2"`
	Summary     DiffSummary      `json:"summary"`
	Comparisons []TestComparison `json:"comparisons"`
}

// TestComparison represents one request found in either report
type TestComparison struct {
	TestName       string  `json:"testName"`
	Endpoint       string  `json:"endpoint"`
	StatusChange   string  `json:"statusChange"` // fixed, regressed, slower, faster, unchanged, new, removed
	Duration1      float64 `json:"duration1,omitempty"`
	Duration2      float64 `json:"duration2,omitempty"`
	DurationChange float64 `json:"durationChange,omitempty"` // percent
	Passed1        bool    `json:"passed1"`
	Passed2        bool    `json:"passed2"`
	InFile1        bool    `json:"-"`
	InFile2        bool    `json:"-"`
	// Differences are those of the second report.
	Differences []string `json:"differences,omitempty"`
}

// DiffSummary provides overall statistics
type DiffSummary struct {
	TotalTests       int     `json:"totalTests"`
	Fixed            int     `json:"fixed"`
	Regressed        int     `json:"regressed"`
	Slower           int     `json:"slower"`
	Faster           int     `json:"faster"`
	Unchanged        int     `json:"unchanged"`
	NewTests         int     `json:"newTests"`
	RemovedTests     int     `json:"removedTests"`
	PassRate1        float64 `json:"passRate1"`
	PassRate2        float64 `json:"passRate2"`
	TotalDuration1   float64 `json:"totalDuration1"`
	TotalDuration2   float64 `json:"totalDuration2"`
	ThresholdPassed  bool    `json:"thresholdPassed"`
	ThresholdPercent float64 `json:"thresholdPercent,omitempty"`
}

func diffCommand(cmd *cobra.Command, args []string) error {
	file1, file2 := args[0], args[1]

	report1, err := output.LoadJSONReport(file1)
	if err != nil {
		return parseError(fmt.Errorf("failed to load %s: %w", file1, err))
	}
	report2, err := output.LoadJSONReport(file2)
	if err != nil {
		return parseError(fmt.Errorf("failed to load %s: %w", file2, err))
	}

	var threshold float64
	if diffThresholdFlag != "" {
		threshold, err = parseThreshold(diffThresholdFlag)
		if err != nil {
			return usageError(err)
		}
	}

	diff := compareReports(file1, file2, report1, report2, threshold)

	out := cmd.OutOrStdout()
	switch strings.ToLower(diffOutputFlag) {
	case "json":
		err = outputDiffJSON(out, diff)
	case "html":
		err = outputDiffHTML(out, diff)
	default:
		outputDiffConsole(out, diff)
	}
	if err != nil {
		return err
	}

	if !diff.Summary.ThresholdPassed {
		return withCode(ExitTestFailure, fmt.Errorf("threshold exceeded"))
	}
	if diffRegressionFlag && diff.Summary.Regressed > 0 {
		return withCode(ExitTestFailure, fmt.Errorf("%d comparison(s) regressed", diff.Summary.Regressed))
	}
	return nil
}

func parseThreshold(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid threshold %q: %w", s, err)
	}
	return v, nil
}

// compareReports matches the requests of both reports by name. Skipped
// requests are left out.
func compareReports(file1, file2 string, report1, report2 *output.JSONOutput, threshold float64) *DiffResult {
	diff := &DiffResult{
		File1: file1,
		File2: file2,
		Summary: DiffSummary{
			PassRate1:        report1.Summary.PassRate,
			PassRate2:        report2.Summary.PassRate,
			TotalDuration1:   report1.Duration,
			TotalDuration2:   report2.Duration,
			ThresholdPercent: threshold,
			ThresholdPassed:  true,
		},
	}

	index := func(r *output.JSONOutput) map[string]output.JSONTest {
		m := make(map[string]output.JSONTest, len(r.Tests))
		for _, t := range r.Tests {
			if !t.Skipped {
				m[t.Endpoint+"::"+t.Name] = t
			}
		}
		return m
	}
	tests1, tests2 := index(report1), index(report2)

	keys := make([]string, 0, len(tests1)+len(tests2))
	for key := range tests1 {
		keys = append(keys, key)
	}
	for key := range tests2 {
		if _, ok := tests1[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		t1, in1 := tests1[key]
		t2, in2 := tests2[key]

		comp := TestComparison{InFile1: in1, InFile2: in2}
		if in1 {
			comp.TestName, comp.Endpoint = t1.Name, t1.Endpoint
			comp.Duration1 = t1.Duration
			comp.Passed1 = t1.Passed
		}
		if in2 {
			comp.TestName, comp.Endpoint = t2.Name, t2.Endpoint
			comp.Duration2 = t2.Duration
			comp.Passed2 = t2.Passed
			comp.Differences = t2.Differences
		}

		switch {
		case in1 && in2:
			if comp.Duration1 > 0 {
				comp.DurationChange = ((comp.Duration2 - comp.Duration1) / comp.Duration1) * 100
			}
			switch {
			case !comp.Passed1 && comp.Passed2:
				comp.StatusChange = "fixed"
				diff.Summary.Fixed++
			case comp.Passed1 && !comp.Passed2:
				comp.StatusChange = "regressed"
				diff.Summary.Regressed++
			case comp.DurationChange < -10:
				comp.StatusChange = "faster"
				diff.Summary.Faster++
			case comp.DurationChange > 10:
				comp.StatusChange = "slower"
				diff.Summary.Slower++
			default:
				comp.StatusChange = "unchanged"
				diff.Summary.Unchanged++
			}
			if threshold > 0 && comp.DurationChange > threshold {
				diff.Summary.ThresholdPassed = false
			}
		case in1:
			comp.StatusChange = "removed"
			diff.Summary.RemovedTests++
		default:
			comp.StatusChange = "new"
			diff.Summary.NewTests++
		}

		diff.Comparisons = append(diff.Comparisons, comp)
		diff.Summary.TotalTests++
	}

	return diff
}

// DurationCell renders the durations of a comparison for the console and
// HTML tables.
func (c TestComparison) DurationCell() string {
	switch {
	case c.InFile1 && c.InFile2:
		return fmt.Sprintf("%.0fms → %.0fms", c.Duration1, c.Duration2)
	case c.InFile1:
		return fmt.Sprintf("%.0fms", c.Duration1)
	default:
		return fmt.Sprintf("%.0fms", c.Duration2)
	}
}

func (c TestComparison) ChangeCell() string {
	if !c.InFile1 || !c.InFile2 || c.DurationChange == 0 {
		return ""
	}
	return fmt.Sprintf("%+.1f%%", c.DurationChange)
}

func outputDiffConsole(w io.Writer, diff *DiffResult) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	paint := map[string]func(...any) string{
		"fixed":     green,
		"faster":    green,
		"regressed": red,
		"slower":    yellow,
		"removed":   yellow,
		"new":       cyan,
	}

	s := diff.Summary
	fmt.Fprintf(w, "\n%s %s → %s\n", bold("Comparing"), diff.File1, diff.File2)
	fmt.Fprintf(w, "Pass rate %.2f%% → %.2f%%, duration %.0fms → %.0fms\n",
		s.PassRate1, s.PassRate2, s.TotalDuration1, s.TotalDuration2)

	counts := []struct {
		label string
		n     int
	}{
		{"fixed", s.Fixed}, {"regressed", s.Regressed}, {"faster", s.Faster}, {"slower", s.Slower},
		{"unchanged", s.Unchanged}, {"new", s.NewTests}, {"removed", s.RemovedTests},
	}
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		if c.n == 0 {
			continue
		}
		text := fmt.Sprintf("%d %s", c.n, c.label)
		if p, ok := paint[c.label]; ok {
			text = p(text)
		}
		parts = append(parts, text)
	}
	fmt.Fprintf(w, "%d comparison(s): %s\n\n", s.TotalTests, strings.Join(parts, ", "))

	if len(diff.Comparisons) > 0 {
		tbl := newTable(w, "Request", "Change", "Duration", "Delta")
		for _, comp := range diff.Comparisons {
			status := comp.StatusChange
			if p, ok := paint[status]; ok {
				status = p(status)
			}
			tbl.AddRow(comp.TestName, status, comp.DurationCell(), comp.ChangeCell())
		}
		tbl.Print()
		fmt.Fprintln(w)
	}

	for _, comp := range diff.Comparisons {
		if comp.StatusChange != "regressed" || len(comp.Differences) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s %s\n", red("✗"), comp.TestName)
		for _, d := range comp.Differences {
			fmt.Fprintf(w, "    %s\n", d)
		}
	}

	if s.ThresholdPercent > 0 {
		if s.ThresholdPassed {
			fmt.Fprintf(w, "%s No comparison slowed down by more than %.1f%%\n", green("✓"), s.ThresholdPercent)
		} else {
			fmt.Fprintf(w, "%s Some comparisons slowed down by more than %.1f%%\n", red("✗"), s.ThresholdPercent)
		}
	}
}

func outputDiffJSON(w io.Writer, diff *DiffResult) error {
	if diff.Comparisons == nil {
		diff.Comparisons = []TestComparison{}
	}
	return writeJSON(w, diff)
}

const diffHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>parity report diff</title>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; margin: 0; padding: 20px; color: #333; }
.summary { background-color: #f5f5f5; padding: 15px; border-radius: 5px; margin-bottom: 20px; }
table { border-collapse: collapse; width: 100%; }
td, th { border: 1px solid #ddd; padding: 4px 10px; text-align: left; vertical-align: top; }
ul { margin: 4px 0 0; font-family: monospace; color: #F44336; }
.fixed, .faster { color: #4CAF50; }
.regressed { color: #F44336; font-weight: bold; }
.slower, .removed { color: #FF9800; }
.new { color: #2196F3; }
</style>
</head>
<body>
<h1>Report diff</h1>
<div class="summary">
  <div>{{.File1}} → {{.File2}}</div>
  <div>Pass rate: {{printf "%.2f" .Summary.PassRate1}}% → {{printf "%.2f" .Summary.PassRate2}}%</div>
  <div>Comparisons: {{.Summary.TotalTests}} (fixed {{.Summary.Fixed}}, regressed {{.Summary.Regressed}}, slower {{.Summary.Slower}}, faster {{.Summary.Faster}}, new {{.Summary.NewTests}}, removed {{.Summary.RemovedTests}})</div>
  {{if gt .Summary.ThresholdPercent 0.0}}<div class="{{if .Summary.ThresholdPassed}}fixed{{else}}regressed{{end}}">Slowdown threshold {{printf "%.1f" .Summary.ThresholdPercent}}%: {{if .Summary.ThresholdPassed}}passed{{else}}exceeded{{end}}</div>{{end}}
</div>
<table>
<tr><th>Request</th><th>Change</th><th>Duration</th><th>Delta</th></tr>
{{range .Comparisons}}<tr>
<td>{{.TestName}}{{if and (eq .StatusChange "regressed") .Differences}}<ul>{{range .Differences}}<li>{{.}}</li>{{end}}</ul>{{end}}</td>
<td class="{{.StatusChange}}">{{.StatusChange}}</td>
<td>{{.DurationCell}}</td>
<td>{{.ChangeCell}}</td>
</tr>
{{end}}</table>
</body>
</html>
`
var diffTemplate = template.Must(template.New("diff").Parse(diffHTMLTemplate))

func outputDiffHTML(w io.Writer, diff *DiffResult) error {
	return diffTemplate.Execute(w, diff)
}
