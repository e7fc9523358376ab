package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/parity/packages/db"
)

var (
	historyLimitFlag int
	historyEnvFlag   string
	historyJSONFlag  bool

	failuresSinceFlag    time.Duration
	failuresEndpointFlag string
	failuresSummaryFlag  bool
	failuresAllFlag      bool
	failuresJSONFlag     bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Long: `List the runs recorded in the history database, most recent first.

Examples:
  parity history
  parity history --limit 5 --env staging`,
	Args: cobra.NoArgs,
	RunE: historyCommand,
}

var failuresCmd = &cobra.Command{
	Use:   "failures [run-id]",
	Short: "Show failed endpoints of a run",
	Long: `Show the failed comparisons of a run grouped by endpoint. Without a
run id the latest run is used; --all looks at every recorded run.

Examples:
  parity failures
  parity failures 3f2a
  parity failures --all --since 24h --summary
  parity failures --endpoint collections/bukhari`,
	Args: cobra.MaximumNArgs(1),
	RunE: failuresCommand,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimitFlag, "limit", "l", 20, "Number of runs to show (0 for all)")
	historyCmd.Flags().StringVarP(&historyEnvFlag, "env", "e", "", "Only show runs of this environment")
	historyCmd.Flags().BoolVar(&historyJSONFlag, "json", false, "Print runs as JSON")

	failuresCmd.Flags().DurationVar(&failuresSinceFlag, "since", 0, "Only failures recorded within this duration (e.g. 24h)")
	failuresCmd.Flags().StringVar(&failuresEndpointFlag, "endpoint", "", "Only this endpoint name or path prefix")
	failuresCmd.Flags().BoolVar(&failuresSummaryFlag, "summary", false, "Only show counts per endpoint")
	failuresCmd.Flags().BoolVar(&failuresAllFlag, "all", false, "Look at every recorded run")
	failuresCmd.Flags().BoolVar(&failuresJSONFlag, "json", false, "Print failures as JSON")
}

func openHistory() (*db.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := db.Open(cfg.DatabasePath())
	if err != nil {
		return nil, configError(err)
	}
	return store, nil
}

func newTable(w io.Writer, columns ...any) table.Table {
	headerFmt := color.New(color.FgGreen, color.Underline).SprintfFunc()
	columnFmt := color.New(color.FgYellow).SprintfFunc()
	tbl := table.New(columns...)
	tbl.WithHeaderFormatter(headerFmt).WithFirstColumnFormatter(columnFmt).WithWriter(w)
	return tbl
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func historyCommand(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Runs(cmd.Context(), 0)
	if err != nil {
		return err
	}
	var shown []*db.Run
	for _, r := range runs {
		if historyEnvFlag != "" && r.Environment != historyEnvFlag {
			continue
		}
		shown = append(shown, r)
		if historyLimitFlag > 0 && len(shown) == historyLimitFlag {
			break
		}
	}

	out := cmd.OutOrStdout()
	if historyJSONFlag {
		if shown == nil {
			shown = []*db.Run{}
		}
		return writeJSON(out, shown)
	}
	if len(shown) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return nil
	}

	tbl := newTable(out, "Run", "Started", "Environment", "Suite", "Total", "Passed", "Failed", "Errors", "Pass Rate")
	for _, r := range shown {
		rate := "running"
		if r.Finished() {
			rate = fmt.Sprintf("%.2f%%", r.PassRate())
		}
		tbl.AddRow(shortID(r.ID), r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Environment, r.Suite,
			r.Total, r.Passed, r.Failed, r.Errors, rate)
	}
	tbl.Print()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func failuresCommand(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	filter := db.FailureFilter{Endpoint: failuresEndpointFlag}
	if failuresSinceFlag > 0 {
		filter.Since = time.Now().Add(-failuresSinceFlag)
	}

	out := cmd.OutOrStdout()
	switch {
	case len(args) == 1:
		run, err := store.Run(ctx, args[0])
		if err != nil {
			return usageError(err)
		}
		filter.RunID = run.ID
	case !failuresAllFlag:
		run, err := store.LatestRun(ctx, "")
		if errors.Is(err, db.ErrRunNotFound) {
			fmt.Fprintln(out, "No runs recorded yet.")
			return nil
		}
		if err != nil {
			return err
		}
		filter.RunID = run.ID
	}

	failed, err := store.FailedEndpoints(ctx, filter)
	if err != nil {
		return err
	}

	if failuresJSONFlag {
		if failed == nil {
			failed = []*db.FailedEndpoint{}
		}
		return writeJSON(out, failed)
	}

	scope := "all runs"
	if filter.RunID != "" {
		scope = "run " + shortID(filter.RunID)
	}
	if len(failed) == 0 {
		fmt.Fprintf(out, "No failed comparisons in %s.\n", scope)
		return nil
	}

	total := 0
	for _, f := range failed {
		total += f.Count
	}
	fmt.Fprintf(out, "%d failed comparison(s) across %d endpoint(s) in %s\n\n", total, len(failed), scope)

	tbl := newTable(out, "Endpoint", "Failures", "Last Seen")
	for _, f := range failed {
		tbl.AddRow(f.Endpoint, f.Count, f.LastSeen.Local().Format("2006-01-02 15:04:05"))
	}
	tbl.Print()
	if failuresSummaryFlag {
		return nil
	}

	for _, f := range failed {
		fmt.Fprintf(out, "\n%s\n", color.New(color.Bold).Sprint(f.Endpoint))
		for i, r := range f.Failures {
			fmt.Fprintf(out, "  ✗ %s (%d vs %d)\n", f.Paths[i], r.Status1, r.Status2)
			for _, d := range r.Differences {
				fmt.Fprintf(out, "    → %s\n", strings.TrimSpace(d))
			}
		}
	}
	return nil
}
