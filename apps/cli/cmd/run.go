package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/parity/packages/core/config"
	"github.com/abdul-hamid-achik/parity/packages/core/env"
	"github.com/abdul-hamid-achik/parity/packages/core/runner"
	"github.com/abdul-hamid-achik/parity/packages/db"
	"github.com/abdul-hamid-achik/parity/packages/export/metrics"
	"github.com/abdul-hamid-achik/parity/packages/http"
	"github.com/abdul-hamid-achik/parity/packages/notify"
	"github.com/abdul-hamid-achik/parity/packages/output"
	"github.com/abdul-hamid-achik/parity/packages/suite"
)

var runCmd = &cobra.Command{
	Use:   "run [suite.yaml]",
	Short: "Compare both API implementations",
	Long: `Send every request of a suite to apiImpl1 and apiImpl2 and compare
the responses. Without a suite file the built-in sunnah.com suite is used.

Examples:
  parity run
  parity run --env staging
  parity run suite.yaml --tags collections
  parity run --name "hadith*" --verbose
  parity run --output junit --output-file results.xml
  parity run --watch`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCommand,
}

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond
)

var (
	envFlag           string
	envFileFlag       string
	nameFlag          string
	tagsFlag          string
	varsFlag          map[string]string
	verboseFlag       bool
	noColorFlag       bool
	outputFlag        string
	outputFileFlag    string
	bailFlag          bool
	concurrencyFlag   int
	sampleSizeFlag    int
	limitFlag         int
	firstPageFlag     bool
	saveResponsesFlag bool
	insecureFlag      bool
	noReportFlag      bool
	noDBFlag          bool
	watchFlag         bool

	waitForFlag      string
	waitTimeoutFlag  time.Duration
	waitStatusFlag   int
	metricsFlag      string
	metricsFileFlag  string
	slackWebhookFlag string
	slackChannelFlag string
	teamsWebhookFlag string
	notifyOnFlag     string
)

func init() {
	// Core flags
	runCmd.Flags().StringVarP(&envFlag, "env", "e", "", "Environment to use (env: PARITY_ENV)")
	runCmd.Flags().StringVar(&envFileFlag, "env-file", getEnvString("PARITY_ENV_FILE", ""), "Path to .env file loaded before expanding ${VAR} references (env: PARITY_ENV_FILE)")
	runCmd.Flags().StringVarP(&nameFlag, "name", "n", "", "Run only endpoints matching name pattern")
	runCmd.Flags().StringVarP(&tagsFlag, "tags", "t", getEnvString("PARITY_TAGS", ""), "Run only endpoints with specified tags (comma-separated) (env: PARITY_TAGS)")
	runCmd.Flags().StringToStringVar(&varsFlag, "var", nil, "Suite variable (key=value), may be repeated")

	// Output flags
	runCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show status codes and body diffs")
	runCmd.Flags().BoolVar(&noColorFlag, "no-color", getEnvBool("PARITY_NO_COLOR", false), "Disable colored output (env: PARITY_NO_COLOR)")
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("PARITY_OUTPUT", "console"), "Output format: console, json, junit, tap, html (env: PARITY_OUTPUT)")
	runCmd.Flags().StringVar(&outputFileFlag, "output-file", getEnvString("PARITY_OUTPUT_FILE", ""), "Write output to file (default: stdout) (env: PARITY_OUTPUT_FILE)")
	runCmd.Flags().BoolVar(&noReportFlag, "no-report", false, "Do not write report.html and report.json to the output directory")
	runCmd.Flags().BoolVar(&saveResponsesFlag, "save-responses", false, "Save both responses of every request under <outputDir>/responses")
	runCmd.Flags().BoolVar(&noDBFlag, "no-db", false, "Do not record the run in the history database")

	// Execution flags
	runCmd.Flags().BoolVar(&bailFlag, "bail", getEnvBool("PARITY_BAIL", false), "Stop on first failure (env: PARITY_BAIL)")
	runCmd.Flags().IntVar(&concurrencyFlag, "concurrency", getEnvInt("PARITY_CONCURRENCY", 0), "Number of comparisons in flight (env: PARITY_CONCURRENCY)")
	runCmd.Flags().IntVar(&sampleSizeFlag, "sample-size", 0, "Items expanded per child endpoint (-1 for all)")
	runCmd.Flags().IntVar(&limitFlag, "limit", 0, "Page size for paginated endpoints")
	runCmd.Flags().BoolVar(&firstPageFlag, "first-page-only", false, "Compare only the first page of paginated endpoints")
	runCmd.Flags().BoolVarP(&insecureFlag, "insecure", "k", getEnvBool("PARITY_INSECURE", false), "Disable SSL certificate validation (env: PARITY_INSECURE)")
	runCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Watch the suite and config for changes and re-run")

	// Readiness flags
	runCmd.Flags().StringVar(&waitForFlag, "wait-for", "", "Wait until this URL responds before comparing")
	runCmd.Flags().DurationVar(&waitTimeoutFlag, "wait-timeout", 30*time.Second, "How long to wait for --wait-for")
	runCmd.Flags().IntVar(&waitStatusFlag, "wait-status", 0, "Status code expected from --wait-for (default: any below 500)")

	// Metrics flags
	runCmd.Flags().StringVar(&metricsFlag, "metrics", getEnvString("PARITY_METRICS", ""), "Metrics export format: prometheus, json (env: PARITY_METRICS)")
	runCmd.Flags().StringVar(&metricsFileFlag, "metrics-file", getEnvString("PARITY_METRICS_FILE", ""), "Output file for metrics (default: stdout) (env: PARITY_METRICS_FILE)")

	// Notification flags
	runCmd.Flags().StringVar(&slackWebhookFlag, "notify-slack", getEnvString("SLACK_WEBHOOK", ""), "Slack webhook URL (env: SLACK_WEBHOOK)")
	runCmd.Flags().StringVar(&slackChannelFlag, "slack-channel", getEnvString("SLACK_CHANNEL", ""), "Slack channel override (env: SLACK_CHANNEL)")
	runCmd.Flags().StringVar(&teamsWebhookFlag, "notify-teams", getEnvString("TEAMS_WEBHOOK", ""), "Microsoft Teams webhook URL (env: TEAMS_WEBHOOK)")
	runCmd.Flags().StringVar(&notifyOnFlag, "notify-on", getEnvString("PARITY_NOTIFY_ON", "failure"), "When to notify: always, failure, success, recovery (env: PARITY_NOTIFY_ON)")
}

// Environment variable helpers
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// Formatter interface for all output formatters
type Formatter interface {
	FormatResult(result *runner.RunResult)
	FormatError(err error)
	FormatHeader(version string)
}

// Flushable interface for formatters that need to flush output
type Flushable interface {
	Flush(totalDuration time.Duration) error
}

func newFormatter(format string, w io.Writer) Formatter {
	switch strings.ToLower(format) {
	case "json":
		return output.NewJSONFormatter(output.JSONWithWriter(w))
	case "junit":
		return output.NewJUnitFormatter(output.JUnitWithWriter(w))
	case "tap":
		return output.NewTAPFormatter(output.TAPWithWriter(w))
	case "html":
		return output.NewHTMLFormatter(output.HTMLWithWriter(w), output.HTMLWithDiffs(verboseFlag))
	default: // "console"
		return output.NewConsoleFormatter(
			output.WithWriter(w),
			output.WithVerbose(verboseFlag),
			output.WithNoColor(noColorFlag),
		)
	}
}

func validFormat(format string) bool {
	switch strings.ToLower(format) {
	case "console", "json", "junit", "tap", "html":
		return true
	}
	return false
}

// session holds what stays the same across the runs of one invocation.
type session struct {
	cmd      *cobra.Command
	cfg      *config.Config
	env      *config.Environment
	suiteArg string
	store    *db.Client
	notifier *notify.Manager
}

func runCommand(cmd *cobra.Command, args []string) error {
	if !validFormat(outputFlag) {
		return usageError(fmt.Errorf("unknown output format %q (want console, json, junit, tap or html)", outputFlag))
	}
	notifyOn, err := notify.ParseNotifyOn(notifyOnFlag)
	if err != nil {
		return usageError(err)
	}

	if err := loadDotEnv(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)

	environment, err := cfg.Environment(cfg.EnvironmentName(envFlag))
	if err != nil {
		return configError(err)
	}
	logger.WithField("environment", environment.Name).Infof("apiImpl1: %s", environment.APIImpl1)
	logger.WithField("environment", environment.Name).Infof("apiImpl2: %s", environment.APIImpl2)

	ss := &session{cmd: cmd, cfg: cfg, env: environment}
	if len(args) == 1 {
		ss.suiteArg = args[0]
	}

	if !noDBFlag {
		store, err := db.Open(cfg.DatabasePath())
		if err != nil {
			logger.WithError(err).Warn("history database unavailable, run will not be recorded")
		} else {
			ss.store = store
			defer store.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ss.notifier = ss.newNotifier(ctx, notifyOn)

	if waitForFlag != "" {
		wc := runner.WaitConfig{URL: waitForFlag, Status: waitStatusFlag, Timeout: waitTimeoutFlag}
		if err := runner.WaitForService(ctx, wc, logger); err != nil {
			return networkError(err)
		}
	}

	result, err := ss.run(ctx)
	if !watchFlag {
		if err != nil {
			return err
		}
		return exitCode(result)
	}
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return ss.watch(ctx)
}

// loadDotEnv exports the variables of --env-file, or of ./.env when it
// exists, that are not already set.
func loadDotEnv() error {
	if envFileFlag != "" {
		if _, err := env.ExportDotEnv(envFileFlag); err != nil {
			return configError(err)
		}
		return nil
	}
	if _, err := env.ExportDotEnvIfExists(".env"); err != nil {
		return configError(err)
	}
	return nil
}

// applyRunFlags lets explicitly set flags override the config file.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if concurrencyFlag > 0 {
		cfg.Concurrency = concurrencyFlag
	}
	if flags.Changed("sample-size") {
		cfg.SampleSize = sampleSizeFlag
	}
	if flags.Changed("limit") {
		cfg.DefaultLimit = limitFlag
	}
	if firstPageFlag {
		cfg.TestAllPages = config.BoolPtr(false)
	}
	if bailFlag {
		cfg.Bail = config.BoolPtr(true)
	}
	if saveResponsesFlag {
		cfg.SaveResponses = config.BoolPtr(true)
	}
	if insecureFlag {
		cfg.ValidateSSL = config.BoolPtr(false)
	}
	if noColorFlag || cfg.GetNoColor() {
		noColorFlag = true
	}
}

func (ss *session) newNotifier(ctx context.Context, on notify.NotifyOn) *notify.Manager {
	var notifiers []notify.Notifier
	if slackWebhookFlag != "" {
		var opts []notify.SlackOption
		if slackChannelFlag != "" {
			opts = append(opts, notify.WithSlackChannel(slackChannelFlag))
		}
		notifiers = append(notifiers, notify.NewSlackNotifier(slackWebhookFlag, opts...))
	}
	if teamsWebhookFlag != "" {
		notifiers = append(notifiers, notify.NewTeamsNotifier(teamsWebhookFlag))
	}
	if len(notifiers) == 0 {
		return nil
	}

	var opts []notify.ManagerOption
	if ss.store != nil {
		last, err := ss.store.LatestRun(ctx, ss.env.Name)
		switch {
		case err == nil && last.Finished():
			opts = append(opts, notify.WithPreviousSuccess(last.Failed == 0))
		case err != nil && !errors.Is(err, db.ErrRunNotFound):
			logger.WithError(err).Warn("could not read previous run")
		}
	}
	return notify.NewManager(on, notifiers, opts...)
}

func (ss *session) loadSuite() (*suite.Suite, error) {
	var s *suite.Suite
	if ss.suiteArg == "" {
		s = suite.Default()
	} else {
		var err error
		if s, err = suite.Load(ss.suiteArg); err != nil {
			return nil, parseError(err)
		}
	}

	known := make([]string, 0, len(varsFlag))
	for k := range varsFlag {
		known = append(known, k)
	}
	if problems := s.Validate(known...); len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(ss.cmd.ErrOrStderr(), "  %s\n", p)
		}
		return nil, parseError(fmt.Errorf("suite %s is invalid: %d problem(s)", s.Name, len(problems)))
	}
	return s, nil
}

func newHTTPClient(cfg *config.Config) *http.Client {
	return http.NewClient(
		http.WithConnectTimeout(cfg.ConnectTimeoutDuration()),
		http.WithReadTimeout(cfg.ReadTimeoutDuration()),
		http.WithRetries(cfg.Retries),
		http.WithBackoff(cfg.InitialBackoffDuration(), cfg.MaxBackoffDuration(), cfg.BackoffFactor),
		http.WithRequestDelay(cfg.RequestDelayDuration()),
		http.WithDefaultHeaders(cfg.Headers),
		http.WithValidateSSL(cfg.GetValidateSSL()),
		http.WithLogger(logger),
	)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// run performs one comparison of the suite and writes every report.
func (ss *session) run(ctx context.Context) (*runner.RunResult, error) {
	s, err := ss.loadSuite()
	if err != nil {
		return nil, err
	}

	w := ss.cmd.OutOrStdout()
	if outputFileFlag != "" {
		f, err := os.Create(outputFileFlag)
		if err != nil {
			return nil, configError(fmt.Errorf("cannot create output file: %w", err))
		}
		defer f.Close()
		w = f
	}
	formatter := newFormatter(outputFlag, w)
	formatter.FormatHeader(version)

	cfg := ss.cfg
	opts := []runner.Option{
		runner.WithLogger(logger),
		runner.WithMetrics(metrics.NewRecorder()),
	}
	if ss.store != nil {
		opts = append(opts, runner.WithStore(ss.store))
	}
	r := runner.NewRunner(
		http.NewComparisonClient(newHTTPClient(cfg), ss.env),
		&runner.Config{
			NameFilter:    nameFlag,
			TagsFilter:    splitList(tagsFlag),
			Bail:          cfg.GetBail(),
			Concurrency:   cfg.Concurrency,
			TestAllPages:  cfg.GetTestAllPages(),
			DefaultLimit:  cfg.DefaultLimit,
			SampleSize:    cfg.SampleSize,
			SaveResponses: cfg.GetSaveResponses(),
			OutputDir:     cfg.OutputDir,
			Variables:     varsFlag,
		},
		opts...,
	)

	result, runErr := r.Run(ctx, s)
	if result == nil {
		formatter.FormatError(runErr)
		return nil, configError(runErr)
	}

	formatter.FormatResult(result)
	if flushable, ok := formatter.(Flushable); ok {
		if err := flushable.Flush(result.Duration); err != nil {
			return result, fmt.Errorf("error writing output: %w", err)
		}
	}

	if !noReportFlag {
		if err := writeReports(cfg.OutputDir, result); err != nil {
			logger.WithError(err).Warn("failed to write reports")
		}
	}
	if metricsFlag != "" {
		if err := exportMetrics(result); err != nil {
			logger.WithError(err).Warn("failed to export metrics")
		}
	}
	if ss.notifier != nil {
		if _, err := ss.notifier.Notify(ctx, notify.NewRunSummary(result)); err != nil {
			fmt.Fprintf(ss.cmd.ErrOrStderr(), "warning: failed to send notification: %v\n", err)
		}
	}
	ss.logFailedEndpoints(ctx, result)

	if runErr != nil {
		return result, withCode(ExitTestFailure, fmt.Errorf("run interrupted: %w", runErr))
	}
	return result, nil
}

// writeReports writes report.json and report.html to dir.
func writeReports(dir string, result *runner.RunResult) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	reports := []struct {
		name string
		make func(io.Writer) Formatter
	}{
		{"report.json", func(w io.Writer) Formatter { return output.NewJSONFormatter(output.JSONWithWriter(w)) }},
		{"report.html", func(w io.Writer) Formatter {
			return output.NewHTMLFormatter(output.HTMLWithWriter(w), output.HTMLWithDiffs(true))
		}},
	}
	for _, rep := range reports {
		path := filepath.Join(dir, rep.name)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		formatter := rep.make(f)
		formatter.FormatHeader(version)
		formatter.FormatResult(result)
		err = formatter.(Flushable).Flush(result.Duration)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		logger.Infof("report written to %s", path)
	}
	return nil
}

func exportMetrics(result *runner.RunResult) error {
	formats := splitList(metricsFlag)
	for _, format := range formats {
		path := metricsFileFlag
		if path != "" && len(formats) > 1 {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + "." + format
		}

		var exporter metrics.Exporter
		switch strings.ToLower(format) {
		case "prometheus":
			opts := []metrics.PrometheusOption{metrics.WithPrometheusLabels(map[string]string{
				"suite":       result.Suite,
				"environment": result.Environment,
			})}
			if path != "" {
				opts = append(opts, metrics.WithPrometheusFile(path))
			} else {
				opts = append(opts, metrics.WithPrometheusWriter(os.Stdout))
			}
			exporter = metrics.NewPrometheusExporter(opts...)
		case "json":
			opts := []metrics.JSONOption{metrics.WithJSONRunID(result.ID), metrics.WithJSONPretty(true)}
			if path != "" {
				opts = append(opts, metrics.WithJSONFile(path))
			} else {
				opts = append(opts, metrics.WithJSONWriter(os.Stdout))
			}
			exporter = metrics.NewJSONExporter(opts...)
		default:
			return fmt.Errorf("unknown metrics format %q", format)
		}
		if err := exporter.Export(result.Metrics); err != nil {
			return err
		}
	}
	return nil
}

func (ss *session) logFailedEndpoints(ctx context.Context, result *runner.RunResult) {
	if ss.store == nil || result.Failed == 0 {
		return
	}
	failed, err := ss.store.FailedEndpoints(ctx, db.FailureFilter{RunID: result.ID})
	if err != nil {
		logger.WithError(err).Warn("could not read failed endpoints")
		return
	}
	logger.Infof("%d endpoint(s) failed, see 'parity failures %s'", len(failed), result.ID)
	for _, f := range failed {
		logger.Infof("  - %s: %d failures", f.Endpoint, f.Count)
	}
}

// exitCode maps a finished run to the process exit code.
func exitCode(result *runner.RunResult) error {
	switch {
	case result.Failed == 0:
		return nil
	case result.Errors == result.Total():
		return withCode(ExitNetworkError, nil)
	default:
		return withCode(ExitTestFailure, nil)
	}
}

// watch re-runs the suite whenever the suite file, the config or the
// .env file changes, until ctx ends.
func (ss *session) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	watched := map[string]bool{}
	for _, f := range ss.watchedFiles() {
		watched[filepath.Clean(f)] = true
		dir := filepath.Dir(f)
		if err := watcher.Add(dir); err != nil {
			logger.WithError(err).Warnf("failed to watch %s", dir)
		}
	}

	out := ss.cmd.OutOrStdout()
	fmt.Fprintf(out, "\nWatching for changes... (press Ctrl+C to stop)\n\n")

	rerun := make(chan string, 1)
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			// Debounce: reset timer on each event
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			name := event.Name
			debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
				select {
				case rerun <- name:
				default:
				}
			})

		case name := <-rerun:
			fmt.Fprintf(out, "\n\nFile changed: %s\nRe-running comparisons...\n\n", name)
			if err := ss.reload(); err != nil {
				fmt.Fprintf(ss.cmd.ErrOrStderr(), "Error: %v\n", err)
			} else if _, err := ss.run(ctx); err != nil {
				fmt.Fprintf(ss.cmd.ErrOrStderr(), "Error: %v\n", err)
			}
			fmt.Fprintf(out, "\nWatching for changes... (press Ctrl+C to stop)\n")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("watcher error")
		}
	}
}

func (ss *session) watchedFiles() []string {
	var files []string
	if ss.suiteArg != "" {
		files = append(files, ss.suiteArg)
	}
	if configFlag != "" {
		files = append(files, configFlag)
	} else {
		files = append(files, config.ConfigFilenames...)
	}
	if envFileFlag != "" {
		files = append(files, envFileFlag)
	} else {
		files = append(files, ".env")
	}
	return files
}

// reload re-reads the config and environment after a change.
func (ss *session) reload() error {
	if err := loadDotEnv(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(ss.cmd, cfg)
	environment, err := cfg.Environment(ss.env.Name)
	if err != nil {
		return configError(err)
	}
	ss.cfg, ss.env = cfg, environment
	return nil
}
