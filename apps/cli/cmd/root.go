package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/parity/packages/core/config"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configFlag    string
	logLevelFlag  string
	logFileFlag   string
	logToFileFlag bool
)

// logger receives operational events. Reports are written separately.
var logger = log.New()

// logFile is the --log-file / --log-to-file destination, if any.
var logFile *os.File

var rootCmd = &cobra.Command{
	Use:   "parity",
	Short: "Compare two implementations of the same HTTP API.",
	Long: `parity sends the same GET requests to a reference API (apiImpl1) and
a candidate API (apiImpl2) and reports every response that differs in
status code or JSON body.

Endpoints are described in a YAML suite; without one the built-in
sunnah.com suite is used.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE:  setupLogging,
	PersistentPostRunE: closeLogFile,
}

// Execute runs the CLI and exits with the code of the command's error.
func Execute(v, bt string) {
	version = v
	buildTime = bt
	err := rootCmd.Execute()
	// PersistentPostRunE is skipped when the command fails.
	_ = closeLogFile(nil, nil)
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", ee.err)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(ExitUsageError)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", getEnvString("PARITY_CONFIG", ""), "Path to config file (env: PARITY_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", getEnvString("PARITY_LOG_LEVEL", "warn"), "Log level: debug, info, warn, error (env: PARITY_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", getEnvString("PARITY_LOG_FILE", ""), "Write logs to this file (env: PARITY_LOG_FILE)")
	rootCmd.PersistentFlags().BoolVar(&logToFileFlag, "log-to-file", getEnvBool("PARITY_LOG_TO_FILE", false), "Write logs to <outputDir>/parity.log (env: PARITY_LOG_TO_FILE)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(failuresCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func setupLogging(cmd *cobra.Command, args []string) error {
	if err := closeLogFile(cmd, args); err != nil {
		return err
	}
	level, err := log.ParseLevel(logLevelFlag)
	if err != nil {
		return usageError(fmt.Errorf("invalid --log-level: %w", err))
	}
	logger.SetLevel(level)
	logger.SetFormatter(&log.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stderr)

	path := logFileFlag
	if path == "" && logToFileFlag {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = filepath.Join(cfg.OutputDir, "parity.log")
	}
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return configError(fmt.Errorf("creating log directory: %w", err))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return configError(fmt.Errorf("opening log file: %w", err))
	}
	logFile = f
	logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}

func closeLogFile(cmd *cobra.Command, args []string) error {
	if logFile == nil {
		return nil
	}
	logger.SetOutput(os.Stderr)
	err := logFile.Close()
	logFile = nil
	if err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}
	return nil
}

// loadConfig reads --config, or the config file found in the working
// directory, or the defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFlag)
	if err != nil {
		return nil, configError(err)
	}
	return cfg, nil
}
