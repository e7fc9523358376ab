package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/parity/packages/core/config"
)

var configEnvFlag string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long: `Print the active environment and settings after reading the config
file, the .env file and the environment. API keys are masked.

Examples:
  parity config
  parity config --env staging
  PARITY_ENV=staging parity config`,
	Args: cobra.NoArgs,
	RunE: configCommand,
}

func init() {
	configCmd.Flags().StringVarP(&configEnvFlag, "env", "e", "", "Environment to show (env: PARITY_ENV)")
	configCmd.Flags().StringVar(&envFileFlag, "env-file", getEnvString("PARITY_ENV_FILE", ""), "Path to .env file (env: PARITY_ENV_FILE)")
}

func configCommand(cmd *cobra.Command, args []string) error {
	if err := loadDotEnv(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	environment, err := cfg.Environment(cfg.EnvironmentName(configEnvFlag))
	if err != nil {
		return configError(err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Environment: %s (available: %v)\n", environment.Name, cfg.EnvironmentNames())
	fmt.Fprintf(out, "  apiImpl1 base URL: %s\n", environment.APIImpl1.BaseURL)
	fmt.Fprintf(out, "  apiImpl1 key:      %s\n", config.MaskKey(environment.APIImpl1.APIKey))
	fmt.Fprintf(out, "  apiImpl2 base URL: %s\n", environment.APIImpl2.BaseURL)
	fmt.Fprintf(out, "  apiImpl2 key:      %s\n", config.MaskKey(environment.APIImpl2.APIKey))
	fmt.Fprintln(out)

	tbl := newTable(out, "Setting", "Value")
	tbl.AddRow("connectTimeout", cfg.ConnectTimeoutDuration())
	tbl.AddRow("readTimeout", cfg.ReadTimeoutDuration())
	tbl.AddRow("retries", cfg.Retries)
	tbl.AddRow("backoff", fmt.Sprintf("%v → %v (x%g)", cfg.InitialBackoffDuration(), cfg.MaxBackoffDuration(), cfg.BackoffFactor))
	tbl.AddRow("requestDelay", cfg.RequestDelayDuration())
	tbl.AddRow("concurrency", cfg.Concurrency)
	tbl.AddRow("validateSSL", cfg.GetValidateSSL())
	tbl.AddRow("defaultLimit", cfg.DefaultLimit)
	tbl.AddRow("testAllPages", cfg.GetTestAllPages())
	tbl.AddRow("sampleSize", cfg.SampleSize)
	tbl.AddRow("outputDir", cfg.OutputDir)
	tbl.AddRow("database", cfg.DatabasePath())
	tbl.AddRow("saveResponses", cfg.GetSaveResponses())
	tbl.AddRow("bail", cfg.GetBail())
	names := make([]string, 0, len(cfg.Headers))
	for k := range cfg.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		tbl.AddRow("header "+k, cfg.Headers[k])
	}
	tbl.Print()
	return nil
}
