package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/parity/packages/core/config"
	"github.com/abdul-hamid-achik/parity/packages/suite"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new parity project",
	Long: `Initialize a new parity project in the current directory.

This creates:
  - parity.yaml   - Configuration file with environments
  - suite.yaml    - The built-in sunnah.com suite, to edit
  - .env.example  - The API key variables the configuration reads

Examples:
  parity init
  parity init --force`,
	Args: cobra.NoArgs,
	RunE: initCommand,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite existing files")
}

const envExample = `# API keys for the two implementations, read by parity.yaml
API1_KEY=
API2_KEY=
`

func initCommand(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	configFile := filepath.Join(cwd, "parity.yaml")
	suiteFile := filepath.Join(cwd, "suite.yaml")
	envFile := filepath.Join(cwd, ".env.example")

	if !forceInit {
		for _, f := range []string{configFile, suiteFile, envFile} {
			if _, err := os.Stat(f); err == nil {
				return usageError(fmt.Errorf("file already exists: %s (use --force to overwrite)", f))
			}
		}
	}

	cfg := config.DefaultConfig()
	cfg.ValidateSSL = config.BoolPtr(true)
	cfg.TestAllPages = config.BoolPtr(true)
	cfg.Environments["staging"] = config.Environment{
		APIImpl1: config.Target{BaseURL: "https://api.sunnah.com/v1", APIKey: "${API1_KEY}"},
		APIImpl2: config.Target{BaseURL: "https://staging.example.com/v1", APIKey: "${API2_KEY}"},
	}
	if err := cfg.SaveConfig(configFile); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", configFile)

	if err := os.WriteFile(suiteFile, []byte(suite.DefaultYAML), 0644); err != nil {
		return fmt.Errorf("failed to create suite file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", suiteFile)

	if err := os.WriteFile(envFile, []byte(envExample), 0644); err != nil {
		return fmt.Errorf("failed to create env file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", envFile)

	fmt.Fprintf(cmd.OutOrStdout(), "\nparity project initialized!\n")
	fmt.Fprintf(cmd.OutOrStdout(), "Copy .env.example to .env, set the keys, then run 'parity run suite.yaml'.\n")

	return nil
}
