package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/parity/packages/suite"
)

var validateCmd = &cobra.Command{
	Use:   "validate [suite.yaml...]",
	Short: "Validate suite files without sending requests",
	Long: `Validate suite files: required fields, unique names and template
variables that no parent binds. Without arguments the built-in suite and
the configuration are checked.

Examples:
  parity validate
  parity validate suite.yaml other.yaml`,
	RunE: validateCommand,
}

func validateCommand(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error in config: %v\n", err)
		return withCode(ExitConfigError, nil)
	}

	hasErrors := false
	check := func(label string, s *suite.Suite) {
		problems := s.Validate()
		if len(problems) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Valid: %s (%d endpoints)\n", label, s.Count())
			return
		}
		hasErrors = true
		fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s:\n", label)
		for _, p := range problems {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", p)
		}
	}

	if len(args) == 0 {
		check("built-in suite", suite.Default())
	}
	for _, file := range args {
		if !suite.IsSuiteFile(file) {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: not a .yaml or .yml file\n", file)
			hasErrors = true
			continue
		}
		s, err := suite.Load(file)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: %v\n", file, err)
			hasErrors = true
			continue
		}
		check(file, s)
	}

	if hasErrors {
		return parseError(fmt.Errorf("validation failed"))
	}
	return nil
}
