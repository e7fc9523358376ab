package cmd

import "strconv"

// Exit codes for parity CLI
const (
	// ExitSuccess indicates every comparison passed
	ExitSuccess = 0

	// ExitTestFailure indicates one or more responses differed
	ExitTestFailure = 1

	// ExitParseError indicates a suite or response file could not be parsed
	ExitParseError = 2

	// ExitConfigError indicates a configuration error
	ExitConfigError = 3

	// ExitNetworkError indicates a network/connection error
	ExitNetworkError = 4

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64
)

// exitError carries the process exit code of a failed command. err may be
// nil when the command already reported the failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return "exit status " + strconv.Itoa(e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func usageError(err error) error   { return withCode(ExitUsageError, err) }
func configError(err error) error  { return withCode(ExitConfigError, err) }
func parseError(err error) error   { return withCode(ExitParseError, err) }
func networkError(err error) error { return withCode(ExitNetworkError, err) }
