// Package cmd implements the parity CLI commands using Cobra.
//
// Available commands:
//   - run: Compare two API implementations endpoint by endpoint
//   - compare: Compare two saved responses
//   - diff: Compare two JSON reports of earlier runs
//   - history: List runs recorded in the history database
//   - failures: Show failed endpoints of a recorded run
//   - validate: Check suite files without sending requests
//   - import: Build a suite from an OpenAPI document
//   - init: Create parity.yaml and an editable suite
//   - config: Print the resolved configuration
//   - version: Show parity version information
//
// Exit codes follow exitcodes.go: 0 when the implementations agree, 1 when
// any comparison failed and 2 to 4 or 64 for configuration, suite, network
// and usage problems.
package cmd
