// Package output provides formatters for displaying run results.
//
// Supported output formats:
//   - Console: Human-readable colored terminal output with latency percentiles
//   - JSON: Machine-readable report, read back by the diff command
//   - JUnit: JUnit XML format for CI integration
//   - TAP: Test Anything Protocol format
//   - HTML: Report grouped by endpoint
//
// Accumulating formatters (JSON, JUnit, TAP, HTML) write their output in
// Flush.
package output
