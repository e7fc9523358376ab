// Package runner walks a parity suite and compares every endpoint between
// the two implementations of an environment.
//
// It provides functionality for:
//   - Expanding child endpoints from the items of reference responses
//   - Walking every page of paginated endpoints
//   - Name and tag filters, bail on first failure
//   - Bounded concurrency across sibling requests
//   - Streaming results to a listener and the history database
//   - Saving raw responses for later offline comparison
//
// Cases are reported in suite order regardless of the order in which
// concurrent requests complete.
package runner
