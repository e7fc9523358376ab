// Package http issues the GET requests parity compares.
//
// It wraps the standard library's http package with:
//   - Separate connect and read timeouts
//   - Retries with exponential backoff on 429 and transport errors
//   - Per-target request pacing
//   - API key and default header injection
//   - JSON body decoding that preserves number precision
package http
