// Package env reads .env files, expands ${VAR} references in
// configuration values and resolves {{name}} placeholders in endpoint
// paths and query parameters.
package env
