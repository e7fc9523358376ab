// Package config handles configuration loading for parity.
//
// It provides functionality for:
//   - Loading parity.yaml / parity.json from the working directory
//   - Default values, including the built-in dev environment
//   - Selecting an environment and expanding ${VAR} references in it
package config
