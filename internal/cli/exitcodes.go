// Package cli provides shared utilities for pkgres command-line tools.
package cli

// Standard exit codes.
//
// These follow Unix conventions:
//   - 0: Success
//   - 1: General error (unreadable manifest, invalid config, etc.)
//   - 2: Check failures (a resolution did not match what was expected)
const (
	// ExitOK indicates successful execution with no issues.
	ExitOK = 0

	// ExitError indicates a fatal error occurred (read error, parse error, etc.).
	ExitError = 1

	// ExitWarning indicates the tool completed but a check failed, such as
	// "pkgres main -expect" seeing a different main than expected.
	ExitWarning = 2
)
