// Package logging builds the shell's structured zap logger: JSON on
// stderr in production, colored console output in development. Stdout is
// never used; it belongs to command output.
package logging
