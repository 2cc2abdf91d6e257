// Package logger configures structured logging for nestkv.
//
// It wraps log/slog behind a small Logger interface. The level is held in
// a process-wide slog.LevelVar so it can be changed at runtime, which
// `nestkv serve` does when its configuration file changes. Storage
// packages take a plain *slog.Logger; use Slog to obtain one.
//
// Attributes whose names look like credentials are redacted and long
// "value" attributes are truncated, so user data does not end up in logs
// verbatim.
package logger
