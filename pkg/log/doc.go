// Package log provides the structured session event log.
//
// This package defines the Logger interface and Event types for capturing
// what a signer session did: status transitions, executed device requests,
// classified errors and the events published to the UI layer. It is separate
// from operational logging (slog) - the event log is a complete
// machine-readable trace for debugging device behaviour after the fact.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.EventLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.EventLogger, _ = log.NewFileLogger("/var/log/frame/signer.slog")
//
//	// Both: use MultiLogger
//	cfg.EventLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Log files are a stream of CBOR encoded events. The signer-log CLI tool
// provides viewing and statistics.
package log
