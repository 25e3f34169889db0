// Package logging provides structured logging for SpeechLink.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the capture pipeline.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - stdout, stderr or an append-only log file
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, or a file path
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("utterance published", "session_id", id, "bytes", n)
//	logger.Error("device failed", "error", err)
//
// Never log broker passwords or raw audio payloads.
package logging
