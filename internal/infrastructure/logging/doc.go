// Package logging provides structured logging for the Wagerline access core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("login admitted", "account_id", acc.ID, "device_id", dev.ID)
//
// # Security
//
// Never log passwords, bearer tokens or WebSocket tickets. Device
// fingerprints are caller-asserted identifiers and may be logged.
package logging
