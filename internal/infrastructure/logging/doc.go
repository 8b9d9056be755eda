// Package logging provides structured logging for the Tailnet Monitor.
//
// This package wraps Go's standard log/slog package so that every component
// (API client, pollers, sinks, HTTP API) logs with the same fields.
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
//	entityLog := logger.ForEntity("home", "tailnet")
//	entityLog.Info("poll complete", "devices", 12)
//
// # Security
//
// Never log Tailscale API keys. Use Redact when a key must be identified:
//
//	logger.Info("credentials loaded", "key", logging.Redact(apiKey))
package logging
