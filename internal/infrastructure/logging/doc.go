// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components receive a named child logger so every line carries its origin
// ("registry", "session", "hub", "events", "ws", "http"). Session lines carry
// a session_id field and viewer lines a viewer_id field.
//
// Example Usage:
//
//	logger, err := logging.New(logging.Config{Level: "debug", Development: true})
//	reg := terminal.NewRegistry(spawner, opts, logger.Component("registry"))
//	logger.Info("Server starting", zap.String("port", "8000"))
package logging
