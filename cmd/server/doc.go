// Package main is the entry point for the remodash terminal server.
//
// The server owns every shell session the dashboard opens. Sessions outlive
// the browser tabs that view them: closing a tab detaches a viewer, and any
// other device that opens the dashboard sees the same sessions and can
// attach to them.
//
// The server provides:
//   - REST API for session control under /api/terminals
//   - WebSocket streaming per session and a dashboard event channel
//   - Prometheus metrics at /metrics
//   - Optional session metadata persistence across restarts
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server --port 8000 --mode pty --state /var/lib/remodash/sessions.yaml
//
//	# Development mode (colored logs, debug level)
//	./server --dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown, terminating every session
package main
