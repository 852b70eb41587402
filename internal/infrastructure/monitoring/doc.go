/*
Package monitoring provides Prometheus metrics for the terminal service.

# Overview

Metrics are registered on a caller-supplied registerer rather than the
global default, so every server instance (and every test) owns its series.

# Features

- HTTP request metrics (count, latency) labelled by route template
- Terminal session lifecycle (active, created, exited by reason)
- Spawn failures and process output volume
- Viewer attach/detach and backpressure drops
- Dashboard event channel subscribers
- WebSocket message counts

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(monitoring.Handler(reg)))

	// Time operations
	timer := monitoring.NewTimer(metrics, "create")
	// ... perform operation ...
	timer.Stop("success")

A nil *Metrics is a valid recorder that discards everything.
*/
package monitoring
