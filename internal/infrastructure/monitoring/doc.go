/*
Package monitoring provides Prometheus metrics for the tab runtime.

# Overview

Every Metrics value owns a private registry, so several runtimes (or tests)
can live in one process without duplicate registration panics. The registry
also carries the Go and process collectors.

# Metrics

  - HTTP requests (count, latency) labelled by route template
  - Tabs by lifecycle state, opened, closed, crashed, unresponsive
  - Process RSS, pressure level, live heap bytes and ghost bytes
  - Hibernations and restores by result, with duration and size histograms
  - Events dropped by the storm limiter or slow subscribers
  - WebSocket connections and messages

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer()
	// ... hibernate ...
	metrics.RecordHibernation(monitoring.ResultSuccess, timer.Elapsed(), compressed)
*/
package monitoring
