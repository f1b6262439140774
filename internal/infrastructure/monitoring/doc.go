/*
Package monitoring provides Prometheus metrics for the rewriting proxy.

# Overview

Each Metrics value owns a registry, so several servers (or tests) can run in
one process. It tracks:

- HTTP request metrics (latency, throughput, size)
- Upstream fetch metrics (duration, errors)
- Pages processed by outcome, tags marked and loaders injected
- Eligibility decisions by rule
- Simulated page loads by mode and trigger
- Process uptime

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))

	timer := monitoring.NewTimer(metrics)
	// ... fetch upstream page ...
	timer.Stop("200")

	metrics.RecordPage(monitoring.OutcomeRewritten, 2, true, elapsed)

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
*/
package monitoring
