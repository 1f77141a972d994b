/*
Package monitoring provides Prometheus-based metrics for the execution
engine: job lifecycle, pump throughput and backpressure, sniffer verdicts,
command dispatch, and the observer API.

Usage:

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
