// Package metrics exposes Prometheus instruments for the RPC endpoint pool
// and the storage backend chain. Metrics are registered on creation via
// promauto; applications that want to scrape them only need to mount the
// default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCAttemptsTotal counts JSON-RPC attempts by endpoint and outcome
	// (success, retry, error).
	RPCAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filstash_rpc_attempts_total",
		Help: "Total number of JSON-RPC request attempts.",
	}, []string{"endpoint", "outcome"})

	// RPCFailoversTotal counts switches to the next endpoint in the pool.
	RPCFailoversTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filstash_rpc_failovers_total",
		Help: "Total number of endpoint failovers.",
	}, []string{"endpoint"})

	// RPCRateLimitsTotal counts 429 responses per endpoint.
	RPCRateLimitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filstash_rpc_rate_limits_total",
		Help: "Total number of rate-limited responses.",
	}, []string{"endpoint"})

	// RPCEndpointLatency shows the most recent request latency per endpoint.
	RPCEndpointLatency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "filstash_rpc_endpoint_latency_seconds",
		Help: "Latency of the last request per RPC endpoint.",
	}, []string{"endpoint"})

	// RPCEndpointIsCurrent shows whether an endpoint is the sticky current one.
	RPCEndpointIsCurrent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "filstash_rpc_endpoint_is_current",
		Help: "Whether an endpoint is the current sticky choice (1) or not (0).",
	}, []string{"endpoint"})

	// UploadAttemptsTotal counts storage backend upload attempts by backend
	// and status (success, failed, fallback).
	UploadAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filstash_upload_attempts_total",
		Help: "Total number of storage backend upload attempts.",
	}, []string{"backend", "status"})

	// GatewayDownloadsTotal counts retrieval gateway fetches by gateway and status.
	GatewayDownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filstash_gateway_downloads_total",
		Help: "Total number of gateway download attempts.",
	}, []string{"gateway", "status"})
)
