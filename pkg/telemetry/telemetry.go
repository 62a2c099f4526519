// Package telemetry holds the process-wide prometheus instruments.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts inbound task requests per component.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subnet_requests_total",
		Help: "Inbound task requests.",
	}, []string{"component"})

	// ChunksTotal counts streamed chunk messages per component.
	ChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subnet_chunks_total",
		Help: "Streamed chunk messages.",
	}, []string{"component"})

	// ErrorsTotal counts terminal error messages per component.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subnet_errors_total",
		Help: "Terminal error messages emitted.",
	}, []string{"component"})

	// DroppedRequestsTotal counts requests discarded at the boundary
	// (no correlation id, undecodable frame).
	DroppedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subnet_dropped_requests_total",
		Help: "Requests dropped without a response.",
	}, []string{"component"})
)
