// Package metrics defines the Prometheus instrumentation for both
// processes. Each process builds its own struct against a registerer so
// tests can use throwaway registries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EdgeMetrics covers the poll/spool/upload path on the edge daemon.
type EdgeMetrics struct {
	PollTotal     *prometheus.CounterVec
	SpoolDepth    prometheus.Gauge
	UploadTotal   *prometheus.CounterVec
	UploadBackoff prometheus.Gauge
}

// NewEdgeMetrics creates and registers the edge metric set.
func NewEdgeMetrics(reg prometheus.Registerer) *EdgeMetrics {
	factory := promauto.With(reg)
	return &EdgeMetrics{
		PollTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_poll_total",
				Help: "Poll cycles by result",
			},
			[]string{"result"}, // result: success, failure, rejected
		),
		SpoolDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "edge_spool_depth",
				Help: "Pending samples in the local spool",
			},
		),
		UploadTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_upload_total",
				Help: "Upload attempts by result",
			},
			[]string{"result"}, // result: success, failure
		),
		UploadBackoff: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "edge_upload_backoff_seconds",
				Help: "Current uploader backoff delay",
			},
		),
	}
}

// ServerMetrics covers the ingest and query path on the server.
type ServerMetrics struct {
	IngestSamples   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
}

// NewServerMetrics creates and registers the server metric set.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	factory := promauto.With(reg)
	return &ServerMetrics{
		IngestSamples: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_samples_total",
				Help: "Ingested samples by outcome",
			},
			[]string{"outcome"}, // outcome: inserted, duplicate
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "status"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_cache_lookups_total",
				Help: "Realtime cache lookups by result",
			},
			[]string{"result"}, // result: hit, miss
		),
	}
}
