// Package metrics holds the Prometheus instrumentation for the triage
// platform, exposed on the API server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the triage platform.
type Metrics struct {
	// Pipeline metrics
	IncidentsProcessed *prometheus.CounterVec
	DuplicatesBlocked  prometheus.Counter
	PipelineDuration   prometheus.Histogram

	// Queue metrics
	QueueDepth   *prometheus.GaugeVec
	QueueRetries prometheus.Counter
	DeadLettered prometheus.Counter
	Reaped       prometheus.Counter

	// Dependency metrics
	LLMDuration         prometheus.Histogram
	LLMFailures         prometheus.Counter
	RemediationDispatch *prometheus.CounterVec
	IngressAccepted     prometheus.Counter
	IngressRejected     *prometheus.CounterVec
}

// New creates and registers all metrics against reg. Tests pass a private
// registry; the binaries pass prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		IncidentsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_incidents_processed_total",
				Help: "Incidents reaching a terminal pipeline status",
			},
			[]string{"status"}, // blocked, executed, failed
		),
		DuplicatesBlocked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_duplicates_blocked_total",
				Help: "Incidents blocked as storm duplicates",
			},
		),
		PipelineDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aegis_pipeline_duration_seconds",
				Help:    "End-to-end pipeline processing time per incident",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aegis_queue_depth",
				Help: "Current depth of each queue lane",
			},
			[]string{"lane"}, // pending, processing, dead_letter
		),
		QueueRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_queue_retries_total",
				Help: "Jobs re-queued after a processing fault",
			},
		),
		DeadLettered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_queue_dead_lettered_total",
				Help: "Jobs moved to the dead letter queue",
			},
		),
		Reaped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_queue_reaped_total",
				Help: "Stale processing entries recovered by the reaper",
			},
		),
		LLMDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aegis_llm_duration_seconds",
				Help:    "Latency of classification LLM calls",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
			},
		),
		LLMFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_llm_failures_total",
				Help: "Classification calls that failed or did not parse",
			},
		),
		RemediationDispatch: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_remediation_dispatch_total",
				Help: "Remediation tool dispatches by tool name",
			},
			[]string{"tool"},
		),
		IngressAccepted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_ingress_accepted_total",
				Help: "Webhook incidents validated and enqueued",
			},
		),
		IngressRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_ingress_rejected_total",
				Help: "Webhook incidents rejected before enqueue",
			},
			[]string{"reason"}, // invalid, disabled
		),
	}
}
