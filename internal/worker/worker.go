// Package worker runs the queue consumer loop: reserve a job, drive it
// through the pipeline, persist the result, then ack. Processing faults go
// back through the queue's retry path; multiple workers may compete on the
// same queue safely.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maniltns/AEGIS/internal/audit"
	"github.com/maniltns/AEGIS/internal/incident"
	"github.com/maniltns/AEGIS/internal/metrics"
	"github.com/maniltns/AEGIS/internal/pipeline"
	"github.com/maniltns/AEGIS/internal/queue"
)

const (
	errorBackoff   = 5 * time.Second
	maintenanceInt = time.Minute
)

// Worker owns one consumer loop.
type Worker struct {
	queue    *queue.Driver
	pipeline *pipeline.Pipeline
	results  *pipeline.Results
	audit    *audit.Log
	metrics  *metrics.Metrics
	claimTTL time.Duration
	log      *slog.Logger
}

func New(q *queue.Driver, p *pipeline.Pipeline, results *pipeline.Results, auditLog *audit.Log, m *metrics.Metrics, claimTTL time.Duration, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if claimTTL <= 0 {
		claimTTL = 5 * time.Minute
	}
	return &Worker{
		queue:    q,
		pipeline: p,
		results:  results,
		audit:    auditLog,
		metrics:  m,
		claimTTL: claimTTL,
		log:      log.With("component", "worker"),
	}
}

// Run consumes until ctx is cancelled. The job in hand is always finished:
// reservation stops first, processing of a reserved job runs to its
// terminal state before the loop observes cancellation.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("🚀 Triage worker starting")

	go w.maintenanceLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker shutdown complete")
			return
		default:
		}

		del, err := w.queue.Reserve(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("worker shutdown complete")
				return
			}
			w.log.Error("reserve failed", "error", err)
			time.Sleep(errorBackoff)
			continue
		}

		// Processing runs detached from the shutdown signal so the job
		// in hand completes even during termination.
		w.process(context.WithoutCancel(ctx), del)
	}
}

func (w *Worker) process(ctx context.Context, del *queue.Delivery) {
	log := w.log.With("incident", del.Job.Number, "triage_id", del.Job.TriageID)
	log.Info("📥 processing")

	state := w.pipeline.Run(ctx, del.Job)

	if err := w.results.Save(ctx, state); err != nil {
		log.Error("result save failed", "error", err)
		w.fault(ctx, del, "result save: "+err.Error())
		return
	}

	w.audit.RecordResult(ctx, state)

	// A failed pipeline status is a processing fault: the job earns a
	// retry until the cap dead-letters it.
	if state.Status == incident.StatusFailed {
		w.fault(ctx, del, state.Error)
		return
	}

	if err := w.queue.Ack(ctx, del); err != nil {
		log.Error("ack failed", "error", err)
		return
	}
	log.Info("✅ completed", "status", state.Status)
}

func (w *Worker) fault(ctx context.Context, del *queue.Delivery, cause string) {
	dead, err := w.queue.Retry(ctx, del, cause)
	if err != nil {
		w.log.Error("retry failed", "incident", del.Job.Number, "error", err)
		return
	}
	if dead {
		w.metrics.DeadLettered.Inc()
	} else {
		w.metrics.QueueRetries.Inc()
	}
}

// maintenanceLoop reaps stale processing claims and refreshes the queue
// depth gauges once a minute.
func (w *Worker) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, err := w.queue.Reap(ctx, w.claimTTL)
			if err != nil {
				w.log.Warn("reap failed", "error", err)
			} else if recovered > 0 {
				w.metrics.Reaped.Add(float64(recovered))
				w.log.Info("reaped stale entries", "count", recovered)
			}

			depths, err := w.queue.Depths(ctx)
			if err != nil {
				w.log.Warn("depth read failed", "error", err)
				continue
			}
			w.metrics.QueueDepth.WithLabelValues("pending").Set(float64(depths.Pending))
			w.metrics.QueueDepth.WithLabelValues("processing").Set(float64(depths.Processing))
			w.metrics.QueueDepth.WithLabelValues("dead_letter").Set(float64(depths.DeadLetter))
		}
	}
}
