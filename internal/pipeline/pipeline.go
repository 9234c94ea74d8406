// Package pipeline is the four-stage triage state machine:
// guardrails → enrichment → classification → execution. Each run takes one
// TriageJob to a terminal status; the worker owns retry semantics around it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maniltns/AEGIS/internal/classify"
	"github.com/maniltns/AEGIS/internal/enrich"
	"github.com/maniltns/AEGIS/internal/executor"
	"github.com/maniltns/AEGIS/internal/governance"
	"github.com/maniltns/AEGIS/internal/incident"
	"github.com/maniltns/AEGIS/internal/metrics"
	"github.com/maniltns/AEGIS/internal/redact"
	"github.com/maniltns/AEGIS/internal/stormshield"
)

// Pipeline wires the four stages together.
type Pipeline struct {
	redactor   *redact.Redactor
	shield     *stormshield.Shield
	enricher   *enrich.Enricher
	classifier *classify.Classifier
	executor   *executor.Executor
	gov        *governance.Store
	metrics    *metrics.Metrics
	log        *slog.Logger
}

func New(
	redactor *redact.Redactor,
	shield *stormshield.Shield,
	enricher *enrich.Enricher,
	classifier *classify.Classifier,
	exec *executor.Executor,
	gov *governance.Store,
	m *metrics.Metrics,
	log *slog.Logger,
) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		redactor:   redactor,
		shield:     shield,
		enricher:   enricher,
		classifier: classifier,
		executor:   exec,
		gov:        gov,
		metrics:    m,
		log:        log.With("component", "pipeline"),
	}
}

// Run takes a job to a terminal state. It never returns an error: every
// failure mode lands in the state's status and error fields so the caller
// can decide between ack, retry, and dead-letter.
func (p *Pipeline) Run(ctx context.Context, job incident.TriageJob) *incident.PipelineState {
	started := time.Now()
	state := incident.NewPipelineState(job)
	log := p.log.With("incident", state.Number, "triage_id", state.TriageID)

	p.guardrails(ctx, state, log)
	if state.Terminal() {
		p.finish(state, started, log)
		return state
	}

	p.enricher.Enrich(ctx, state)

	p.classifyStage(ctx, state, log)
	if state.Terminal() {
		p.finish(state, started, log)
		return state
	}

	p.executor.Execute(ctx, state)
	p.finish(state, started, log)
	return state
}

// guardrails scrubs PII (re-deriving when ingress already did it is a
// no-op, scrubbing is idempotent) and blocks storm duplicates. A passing
// incident is recorded in the shield so it can parent later duplicates.
func (p *Pipeline) guardrails(ctx context.Context, state *incident.PipelineState, log *slog.Logger) {
	if state.ScrubbedShortDescription == "" {
		state.ScrubbedShortDescription = p.redactor.Scrub(state.ShortDescription)
	}
	if state.ScrubbedDescription == "" && state.Description != "" {
		state.ScrubbedDescription = p.redactor.Scrub(state.Description)
	}
	state.Record("PII scrubbed from description")

	isDup, parent := p.shield.CheckDuplicate(ctx, state.ScrubbedShortDescription, state.Number)
	state.IsDuplicate = isDup
	state.DuplicateOf = parent

	if isDup {
		state.Record("Blocked as duplicate of " + parent)
		state.Advance(incident.StatusBlocked)
		p.metrics.DuplicatesBlocked.Inc()
		log.Info("blocked duplicate", "parent", parent)
		return
	}

	p.shield.Record(ctx, state.Number, state.ScrubbedShortDescription)
}

// classifyStage re-reads governance so a kill switch flipped after enqueue
// halts the job before any tokens are spent, then runs the LLM call.
func (p *Pipeline) classifyStage(ctx context.Context, state *incident.PipelineState, log *slog.Logger) {
	gov, err := p.gov.Snapshot(ctx)
	if err != nil {
		log.Error("governance read failed", "error", err)
		state.Error = "governance read: " + err.Error()
		state.Advance(incident.StatusFailed)
		return
	}
	if !gov.Enabled {
		state.Record("Blocked by kill switch")
		state.Error = "Kill switch active"
		state.Advance(incident.StatusBlocked)
		return
	}

	llmStart := time.Now()
	cl, err := p.classifier.Classify(ctx, state)
	p.metrics.LLMDuration.Observe(time.Since(llmStart).Seconds())
	if err != nil {
		p.metrics.LLMFailures.Inc()
		log.Error("classification failed", "error", err)
		state.Error = err.Error()
		state.Advance(incident.StatusFailed)
		return
	}

	state.Classification = cl
	state.Confidence = cl.Confidence
	state.Reasoning = cl.ResolutionNotes
	state.Advance(incident.StatusTriaged)
	state.Record(fmt.Sprintf("Triaged: %s with %.0f%% confidence", cl.Action, cl.Confidence*100))
}

func (p *Pipeline) finish(state *incident.PipelineState, started time.Time, log *slog.Logger) {
	p.metrics.PipelineDuration.Observe(time.Since(started).Seconds())
	p.metrics.IncidentsProcessed.WithLabelValues(string(state.Status)).Inc()
	log.Info("pipeline complete", "status", state.Status, "took", time.Since(started))
}
