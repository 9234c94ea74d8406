// Package executor acts on a classification: governance gating, optional
// auto-heal, the ServiceNow write-back, and the Teams notification. It is
// the only pipeline stage with external side effects, so every governance
// decision is re-read here rather than trusted from earlier stages.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maniltns/AEGIS/internal/governance"
	"github.com/maniltns/AEGIS/internal/incident"
	"github.com/maniltns/AEGIS/internal/metrics"
	"github.com/maniltns/AEGIS/internal/remediation"
	"github.com/maniltns/AEGIS/internal/servicenow"
	"github.com/maniltns/AEGIS/internal/teams"
)

// Executor runs the final pipeline stage.
type Executor struct {
	gov     *governance.Store
	snow    *servicenow.Client
	teams   *teams.Client
	runner  *remediation.Runner
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(gov *governance.Store, snow *servicenow.Client, tc *teams.Client, runner *remediation.Runner, m *metrics.Metrics, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		gov:     gov,
		snow:    snow,
		teams:   tc,
		runner:  runner,
		metrics: m,
		log:     log.With("component", "executor"),
	}
}

// Execute applies the classification. The governance snapshot is read fresh
// at entry; a kill switch flipped mid-pipeline blocks here even though the
// classification already happened. Dependency failures append an action
// line and continue, the state still terminates as executed.
func (e *Executor) Execute(ctx context.Context, state *incident.PipelineState) {
	cl := state.Classification
	if cl == nil {
		state.Error = "no classification to execute"
		state.Advance(incident.StatusFailed)
		return
	}

	gov, err := e.gov.Snapshot(ctx)
	if err != nil {
		e.log.Error("governance read failed", "incident", state.Number, "error", err)
		state.Error = fmt.Sprintf("governance read: %v", err)
		state.Advance(incident.StatusFailed)
		return
	}

	if !gov.Enabled {
		state.Record("Blocked by kill switch before execution")
		state.Error = "Kill switch active"
		state.Advance(incident.StatusBlocked)
		return
	}

	if gov.Mode == governance.ModeMonitor {
		state.Record("Monitor mode: classification recorded, no external actions")
		state.Advance(incident.StatusExecuted)
		return
	}

	action := e.gateAutoHeal(ctx, state, gov)

	if action == incident.ActionAutoHeal && cl.Tool != "" && cl.Target != "" {
		outcome, err := e.runner.Execute(ctx, cl.Tool, cl.Target, state.Number)
		if err != nil {
			state.Record(fmt.Sprintf("Remediation %s failed: %v", cl.Tool, err))
		} else {
			state.Record(outcome)
			if !strings.HasPrefix(outcome, "BLOCKED") {
				e.metrics.RemediationDispatch.WithLabelValues(cl.Tool).Inc()
			}
		}
	}

	e.updateServiceNow(ctx, state)
	e.notifyTeams(ctx, state, action)

	state.Advance(incident.StatusExecuted)
}

// gateAutoHeal applies the remediation governance gates in order: the
// confidence threshold first, then the operating mode. Both downgrades are
// recorded on the state.
func (e *Executor) gateAutoHeal(ctx context.Context, state *incident.PipelineState, gov governance.State) incident.Action {
	cl := state.Classification
	action := cl.Action
	if action != incident.ActionAutoHeal {
		return action
	}

	confidencePct := state.Confidence * 100
	if confidencePct < float64(gov.ThresholdRemediate) {
		state.Record(fmt.Sprintf("Downgraded auto_heal to route (confidence %.0f%% < %d%%)",
			confidencePct, gov.ThresholdRemediate))
		return incident.ActionRoute
	}

	if gov.Mode != governance.ModeAuto {
		state.Record("Queued for human approval (assist mode)")
		if tool, ok := remediation.Registry[cl.Tool]; ok && e.teams.Configured() {
			details := fmt.Sprintf("Proposed: %s on %s (confidence %.0f%%)", cl.Tool, cl.Target, confidencePct)
			if err := e.teams.SendApprovalRequest(ctx, state.Number, cl.Tool, details, string(tool.Risk)); err != nil {
				e.log.Warn("approval request failed", "incident", state.Number, "error", err)
			}
		}
		return incident.ActionPendingApproval
	}

	return incident.ActionAutoHeal
}

func (e *Executor) updateServiceNow(ctx context.Context, state *incident.PipelineState) {
	if !e.snow.Configured() {
		return
	}
	cl := state.Classification
	fields := map[string]string{
		"work_notes":       buildWorkNotes(state),
		"category":         cl.Category,
		"subcategory":      cl.Subcategory,
		"priority":         cl.Priority,
		"assignment_group": cl.AssignmentGroup,
	}
	if err := e.snow.UpdateIncident(ctx, state.Number, fields); err != nil {
		e.log.Warn("servicenow update failed", "incident", state.Number, "error", err)
		state.Record(fmt.Sprintf("ServiceNow update failed: %v", err))
		return
	}
	state.Record("Updated ServiceNow")
}

func (e *Executor) notifyTeams(ctx context.Context, state *incident.PipelineState, action incident.Action) {
	if !e.teams.Configured() {
		return
	}
	cl := *state.Classification
	cl.Action = action
	inc := incident.Incident{Number: state.Number, ShortDescription: state.ScrubbedShortDescription}
	if err := e.teams.SendTriageCard(ctx, state.TriageID, inc, cl); err != nil {
		e.log.Warn("teams notification failed", "incident", state.Number, "error", err)
		state.Record(fmt.Sprintf("Teams notification failed: %v", err))
		return
	}
	state.Record("Sent Teams notification")
}

// buildWorkNotes renders the audit block written back to the ticket.
func buildWorkNotes(state *incident.PipelineState) string {
	cl := state.Classification

	notes := []string{
		"🛡️ AEGIS Triage",
		"━━━━━━━━━━━━━━━━━━━━━━━━━━",
		fmt.Sprintf("**Category:** %s > %s", cl.Category, cl.Subcategory),
		fmt.Sprintf("**Priority:** P%s (%s)", cl.Priority, servicenow.PriorityLabel(cl.Priority)),
		fmt.Sprintf("**Assignment:** %s", cl.AssignmentGroup),
		fmt.Sprintf("**Confidence:** %.0f%%", state.Confidence*100),
		"",
		fmt.Sprintf("**Reasoning:** %s", state.Reasoning),
		"",
		"**KB Articles:**",
	}
	kb := state.KBArticles
	if len(kb) > 3 {
		kb = kb[:3]
	}
	for _, a := range kb {
		notes = append(notes, "- "+a.Title)
	}

	notes = append(notes, "", "**Actions Taken:**")
	for _, action := range state.ActionsTaken {
		notes = append(notes, "- "+action)
	}
	return strings.Join(notes, "\n")
}
