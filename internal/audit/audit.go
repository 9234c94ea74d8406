// Package audit records what the platform did and why: the rolling activity
// feed the admin portal tails, per-incident trails, and the daily processed
// and blocked counters.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maniltns/AEGIS/internal/incident"
	"github.com/maniltns/AEGIS/internal/storage"
)

// Pipeline stage tags on activity entries.
const (
	AgentGuardrails = "GUARDRAILS"
	AgentEnrichment = "ENRICHMENT"
	AgentTriageLLM  = "TRIAGE_LLM"
	AgentExecutor   = "EXECUTOR"
)

const (
	keyActivity   = "logs:activity"
	activityLimit = 1000
	trailLimit    = 100
)

// Entry is one activity-feed row.
type Entry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Agent     string `json:"agent"`
	Incident  string `json:"incident"`
	Action    string `json:"action"`
	Level     string `json:"level"` // success | warning | error | info
	Details   string `json:"details,omitempty"`
}

// Log writes audit records to Redis.
type Log struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewLog(rdb *redis.Client, log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{rdb: rdb, log: log.With("component", "audit")}
}

// RecordResult turns a terminal pipeline state into activity entries, one
// per action line, tags each with the stage that produced it, appends the
// per-incident trail, and bumps the daily counters. Failures are logged and
// swallowed so auditing never fails a job.
func (l *Log) RecordResult(ctx context.Context, state *incident.PipelineState) {
	now := time.Now().UTC().Format(time.RFC3339)
	level := levelFor(state.Status)

	for i, action := range state.ActionsTaken {
		entry := Entry{
			ID:        fmt.Sprintf("%s_%d", state.Number, i),
			Timestamp: now,
			Agent:     AgentFor(action),
			Incident:  state.Number,
			Action:    action,
			Level:     level,
			Details:   state.Reasoning,
		}
		l.push(ctx, keyActivity, entry)
		l.push(ctx, "audit:"+state.Number, entry)
	}

	if err := l.rdb.LTrim(ctx, keyActivity, 0, activityLimit-1).Err(); err != nil {
		l.log.Warn("activity trim failed", "error", err)
	}

	if err := l.rdb.Incr(ctx, storage.DayKey("stats:processed", time.Now())).Err(); err != nil {
		l.log.Warn("processed counter failed", "error", err)
	}
	if state.Status == incident.StatusBlocked {
		if err := l.rdb.Incr(ctx, storage.DayKey("stats:blocked", time.Now())).Err(); err != nil {
			l.log.Warn("blocked counter failed", "error", err)
		}
	}
}

// IncidentTrail returns the most recent trail entries for one incident,
// newest first.
func (l *Log) IncidentTrail(ctx context.Context, incidentNumber string) ([]Entry, error) {
	rows, err := l.rdb.LRange(ctx, "audit:"+incidentNumber, 0, trailLimit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read trail: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		var e Entry
		if err := json.Unmarshal([]byte(row), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ProcessedToday and BlockedToday read the current UTC-day counters.
func (l *Log) ProcessedToday(ctx context.Context) int64 {
	return l.counter(ctx, storage.DayKey("stats:processed", time.Now()))
}

func (l *Log) BlockedToday(ctx context.Context) int64 {
	return l.counter(ctx, storage.DayKey("stats:blocked", time.Now()))
}

func (l *Log) counter(ctx context.Context, key string) int64 {
	n, err := l.rdb.Get(ctx, key).Int64()
	if err != nil {
		return 0
	}
	return n
}

func (l *Log) push(ctx context.Context, key string, e Entry) {
	payload, err := json.Marshal(e)
	if err != nil {
		l.log.Warn("marshal audit entry failed", "error", err)
		return
	}
	if err := l.rdb.LPush(ctx, key, payload).Err(); err != nil {
		l.log.Warn("audit push failed", "key", key, "error", err)
	}
}

// AgentFor maps an action line back to the stage that wrote it, using the
// same keyword heuristics the activity feed has always used.
func AgentFor(action string) string {
	lower := strings.ToLower(action)
	switch {
	case strings.Contains(action, "PII"), strings.Contains(lower, "duplicate"), strings.Contains(action, "Blocked"):
		return AgentGuardrails
	case strings.Contains(action, "KB"), strings.Contains(action, "Enriched"), strings.Contains(action, "CMDB"):
		return AgentEnrichment
	case strings.Contains(action, "Triaged"), strings.Contains(lower, "confidence"):
		return AgentTriageLLM
	default:
		return AgentExecutor
	}
}

func levelFor(status incident.Status) string {
	switch status {
	case incident.StatusExecuted:
		return "success"
	case incident.StatusBlocked:
		return "warning"
	case incident.StatusFailed:
		return "error"
	default:
		return "info"
	}
}
