package audit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maniltns/AEGIS/internal/incident"
)

func newTestLog(t *testing.T) (*Log, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewLog(rdb, nil), mr
}

func terminalState(status incident.Status, actions ...string) *incident.PipelineState {
	state := incident.NewPipelineState(incident.TriageJob{
		Incident: incident.Incident{Number: "INC0070001", ShortDescription: "x"},
		TriageID: "TRG202501010000000001",
	})
	state.ActionsTaken = actions
	state.Status = status
	return state
}

func TestRecordResultWritesTrailAndCounters(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	l.RecordResult(ctx, terminalState(incident.StatusExecuted,
		"PII scrubbed from description",
		"Enriched with KB context",
		"Triaged: route with 86% confidence",
		"Updated ServiceNow",
	))

	trail, err := l.IncidentTrail(ctx, "INC0070001")
	require.NoError(t, err)
	require.Len(t, trail, 4)

	// newest first: the trail reverses the action order
	assert.Equal(t, "Updated ServiceNow", trail[0].Action)
	assert.Equal(t, AgentExecutor, trail[0].Agent)
	assert.Equal(t, AgentTriageLLM, trail[1].Agent)
	assert.Equal(t, AgentEnrichment, trail[2].Agent)
	assert.Equal(t, AgentGuardrails, trail[3].Agent)
	assert.Equal(t, "success", trail[0].Level)
	assert.Equal(t, "INC0070001_0", trail[3].ID)

	assert.Equal(t, int64(1), l.ProcessedToday(ctx))
	assert.Equal(t, int64(0), l.BlockedToday(ctx))
}

func TestRecordResultBlockedBumpsBothCounters(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	l.RecordResult(ctx, terminalState(incident.StatusBlocked, "Blocked as duplicate of INC0070000"))

	assert.Equal(t, int64(1), l.ProcessedToday(ctx))
	assert.Equal(t, int64(1), l.BlockedToday(ctx))

	trail, err := l.IncidentTrail(ctx, "INC0070001")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "warning", trail[0].Level)
	assert.Equal(t, AgentGuardrails, trail[0].Agent)
}

func TestActivityFeedIsCapped(t *testing.T) {
	l, mr := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		l.RecordResult(ctx, terminalState(incident.StatusExecuted, "Updated ServiceNow"))
	}

	items, err := mr.List(keyActivity)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(items), activityLimit)
	assert.Equal(t, 30, len(items))
}

func TestAgentFor(t *testing.T) {
	cases := map[string]string{
		"PII scrubbed from description":          AgentGuardrails,
		"Blocked by kill switch":                 AgentGuardrails,
		"Blocked as duplicate of INC0001":        AgentGuardrails,
		"Enriched with KB context":               AgentEnrichment,
		"Enriched with User context":             AgentEnrichment,
		"Triaged: auto_heal with 96% confidence": AgentTriageLLM,
		"Updated ServiceNow":                     AgentExecutor,
		"Sent Teams notification":                AgentExecutor,
	}
	for action, want := range cases {
		assert.Equal(t, want, AgentFor(action), action)
	}
}
