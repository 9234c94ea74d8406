package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maniltns/AEGIS/internal/classify"
	"github.com/maniltns/AEGIS/internal/enrich"
	"github.com/maniltns/AEGIS/internal/executor"
	"github.com/maniltns/AEGIS/internal/governance"
	"github.com/maniltns/AEGIS/internal/incident"
	"github.com/maniltns/AEGIS/internal/metrics"
	"github.com/maniltns/AEGIS/internal/rag"
	"github.com/maniltns/AEGIS/internal/redact"
	"github.com/maniltns/AEGIS/internal/remediation"
	"github.com/maniltns/AEGIS/internal/servicenow"
	"github.com/maniltns/AEGIS/internal/stormshield"
	"github.com/maniltns/AEGIS/internal/teams"
)

type stubIndex struct {
	matches []rag.Match
}

func (s *stubIndex) SearchSimilar(context.Context, string, string, time.Duration, float64) ([]rag.Match, error) {
	return s.matches, nil
}

func (s *stubIndex) RecordIncident(context.Context, string, string, map[string]string) error {
	return nil
}

type stubKB struct {
	articles []incident.KBArticle
}

func (s *stubKB) SearchKB(context.Context, string, int) ([]incident.KBArticle, error) {
	return s.articles, nil
}

type stubDir struct{}

func (stubDir) GetUser(context.Context, string) (*incident.UserInfo, error) {
	return &incident.UserInfo{Name: "J. Doe", VIP: true}, nil
}

func (stubDir) GetCI(context.Context, string) (*incident.CIInfo, error) {
	return &incident.CIInfo{Name: "srv-mail-01", Class: "cmdb_ci_server"}, nil
}

type stubLLM struct {
	response string
	err      error
	calls    int
}

func (s *stubLLM) Complete(context.Context, string, string) (string, error) {
	s.calls++
	return s.response, s.err
}

const routeResponse = `{
	"category": "Software",
	"subcategory": "Email Client",
	"priority": "3",
	"assignment_group": "L2-Apps",
	"resolution_notes": "known profile corruption",
	"action": "route",
	"confidence": 0.88
}`

type pipelineFixture struct {
	p   *Pipeline
	gov *governance.Store
	llm *stubLLM
	mr  *miniredis.Miniredis
}

func newPipeline(t *testing.T, index stormshield.VectorIndex, llmStub *stubLLM) *pipelineFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	gov := governance.NewStore(rdb)
	m := metrics.New(prometheus.NewRegistry())
	exec := executor.New(gov,
		servicenow.NewClient("", "", ""),
		teams.NewClient("", "", nil),
		remediation.NewRunner("http://127.0.0.1:1", gov, nil),
		m, nil)

	p := New(
		redact.New(nil, nil),
		stormshield.New(index, rdb, nil),
		enrich.New(&stubKB{articles: []incident.KBArticle{{Title: "KB0001", Summary: "rebuild profile"}}}, stubDir{}, nil),
		classify.New(llmStub),
		exec, gov, m, nil)

	return &pipelineFixture{p: p, gov: gov, llm: llmStub, mr: mr}
}

func job(number string) incident.TriageJob {
	return incident.TriageJob{
		Incident: incident.Incident{
			Number:           number,
			ShortDescription: "outlook crash for jdoe@example.com",
			CallerID:         "jdoe@example.com",
			CmdbCI:           "srv-mail-01",
		},
		TriageID: "TRG20250101000000" + number[len(number)-4:],
	}
}

func TestRunHappyPath(t *testing.T) {
	f := newPipeline(t, &stubIndex{}, &stubLLM{response: routeResponse})

	state := f.p.Run(context.Background(), job("INC0090001"))

	assert.Equal(t, incident.StatusExecuted, state.Status)
	assert.Equal(t, "outlook crash for <EMAIL>", state.ScrubbedShortDescription)
	require.NotNil(t, state.Classification)
	assert.Equal(t, incident.ActionRoute, state.Classification.Action)
	assert.Len(t, state.KBArticles, 1)
	require.NotNil(t, state.UserInfo)
	assert.True(t, state.UserInfo.VIP)
	require.NotNil(t, state.CIInfo)

	assert.Contains(t, state.ActionsTaken, "PII scrubbed from description")
	assert.Contains(t, state.ActionsTaken, "Triaged: route with 88% confidence")
	assert.Equal(t, 1, f.llm.calls)
}

func TestRunBlocksDuplicate(t *testing.T) {
	index := &stubIndex{matches: []rag.Match{{IncidentNumber: "INC0090000", Score: 0.95}}}
	llmStub := &stubLLM{response: routeResponse}
	f := newPipeline(t, index, llmStub)

	state := f.p.Run(context.Background(), job("INC0090002"))

	assert.Equal(t, incident.StatusBlocked, state.Status)
	assert.True(t, state.IsDuplicate)
	assert.Equal(t, "INC0090000", state.DuplicateOf)
	assert.Contains(t, state.ActionsTaken, "Blocked as duplicate of INC0090000")

	// blocked before the LLM stage, no tokens spent
	assert.Equal(t, 0, llmStub.calls)
}

func TestRunKillSwitchBeforeClassification(t *testing.T) {
	llmStub := &stubLLM{response: routeResponse}
	f := newPipeline(t, &stubIndex{}, llmStub)
	require.NoError(t, f.gov.SetEnabled(context.Background(), false, "ops", "drill"))

	state := f.p.Run(context.Background(), job("INC0090003"))

	assert.Equal(t, incident.StatusBlocked, state.Status)
	assert.Contains(t, state.ActionsTaken, "Blocked by kill switch")
	assert.Equal(t, 0, llmStub.calls)
}

func TestRunClassificationFailure(t *testing.T) {
	f := newPipeline(t, &stubIndex{}, &stubLLM{err: errors.New("rate limited")})

	state := f.p.Run(context.Background(), job("INC0090004"))

	assert.Equal(t, incident.StatusFailed, state.Status)
	assert.Contains(t, state.Error, "rate limited")
}

func TestResultsRoundTrip(t *testing.T) {
	f := newPipeline(t, &stubIndex{}, &stubLLM{response: routeResponse})
	rdb := redis.NewClient(&redis.Options{Addr: f.mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	results := NewResults(rdb)
	ctx := context.Background()

	state := f.p.Run(ctx, job("INC0090005"))
	require.NoError(t, results.Save(ctx, state))

	got, err := results.Get(ctx, state.TriageID)
	require.NoError(t, err)
	assert.Equal(t, state.Status, got.Status)
	assert.Equal(t, state.Number, got.Number)

	// results expire after a day
	f.mr.FastForward(25 * time.Hour)
	_, err = results.Get(ctx, state.TriageID)
	assert.ErrorIs(t, err, ErrResultNotFound)

	_, err = results.Get(ctx, "TRG-unknown")
	assert.ErrorIs(t, err, ErrResultNotFound)
}
