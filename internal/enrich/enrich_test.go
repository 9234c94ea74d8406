package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maniltns/AEGIS/internal/incident"
)

type stubKB struct {
	articles []incident.KBArticle
	err      error
	query    string
	topK     int
}

func (s *stubKB) SearchKB(_ context.Context, query string, topK int) ([]incident.KBArticle, error) {
	s.query = query
	s.topK = topK
	return s.articles, s.err
}

type stubDir struct {
	user     *incident.UserInfo
	ci       *incident.CIInfo
	err      error
	userCall bool
	ciCall   bool
}

func (s *stubDir) GetUser(context.Context, string) (*incident.UserInfo, error) {
	s.userCall = true
	return s.user, s.err
}

func (s *stubDir) GetCI(context.Context, string) (*incident.CIInfo, error) {
	s.ciCall = true
	return s.ci, s.err
}

func stateWith(callerID, cmdbCI string) *incident.PipelineState {
	return incident.NewPipelineState(incident.TriageJob{
		Incident: incident.Incident{
			Number:           "INC0120001",
			ShortDescription: "mail down",
			CallerID:         callerID,
			CmdbCI:           cmdbCI,
		},
		TriageID:                 "TRG202501010000000001",
		ScrubbedShortDescription: "mail down",
	})
}

func TestEnrichFillsAllContext(t *testing.T) {
	kb := &stubKB{articles: []incident.KBArticle{{Title: "KB0001"}}}
	dir := &stubDir{
		user: &incident.UserInfo{Name: "J. Doe", VIP: true},
		ci:   &incident.CIInfo{Name: "srv-mail-01"},
	}
	e := New(kb, dir, nil)

	state := stateWith("jdoe@example.com", "srv-mail-01")
	require.NoError(t, e.Enrich(context.Background(), state))

	assert.Len(t, state.KBArticles, 1)
	require.NotNil(t, state.UserInfo)
	assert.True(t, state.UserInfo.VIP)
	require.NotNil(t, state.CIInfo)

	// the KB query is the scrubbed text, capped at the top 3
	assert.Equal(t, "mail down", kb.query)
	assert.Equal(t, 3, kb.topK)
	assert.Contains(t, state.ActionsTaken, "Enriched with KB/User/CI context")
}

func TestEnrichSkipsAbsentKeys(t *testing.T) {
	dir := &stubDir{}
	e := New(&stubKB{}, dir, nil)

	state := stateWith("", "")
	require.NoError(t, e.Enrich(context.Background(), state))

	assert.False(t, dir.userCall)
	assert.False(t, dir.ciCall)
	assert.Nil(t, state.UserInfo)
	assert.Nil(t, state.CIInfo)
}

func TestEnrichAbsorbsFailures(t *testing.T) {
	kb := &stubKB{err: errors.New("index down")}
	dir := &stubDir{err: errors.New("itsm down")}
	e := New(kb, dir, nil)

	state := stateWith("jdoe@example.com", "srv-mail-01")
	require.NoError(t, e.Enrich(context.Background(), state))

	assert.Empty(t, state.KBArticles)
	assert.Nil(t, state.UserInfo)
	assert.Nil(t, state.CIInfo)
	assert.True(t, dir.userCall)
	assert.True(t, dir.ciCall)
}
