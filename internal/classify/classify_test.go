package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maniltns/AEGIS/internal/incident"
)

type stubLLM struct {
	response string
	err      error
	system   string
	user     string
}

func (s *stubLLM) Complete(_ context.Context, system, user string) (string, error) {
	s.system = system
	s.user = user
	return s.response, s.err
}

const validResponse = `{
	"category": "Software",
	"subcategory": "Email Client",
	"priority": "3",
	"assignment_group": "L2-Apps",
	"resolution_notes": "Known outlook profile corruption, KB0001 applies",
	"action": "route",
	"confidence": 0.86
}`

func testState() *incident.PipelineState {
	return incident.NewPipelineState(incident.TriageJob{
		Incident: incident.Incident{Number: "INC0031000", ShortDescription: "outlook keeps crashing"},
		TriageID: "TRG202501010000001000",
	})
}

func TestClassifyParsesPlainJSON(t *testing.T) {
	c := New(&stubLLM{response: validResponse})

	cl, err := c.Classify(context.Background(), testState())
	require.NoError(t, err)
	assert.Equal(t, "Software", cl.Category)
	assert.Equal(t, incident.ActionRoute, cl.Action)
	assert.InDelta(t, 0.86, cl.Confidence, 0.001)
}

func TestClassifyStripsCodeFences(t *testing.T) {
	for _, wrapped := range []string{
		"```json\n" + validResponse + "\n```",
		"```\n" + validResponse + "\n```",
		"Here is the classification:\n```json\n" + validResponse + "\n```",
	} {
		c := New(&stubLLM{response: wrapped})
		cl, err := c.Classify(context.Background(), testState())
		require.NoError(t, err)
		assert.Equal(t, "L2-Apps", cl.AssignmentGroup)
	}
}

func TestClassifyRejectsMalformedJSON(t *testing.T) {
	c := New(&stubLLM{response: "the incident is probably a software issue"})

	_, err := c.Classify(context.Background(), testState())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse error")
}

func TestClassifyRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"bad category":   `{"category":"Plumbing","priority":"3","assignment_group":"L1-Helpdesk","action":"route","confidence":0.5}`,
		"bad priority":   `{"category":"Software","priority":"9","assignment_group":"L1-Helpdesk","action":"route","confidence":0.5}`,
		"bad confidence": `{"category":"Software","priority":"3","assignment_group":"L1-Helpdesk","action":"route","confidence":1.5}`,
		"bad tool":       `{"category":"Software","priority":"3","assignment_group":"L1-Helpdesk","action":"auto_heal","tool":"rm_rf","confidence":0.99}`,
		"missing group":  `{"category":"Software","priority":"3","action":"route","confidence":0.5}`,
	}
	for name, response := range cases {
		t.Run(name, func(t *testing.T) {
			c := New(&stubLLM{response: response})
			_, err := c.Classify(context.Background(), testState())
			assert.Error(t, err)
		})
	}
}

func TestClassifyRejectsReservedAction(t *testing.T) {
	// pending_approval belongs to the executor, never to the model
	c := New(&stubLLM{response: `{"category":"Software","priority":"3","assignment_group":"L1-Helpdesk","action":"pending_approval","confidence":0.9}`})

	_, err := c.Classify(context.Background(), testState())
	assert.Error(t, err)
}

func TestClassifyPropagatesTransportError(t *testing.T) {
	c := New(&stubLLM{err: errors.New("rate limited")})

	_, err := c.Classify(context.Background(), testState())
	assert.ErrorContains(t, err, "rate limited")
}

func TestPromptCarriesScrubbedTextAndContext(t *testing.T) {
	stub := &stubLLM{response: validResponse}
	c := New(stub)

	state := testState()
	state.ScrubbedShortDescription = "outlook crash for <EMAIL>"
	state.KBArticles = []incident.KBArticle{{Title: "KB0001", Summary: "rebuild profile"}}
	state.UserInfo = &incident.UserInfo{Name: "J. Doe", VIP: true, Location: "Paris"}

	_, err := c.Classify(context.Background(), state)
	require.NoError(t, err)

	assert.Contains(t, stub.user, "outlook crash for <EMAIL>")
	assert.Contains(t, stub.user, "KB0001: rebuild profile")
	assert.Contains(t, stub.user, "VIP: true")
	assert.Contains(t, stub.system, "JSON only")
}
