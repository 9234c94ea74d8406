package remediation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubApprovals struct {
	approved bool
	err      error
}

func (s *stubApprovals) Approved(context.Context, string) (bool, error) {
	return s.approved, s.err
}

func newTestRunner(t *testing.T, approvals Approvals) (*Runner, *[]map[string]any) {
	t.Helper()
	var received []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received = append(received, body)
		fmt.Fprint(w, `{"command_id":"cmd-777"}`)
	}))
	t.Cleanup(srv.Close)
	return NewRunner(srv.URL, approvals, nil), &received
}

func TestExecuteUnknownTool(t *testing.T) {
	r, _ := newTestRunner(t, &stubApprovals{})

	_, err := r.Execute(context.Background(), "format_disk", "i-0123456789abcdef0", "INC0050001")
	assert.Error(t, err)
}

func TestExecuteInvalidTarget(t *testing.T) {
	r, received := newTestRunner(t, &stubApprovals{})

	cases := map[string]struct{ tool, target string }{
		"hostname for instance tool": {"clear_cache", "web-server-01"},
		"uppercase hex":              {"clear_cache", "i-0123456789ABCDEF0"},
		"instance for account tool":  {"unlock_account", "i-0123456789abcdef0"},
		"double at":                  {"unlock_account", "a@b@example.com"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			outcome, err := r.Execute(context.Background(), tc.tool, tc.target, "INC0050002")
			require.NoError(t, err)
			assert.Contains(t, outcome, "BLOCKED: invalid target")
		})
	}
	assert.Empty(t, *received)
}

func TestExecuteHighRiskNeedsApproval(t *testing.T) {
	r, received := newTestRunner(t, &stubApprovals{approved: false})

	outcome, err := r.Execute(context.Background(), "restart_iis", "i-0123456789abcdef0", "INC0050003")
	require.NoError(t, err)
	assert.Contains(t, outcome, "BLOCKED: restart_iis requires approval")
	assert.Empty(t, *received)
}

func TestExecuteHighRiskWithApproval(t *testing.T) {
	r, received := newTestRunner(t, &stubApprovals{approved: true})

	outcome, err := r.Execute(context.Background(), "restart_iis", "i-0123456789abcdef0", "INC0050004")
	require.NoError(t, err)
	assert.Equal(t, "Executed restart_iis on i-0123456789abcdef0: command cmd-777", outcome)

	require.Len(t, *received, 1)
	body := (*received)[0]
	assert.Equal(t, "RunPowerShellScript", body["document"])
	assert.Equal(t, "INC0050004", body["incident"])
}

func TestExecuteMediumRiskSkipsApprovalCheck(t *testing.T) {
	// an erroring approvals store must not matter for non-high tools
	r, received := newTestRunner(t, &stubApprovals{err: assert.AnError})

	outcome, err := r.Execute(context.Background(), "clear_cache", "i-0123456789abcdef0", "INC0050005")
	require.NoError(t, err)
	assert.Contains(t, outcome, "Executed clear_cache")
	assert.Len(t, *received, 1)
}

func TestExecuteDispatchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	r := NewRunner(srv.URL, &stubApprovals{}, nil)

	_, err := r.Execute(context.Background(), "unlock_account", "jdoe@example.com", "INC0050006")
	assert.ErrorContains(t, err, "status 502")
}
