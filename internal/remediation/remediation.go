// Package remediation executes the closed registry of auto-heal tools.
// Every tool validates its target shape before anything is dispatched, and
// high-risk tools require a pre-existing human approval for the incident.
// Commands go out through a remote-command service; nothing ever shells out
// from this process.
package remediation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/maniltns/AEGIS/internal/governance"
)

// Risk tiers. High-risk tools need an approval on file.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Tool is one registered remediation.
type Tool struct {
	Name string
	Risk Risk
	// Commands rendered for the remote-command service.
	Commands []string
	// Document selects the execution environment on the target.
	Document string
	// ValidTarget guards against the model inventing targets.
	ValidTarget func(target string) bool
}

var instanceID = regexp.MustCompile(`^i-[0-9a-f]{8,17}$`)

// Registry is the closed set of tools the executor may dispatch. Unknown
// tool names are rejected at the call site.
var Registry = map[string]Tool{
	"restart_iis": {
		Name:        "restart_iis",
		Risk:        RiskHigh,
		Document:    "RunPowerShellScript",
		Commands:    []string{"Restart-Service W3SVC"},
		ValidTarget: func(t string) bool { return instanceID.MatchString(t) },
	},
	"clear_cache": {
		Name:        "clear_cache",
		Risk:        RiskMedium,
		Document:    "RunShellScript",
		Commands:    []string{"rm -rf /tmp/cache/*"},
		ValidTarget: func(t string) bool { return instanceID.MatchString(t) },
	},
	"unlock_account": {
		Name:     "unlock_account",
		Risk:     RiskLow,
		Document: "UnlockDirectoryAccount",
		ValidTarget: func(t string) bool {
			return strings.Count(t, "@") == 1 && !strings.HasPrefix(t, "@") && !strings.HasSuffix(t, "@")
		},
	},
}

// Approvals is the slice of the governance store the runner needs.
type Approvals interface {
	Approved(ctx context.Context, incidentNumber string) (bool, error)
}

// Runner validates and dispatches remediations.
type Runner struct {
	serviceURL string
	approvals  Approvals
	http       *http.Client
	log        *slog.Logger
}

func NewRunner(serviceURL string, approvals Approvals, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		serviceURL: serviceURL,
		approvals:  approvals,
		http:       &http.Client{Timeout: 30 * time.Second},
		log:        log.With("component", "remediation"),
	}
}

// Execute runs the named tool against target for the incident. The returned
// string is a human-readable outcome line for the audit trail; err is set
// only when dispatch itself failed.
func (r *Runner) Execute(ctx context.Context, toolName, target, incidentNumber string) (string, error) {
	tool, ok := Registry[toolName]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", toolName)
	}
	if !tool.ValidTarget(target) {
		return fmt.Sprintf("BLOCKED: invalid target %q for %s", target, toolName), nil
	}

	if tool.Risk == RiskHigh {
		approved, err := r.approvals.Approved(ctx, incidentNumber)
		if err != nil {
			return "", fmt.Errorf("approval check: %w", err)
		}
		if !approved {
			return fmt.Sprintf("BLOCKED: %s requires approval for %s", toolName, incidentNumber), nil
		}
	}

	commandID, err := r.dispatch(ctx, tool, target, incidentNumber)
	if err != nil {
		return "", err
	}

	r.log.Info("remediation dispatched",
		"tool", toolName, "target", target, "incident", incidentNumber, "command_id", commandID)
	return fmt.Sprintf("Executed %s on %s: command %s", toolName, target, commandID), nil
}

func (r *Runner) dispatch(ctx context.Context, tool Tool, target, incidentNumber string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"document": tool.Document,
		"target":   target,
		"commands": tool.Commands,
		"incident": incidentNumber,
		"tool":     tool.Name,
	})
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serviceURL+"/commands", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("dispatch %s: %w", tool.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("dispatch %s: status %d", tool.Name, resp.StatusCode)
	}

	var out struct {
		CommandID string `json:"command_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode dispatch response: %w", err)
	}
	return out.CommandID, nil
}

var _ Approvals = (*governance.Store)(nil)
