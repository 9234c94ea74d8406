// Package classify turns an enriched, scrubbed incident into a validated
// Classification via one LLM call. The model sees only scrubbed text plus
// enrichment facts; the response must be strict JSON matching the schema or
// the classification fails.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maniltns/AEGIS/internal/incident"
	"github.com/maniltns/AEGIS/internal/llm"
)

const systemPrompt = `You are the AEGIS Triage Specialist for enterprise IT.
Your job is to classify incidents and determine the best resolution path.

INPUTS:
- Incident description (PII-scrubbed)
- Relevant KB articles
- User/CI context

OUTPUTS (JSON only):
{
    "category": "Software|Hardware|Network|Access|Other",
    "subcategory": "specific subcategory",
    "priority": "1|2|3|4|5",
    "assignment_group": "L1-Helpdesk|L2-Network|L2-Apps|L3-Infrastructure",
    "resolution_notes": "Suggested resolution based on KB",
    "action": "route|auto_heal|escalate",
    "tool": null or "restart_iis|clear_cache|unlock_account",
    "target": null or "instance-id or hostname",
    "confidence": 0.0-1.0
}

RULES:
- If KB article provides clear solution, set action="auto_heal" with the appropriate tool.
- If issue requires human judgment, set action="route".
- If P1/P2 with no KB match, set action="escalate".
- For account unlocks, set tool="unlock_account", target=<user_email>.
- For service restarts, set tool="restart_iis", target=<server_instance_id>.
- Always provide confidence score (0.0-1.0).`

// Classifier drives the LLM call and output validation.
type Classifier struct {
	client   llm.Client
	validate *validator.Validate
}

func New(client llm.Client) *Classifier {
	return &Classifier{
		client:   client,
		validate: validator.New(),
	}
}

// Classify builds the prompt from state, calls the model, and parses the
// response. Any transport, parse, or schema failure is returned to the
// caller, which marks the pipeline state failed.
func (c *Classifier) Classify(ctx context.Context, state *incident.PipelineState) (*incident.Classification, error) {
	raw, err := c.client.Complete(ctx, systemPrompt, buildUserMessage(state))
	if err != nil {
		return nil, err
	}
	return c.parse(raw)
}

func buildUserMessage(state *incident.PipelineState) string {
	var kb strings.Builder
	articles := state.KBArticles
	if len(articles) > 3 {
		articles = articles[:3]
	}
	for _, a := range articles {
		fmt.Fprintf(&kb, "- %s: %s\n", a.Title, a.Summary)
	}
	kbContext := strings.TrimRight(kb.String(), "\n")
	if kbContext == "" {
		kbContext = "No relevant KB articles found."
	}

	userContext := ""
	if state.UserInfo != nil {
		userContext = fmt.Sprintf("Caller: %s, VIP: %t, Location: %s",
			state.UserInfo.Name, state.UserInfo.VIP, state.UserInfo.Location)
	}
	ciContext := ""
	if state.CIInfo != nil {
		ciContext = fmt.Sprintf("CI: %s, Class: %s", state.CIInfo.Name, state.CIInfo.Class)
	}

	return fmt.Sprintf(`INCIDENT: %s
SHORT DESCRIPTION: %s
FULL DESCRIPTION: %s

KB ARTICLES:
%s

CONTEXT:
%s
%s
Category: %s
Current Priority: %s

Analyze and provide classification JSON.`,
		state.Number,
		state.ScrubbedShortDescription,
		state.ScrubbedDescription,
		kbContext,
		userContext,
		ciContext,
		state.Category,
		state.Priority,
	)
}

// parse strips optional code fences, decodes, and validates the schema.
func (c *Classifier) parse(raw string) (*incident.Classification, error) {
	content := stripFences(raw)

	var cl incident.Classification
	if err := json.Unmarshal([]byte(content), &cl); err != nil {
		return nil, fmt.Errorf("LLM parse error: %w", err)
	}
	if cl.Action == incident.ActionPendingApproval {
		// pending_approval is an executor decision, the model must not emit it
		return nil, fmt.Errorf("LLM parse error: model emitted reserved action %q", cl.Action)
	}
	if err := c.validate.Struct(cl); err != nil {
		return nil, fmt.Errorf("LLM parse error: %w", err)
	}
	return &cl, nil
}

func stripFences(raw string) string {
	content := strings.TrimSpace(raw)
	if idx := strings.Index(content, "```json"); idx >= 0 {
		content = content[idx+len("```json"):]
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	} else if idx := strings.Index(content, "```"); idx >= 0 {
		content = content[idx+3:]
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	}
	return strings.TrimSpace(content)
}
