// Package teams posts MessageCard notifications to a Microsoft Teams
// incoming webhook: triage results with feedback links, approval requests,
// and plain alerts. An unset webhook URL disables delivery quietly.
package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/maniltns/AEGIS/internal/incident"
)

// Card is the MessageCard wire shape the webhook accepts.
type Card struct {
	Type       string    `json:"@type"`
	Context    string    `json:"@context"`
	ThemeColor string    `json:"themeColor"`
	Summary    string    `json:"summary"`
	Sections   []Section `json:"sections"`
	Actions    []Action  `json:"potentialAction,omitempty"`
}

type Section struct {
	ActivityTitle    string `json:"activityTitle"`
	ActivitySubtitle string `json:"activitySubtitle,omitempty"`
	Facts            []Fact `json:"facts,omitempty"`
	Text             string `json:"text,omitempty"`
	Markdown         bool   `json:"markdown"`
}

type Fact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Action is an OpenUri button pair on a card.
type Action struct {
	Type    string   `json:"@type"`
	Name    string   `json:"name"`
	Targets []Target `json:"targets"`
}

type Target struct {
	OS  string `json:"os"`
	URI string `json:"uri"`
}

var priorityColors = map[string]string{
	"1": "D32F2F",
	"2": "FF9800",
	"3": "FFC107",
	"4": "4CAF50",
	"5": "9E9E9E",
}

// Client delivers cards to one webhook URL.
type Client struct {
	webhookURL string
	// baseURL of the AEGIS API, used to build feedback links.
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(webhookURL, apiBaseURL string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		webhookURL: webhookURL,
		baseURL:    apiBaseURL,
		http:       &http.Client{Timeout: 10 * time.Second},
		log:        log.With("component", "teams"),
	}
}

// Configured reports whether a webhook URL was supplied.
func (c *Client) Configured() bool { return c.webhookURL != "" }

// SendTriageCard posts the classification summary with thumbs-up/down
// feedback links bound to the triage ID.
func (c *Client) SendTriageCard(ctx context.Context, triageID string, inc incident.Incident, cl incident.Classification) error {
	confidencePct := int(cl.Confidence * 100)
	indicator := "🔴"
	if confidencePct >= 85 {
		indicator = "🟢"
	} else if confidencePct >= 70 {
		indicator = "🟡"
	}

	color, ok := priorityColors[cl.Priority]
	if !ok {
		color = "0078D7"
	}

	card := Card{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: color,
		Summary:    "AI Triage: " + inc.Number,
		Sections: []Section{
			{
				ActivityTitle:    "🧠 AI Triage Complete: " + inc.Number,
				ActivitySubtitle: fmt.Sprintf("Priority %s | %s", cl.Priority, cl.Category),
				Facts: []Fact{
					{Name: "Classification", Value: cl.Category},
					{Name: "Priority", Value: "P" + cl.Priority},
					{Name: "Confidence", Value: fmt.Sprintf("%s %d%%", indicator, confidencePct)},
					{Name: "Recommended Group", Value: cl.AssignmentGroup},
					{Name: "Triaged At", Value: time.Now().UTC().Format("2006-01-02 15:04 UTC")},
				},
				Markdown: true,
			},
			{
				ActivityTitle: "📋 AI Reasoning",
				Text:          cl.ResolutionNotes,
				Markdown:      true,
			},
		},
		Actions: []Action{
			{
				Type: "OpenUri", Name: "👍 Correct",
				Targets: []Target{{OS: "default", URI: c.feedbackURL(triageID, "up")}},
			},
			{
				Type: "OpenUri", Name: "👎 Wrong",
				Targets: []Target{{OS: "default", URI: c.feedbackURL(triageID, "down")}},
			},
		},
	}
	return c.send(ctx, card)
}

// SendApprovalRequest posts the hold-for-human card for assist-mode
// remediations.
func (c *Client) SendApprovalRequest(ctx context.Context, incidentNumber, action, details, riskLevel string) error {
	colors := map[string]string{"low": "4CAF50", "medium": "FFC107", "high": "D32F2F"}
	color, ok := colors[riskLevel]
	if !ok {
		color = "FFC107"
	}

	card := Card{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: color,
		Summary:    "Approval Required: " + incidentNumber,
		Sections: []Section{{
			ActivityTitle:    "⚠️ APPROVAL REQUIRED: " + action,
			ActivitySubtitle: "Incident: " + incidentNumber,
			Facts: []Fact{
				{Name: "Action", Value: action},
				{Name: "Risk Level", Value: riskLevel},
				{Name: "Requested At", Value: time.Now().UTC().Format("2006-01-02 15:04 UTC")},
			},
			Text:     details,
			Markdown: true,
		}},
	}
	return c.send(ctx, card)
}

// SendNotification posts a plain info/warning/critical card.
func (c *Client) SendNotification(ctx context.Context, title, message, severity, incidentNumber string) error {
	colors := map[string]string{"info": "0078D7", "warning": "FFC107", "critical": "D32F2F"}
	color, ok := colors[severity]
	if !ok {
		color = "0078D7"
	}

	facts := []Fact{
		{Name: "Severity", Value: severity},
		{Name: "Time", Value: time.Now().UTC().Format("2006-01-02 15:04 UTC")},
	}
	if incidentNumber != "" {
		facts = append(facts, Fact{Name: "Incident", Value: incidentNumber})
	}

	card := Card{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: color,
		Summary:    title,
		Sections: []Section{{
			ActivityTitle: "🛡️ AEGIS: " + title,
			Facts:         facts,
			Text:          message,
			Markdown:      true,
		}},
	}
	return c.send(ctx, card)
}

func (c *Client) feedbackURL(triageID, thumbs string) string {
	return fmt.Sprintf("%s/feedback/%s?thumbs=%s", c.baseURL, triageID, thumbs)
}

func (c *Client) send(ctx context.Context, card Card) error {
	if c.webhookURL == "" {
		c.log.Debug("webhook not configured, dropping card", "summary", card.Summary)
		return nil
	}

	payload, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post card: status %d", resp.StatusCode)
	}
	return nil
}
