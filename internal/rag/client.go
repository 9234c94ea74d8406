// Package rag is the HTTP client for the vector-index service: incident
// similarity search for Storm Shield, KB retrieval for enrichment, and
// document ingestion for the weekly back-sync.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/maniltns/AEGIS/internal/circuitbreaker"
	"github.com/maniltns/AEGIS/internal/incident"
)

// Match is one similarity hit from the incidents collection.
type Match struct {
	IncidentNumber string  `json:"incident_number"`
	Score          float64 `json:"score"`
}

// Document is one unit of ingestion. Type is kb, ticket, or sop.
type Document struct {
	DocumentID string            `json:"document_id"`
	Type       string            `json:"document_type"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Client talks to the vector-index service over its REST surface. All
// outbound calls run under a circuit breaker.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig("rag")),
	}
}

// SearchSimilar finds recent incidents semantically close to query,
// excluding excludeID, within the given window. Best match first.
func (c *Client) SearchSimilar(ctx context.Context, query, excludeID string, window time.Duration, threshold float64) ([]Match, error) {
	req := map[string]any{
		"query":               query,
		"collection":          "incidents",
		"time_window_minutes": int(window.Minutes()),
		"threshold":           threshold,
		"exclude_id":          excludeID,
		"limit":               1,
	}
	var resp struct {
		Matches []Match `json:"matches"`
	}
	if err := c.post(ctx, "/search/similar", req, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// RecordIncident upserts an incident embedding so later tickets can match
// against it. The index service owns the 90-day expiry.
func (c *Client) RecordIncident(ctx context.Context, incidentNumber, text string, metadata map[string]string) error {
	req := map[string]any{
		"incident_number": incidentNumber,
		"text":            text,
		"metadata":        metadata,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}
	return c.post(ctx, "/embed/incident", req, nil)
}

// SearchKB returns up to topK knowledge-base articles for the query,
// best first.
func (c *Client) SearchKB(ctx context.Context, query string, topK int) ([]incident.KBArticle, error) {
	req := map[string]any{
		"query":      query,
		"collection": "kb_articles",
		"top_k":      topK,
	}
	var resp struct {
		Results []struct {
			Title    string            `json:"title"`
			Summary  string            `json:"summary"`
			Score    float64           `json:"score"`
			Metadata map[string]string `json:"metadata"`
		} `json:"results"`
	}
	if err := c.post(ctx, "/search", req, &resp); err != nil {
		return nil, err
	}

	articles := make([]incident.KBArticle, 0, len(resp.Results))
	for _, r := range resp.Results {
		articles = append(articles, incident.KBArticle{
			Number:  r.Metadata["document_id"],
			Title:   r.Title,
			Summary: r.Summary,
			Score:   r.Score,
		})
	}
	return articles, nil
}

// Ingest adds one document to the index.
func (c *Client) Ingest(ctx context.Context, doc Document) error {
	return c.post(ctx, "/api/v1/ingest", doc, nil)
}

// Healthy probes the index service health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return c.breaker.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("POST %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("POST %s: status %d", path, resp.StatusCode)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	})
}
