// Package feedback captures reviewer verdicts on triage decisions. The
// thumbs ratio feeds the approval-percentage stat the portal shows and is
// the raw material for prompt tuning.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maniltns/AEGIS/internal/incident"
)

const (
	keyHistory   = "feedback:history"
	historyLimit = 1000
	recordTTL    = 90 * 24 * time.Hour
)

// ErrNotFound means no feedback exists for the triage ID.
var ErrNotFound = errors.New("feedback not found")

// Record is one reviewer verdict on one triage decision.
type Record struct {
	TriageID        string  `json:"triage_id"`
	Thumbs          string  `json:"thumbs"` // up | down
	Classification  string  `json:"classification,omitempty"`
	AssignmentGroup string  `json:"assignment_group,omitempty"`
	Confidence      float64 `json:"confidence"`
	Reviewer        string  `json:"reviewer,omitempty"`
	Timestamp       string  `json:"timestamp"`
}

// Stats summarizes all recorded feedback.
type Stats struct {
	Positive    int64   `json:"positive"`
	Negative    int64   `json:"negative"`
	Total       int64   `json:"total"`
	ApprovalPct float64 `json:"approval_pct"`
}

// Store keeps feedback records and aggregates in Redis.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Submit validates and stores a verdict, enriching it from the triage
// result when one is still retrievable.
func (s *Store) Submit(ctx context.Context, rec Record, result *incident.PipelineState) error {
	if rec.Thumbs != "up" && rec.Thumbs != "down" {
		return fmt.Errorf("invalid thumbs value %q", rec.Thumbs)
	}
	if rec.TriageID == "" {
		return fmt.Errorf("triage_id required")
	}
	rec.Timestamp = time.Now().UTC().Format(time.RFC3339)

	if result != nil {
		rec.Confidence = result.Confidence
		if result.Classification != nil {
			rec.Classification = result.Classification.Category
			rec.AssignmentGroup = result.Classification.AssignmentGroup
		}
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}

	if err := s.rdb.Set(ctx, "feedback:"+rec.TriageID, payload, recordTTL).Err(); err != nil {
		return fmt.Errorf("store feedback: %w", err)
	}
	if err := s.rdb.LPush(ctx, keyHistory, payload).Err(); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if err := s.rdb.LTrim(ctx, keyHistory, 0, historyLimit-1).Err(); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}

	counter := "feedback:count:positive"
	if rec.Thumbs == "down" {
		counter = "feedback:count:negative"
	}
	return s.rdb.Incr(ctx, counter).Err()
}

// Get returns the stored verdict for one triage ID.
func (s *Store) Get(ctx context.Context, triageID string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, "feedback:"+triageID).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read feedback: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode feedback: %w", err)
	}
	return &rec, nil
}

// GetStats aggregates the thumbs counters.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	pos, err := s.rdb.Get(ctx, "feedback:count:positive").Int64()
	if err != nil && err != redis.Nil {
		return st, fmt.Errorf("read positive counter: %w", err)
	}
	neg, err := s.rdb.Get(ctx, "feedback:count:negative").Int64()
	if err != nil && err != redis.Nil {
		return st, fmt.Errorf("read negative counter: %w", err)
	}

	st.Positive = pos
	st.Negative = neg
	st.Total = pos + neg
	if st.Total > 0 {
		st.ApprovalPct = float64(pos) / float64(st.Total) * 100
	}
	return st, nil
}
