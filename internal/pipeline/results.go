package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maniltns/AEGIS/internal/incident"
)

const resultTTL = 24 * time.Hour

// ErrResultNotFound means the triage ID is unknown or its result expired.
var ErrResultNotFound = errors.New("triage result not found")

// Results stores terminal pipeline states for API retrieval.
type Results struct {
	rdb *redis.Client
}

func NewResults(rdb *redis.Client) *Results {
	return &Results{rdb: rdb}
}

// Save serializes a terminal state under triage:result:{id} for 24 hours.
func (r *Results) Save(ctx context.Context, state *incident.PipelineState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := r.rdb.Set(ctx, resultKey(state.TriageID), payload, resultTTL).Err(); err != nil {
		return fmt.Errorf("save result %s: %w", state.TriageID, err)
	}
	return nil
}

// Get returns the stored state for a triage ID.
func (r *Results) Get(ctx context.Context, triageID string) (*incident.PipelineState, error) {
	raw, err := r.rdb.Get(ctx, resultKey(triageID)).Bytes()
	if err == redis.Nil {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read result %s: %w", triageID, err)
	}
	var state incident.PipelineState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", triageID, err)
	}
	return &state, nil
}

func resultKey(triageID string) string {
	return "triage:result:" + triageID
}
