// Package stormshield detects incident storms: bursts of semantically
// near-identical tickets caused by one underlying outage. Duplicates are
// blocked before they reach the LLM so a monitoring storm cannot burn
// tokens or flood assignment groups.
package stormshield

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maniltns/AEGIS/internal/rag"
	"github.com/maniltns/AEGIS/internal/storage"
)

const (
	// Window is how far back similarity search looks.
	Window = 15 * time.Minute
	// Threshold is the minimum cosine similarity counted as a duplicate.
	Threshold = 0.90
)

// VectorIndex is the similarity backend, implemented by rag.Client.
type VectorIndex interface {
	SearchSimilar(ctx context.Context, query, excludeID string, window time.Duration, threshold float64) ([]rag.Match, error)
	RecordIncident(ctx context.Context, incidentNumber, text string, metadata map[string]string) error
}

// Shield performs duplicate detection over a vector index and keeps a daily
// blocked counter in Redis.
type Shield struct {
	index VectorIndex
	rdb   *redis.Client
	log   *slog.Logger
}

func New(index VectorIndex, rdb *redis.Client, log *slog.Logger) *Shield {
	if log == nil {
		log = slog.Default()
	}
	return &Shield{index: index, rdb: rdb, log: log.With("component", "stormshield")}
}

// CheckDuplicate reports whether scrubbedText duplicates a recent incident,
// and which one. Any index failure fails open: a down similarity service
// must never block ticket intake.
func (s *Shield) CheckDuplicate(ctx context.Context, scrubbedText, selfID string) (bool, string) {
	matches, err := s.index.SearchSimilar(ctx, scrubbedText, selfID, Window, Threshold)
	if err != nil {
		s.log.Error("similarity check failed, failing open", "incident", selfID, "error", err)
		return false, ""
	}
	if len(matches) == 0 {
		return false, ""
	}

	best := matches[0]
	if best.Score < Threshold || best.IncidentNumber == "" {
		return false, ""
	}

	s.log.Info("duplicate detected",
		"incident", selfID, "parent", best.IncidentNumber, "score", best.Score)

	if err := s.rdb.Incr(ctx, storage.DayKey("storm:duplicates", time.Now())).Err(); err != nil {
		s.log.Warn("duplicate counter increment failed", "error", err)
	}
	return true, best.IncidentNumber
}

// Record stores the incident's embedding so later tickets can match it.
// Failure is non-fatal: the ticket still flows, it just cannot be a storm
// parent.
func (s *Shield) Record(ctx context.Context, incidentNumber, text string) {
	err := s.index.RecordIncident(ctx, incidentNumber, text, map[string]string{
		"incident_number": incidentNumber,
		"recorded_at":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.log.Warn("embedding record failed", "incident", incidentNumber, "error", err)
	}
}

// BlockedToday reads the current UTC day's duplicate counter.
func (s *Shield) BlockedToday(ctx context.Context) int64 {
	n, err := s.rdb.Get(ctx, storage.DayKey("storm:duplicates", time.Now())).Int64()
	if err != nil {
		return 0
	}
	return n
}
