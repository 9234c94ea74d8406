// Package backsync feeds the vector index from the ticketing system:
// closed incidents become searchable ticket history and published knowledge
// articles refresh the KB collection. It runs weekly, Sunday 02:00 UTC.
package backsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maniltns/AEGIS/internal/rag"
	"github.com/maniltns/AEGIS/internal/servicenow"
)

const lookbackDays = 7

// Syncer pulls from ServiceNow and pushes into the index.
type Syncer struct {
	snow *servicenow.Client
	rag  *rag.Client
	log  *slog.Logger
}

func New(snow *servicenow.Client, ragClient *rag.Client, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{snow: snow, rag: ragClient, log: log.With("component", "backsync")}
}

// Run performs one full sync pass. Per-document ingest failures are logged
// and skipped; only a wholesale fetch failure aborts.
func (s *Syncer) Run(ctx context.Context) error {
	if !s.snow.Configured() {
		s.log.Warn("ServiceNow credentials not set, skipping sync")
		return nil
	}

	incidents, err := s.snow.ClosedIncidents(ctx, lookbackDays)
	if err != nil {
		return fmt.Errorf("fetch closed incidents: %w", err)
	}
	s.log.Info("fetched closed incidents", "count", len(incidents))

	ingested := 0
	for _, inc := range incidents {
		doc := rag.Document{
			DocumentID: inc.Number,
			Type:       "ticket",
			Title:      inc.ShortDescription,
			Content:    fmt.Sprintf("Description:\n%s\n\nResolution:\n%s", inc.Description, inc.CloseNotes),
			Metadata: map[string]string{
				"incident_number": inc.Number,
				"closed_at":       inc.ClosedAt,
				"resolution_code": inc.ResolutionCode,
			},
		}
		if err := s.rag.Ingest(ctx, doc); err != nil {
			s.log.Error("ticket ingest failed", "incident", inc.Number, "error", err)
			continue
		}
		ingested++
	}
	s.log.Info("ticket ingest complete", "ingested", ingested, "total", len(incidents))

	articles, err := s.snow.PublishedKB(ctx, lookbackDays)
	if err != nil {
		return fmt.Errorf("fetch kb articles: %w", err)
	}
	s.log.Info("fetched published KB articles", "count", len(articles))

	ingested = 0
	for _, a := range articles {
		doc := rag.Document{
			DocumentID: a.Number,
			Type:       "kb",
			Title:      a.ShortDescription,
			Content:    a.Text,
			Metadata: map[string]string{
				"kb_number":  a.Number,
				"category":   a.Category,
				"topic":      a.Topic,
				"updated_on": a.UpdatedOn,
			},
		}
		if err := s.rag.Ingest(ctx, doc); err != nil {
			s.log.Error("kb ingest failed", "article", a.Number, "error", err)
			continue
		}
		ingested++
	}
	s.log.Info("kb ingest complete", "ingested", ingested, "total", len(articles))
	return nil
}

// NextRun returns the next Sunday 02:00 UTC strictly after now.
func NextRun(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 2, 0, 0, 0, time.UTC)
	for !next.After(now) || next.Weekday() != time.Sunday {
		next = next.AddDate(0, 0, 1)
		next = time.Date(next.Year(), next.Month(), next.Day(), 2, 0, 0, 0, time.UTC)
	}
	return next
}

// Schedule blocks, running a sync at every weekly boundary until ctx ends.
func (s *Syncer) Schedule(ctx context.Context) {
	for {
		next := NextRun(time.Now())
		s.log.Info("next sync scheduled", "at", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			s.log.Info("⏰ starting scheduled sync")
			if err := s.Run(ctx); err != nil {
				s.log.Error("sync failed", "error", err)
			} else {
				s.log.Info("✅ sync completed")
			}
		}
	}
}
