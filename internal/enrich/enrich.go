// Package enrich gathers classification context in parallel: KB articles
// from the vector index, the caller record, and the CMDB entry. Every
// lookup failure is absorbed; enrichment degrades to whatever arrived in
// time and the pipeline continues.
package enrich

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maniltns/AEGIS/internal/incident"
)

const (
	stageBudget = 10 * time.Second
	kbTopK      = 3
)

// KBSearcher returns knowledge articles relevant to a query, best first.
type KBSearcher interface {
	SearchKB(ctx context.Context, query string, topK int) ([]incident.KBArticle, error)
}

// Directory looks up callers and configuration items in the ITSM instance.
type Directory interface {
	GetUser(ctx context.Context, emailOrID string) (*incident.UserInfo, error)
	GetCI(ctx context.Context, ciName string) (*incident.CIInfo, error)
}

// Enricher fans the three lookups out under one stage deadline.
type Enricher struct {
	kb  KBSearcher
	dir Directory
	log *slog.Logger
}

func New(kb KBSearcher, dir Directory, log *slog.Logger) *Enricher {
	if log == nil {
		log = slog.Default()
	}
	return &Enricher{kb: kb, dir: dir, log: log.With("component", "enrich")}
}

// Enrich fills KBArticles, UserInfo, and CIInfo on the state. User and CI
// lookups run only when the job carries the corresponding key. Always
// returns nil: a fully failed enrichment just means empty context.
func (e *Enricher) Enrich(ctx context.Context, state *incident.PipelineState) error {
	ctx, cancel := context.WithTimeout(ctx, stageBudget)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		articles, err := e.kb.SearchKB(ctx, state.ScrubbedShortDescription, kbTopK)
		if err != nil {
			e.log.Warn("kb search failed", "incident", state.Number, "error", err)
			return nil
		}
		state.KBArticles = articles
		return nil
	})

	if state.CallerID != "" {
		g.Go(func() error {
			user, err := e.dir.GetUser(ctx, state.CallerID)
			if err != nil {
				e.log.Warn("user lookup failed", "incident", state.Number, "error", err)
				return nil
			}
			state.UserInfo = user
			return nil
		})
	}

	if state.CmdbCI != "" {
		g.Go(func() error {
			ci, err := e.dir.GetCI(ctx, state.CmdbCI)
			if err != nil {
				e.log.Warn("ci lookup failed", "incident", state.Number, "error", err)
				return nil
			}
			state.CIInfo = ci
			return nil
		})
	}

	g.Wait()
	state.Record("Enriched with KB/User/CI context")
	return nil
}
