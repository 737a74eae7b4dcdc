// Package search implements the IterativeSearchDriver: a two-phase,
// budget-bounded search that grows a result set until it meets a minimum
// relevant-document count or its retry budgets are exhausted.
package search

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/document"
	"golang.org/x/sync/errgroup"
)

// ErrNilScoringAgent is returned when Run is called without a scoring
// agent; the driver never queries the backend without one.
var ErrNilScoringAgent = errors.New("search: scoring agent must not be nil")

// QueryProvider is the subset of QueryAgent the driver depends on.
type QueryProvider interface {
	FindAbstracts(query string, offset, limit int) ([]document.Document, error)
	GenerateBroaderQuery(ctx context.Context, originalQuery, question string, attempt int) (string, error)
}

// ScoringProvider is the subset of ScoringAgent the driver depends on.
type ScoringProvider interface {
	EvaluateDocument(ctx context.Context, question string, doc document.Document) (document.ScoringResult, error)
}

// ProgressFunc receives a human-readable update at every batch boundary.
type ProgressFunc func(message string, data map[string]any)

// Params configures one Run invocation.
type Params struct {
	MinRelevant   int
	ScoreThreshold float64
	MaxRetry      int
	BatchSize     int
}

// Scored pairs a document with its scoring result.
type Scored struct {
	Document document.Document
	Result   document.ScoringResult
}

// Driver implements the two-phase adaptive search algorithm: offset
// pagination over the original query, then query broadening, each
// bounded by MaxRetry iterations.
type Driver struct {
	query   QueryProvider
	scoring ScoringProvider
	log     *slog.Logger
}

// New constructs a Driver. scoring must not be nil; Run validates this
// explicitly rather than letting a nil dereference surface deep inside
// the loop.
func New(query QueryProvider, scoring ScoringProvider) *Driver {
	return &Driver{query: query, scoring: scoring, log: slog.With("component", "search.driver")}
}

// Run executes the two-phase search for question, starting from
// initialQuery (typically QueryAgent.ConvertQuestion's output). It
// returns every unique document seen across both phases and every
// scoring result produced, regardless of whether MinRelevant was met.
func (d *Driver) Run(ctx context.Context, question, initialQuery string, params Params, progress ProgressFunc) ([]document.Document, []Scored, error) {
	if d.scoring == nil {
		return nil, nil, ErrNilScoringAgent
	}

	notify := func(message string, data map[string]any) {
		if progress == nil {
			return
		}
		defer func() { _ = recover() }()
		progress(message, data)
	}

	seen := make(map[int64]bool)
	var allDocs []document.Document
	var scored []Scored
	qualifying := 0

	scoreBatch := func(batch []document.Document) error {
		unseen := make([]document.Document, 0, len(batch))
		for _, doc := range batch {
			if seen[doc.ID] {
				continue
			}
			seen[doc.ID] = true
			unseen = append(unseen, doc)
			allDocs = append(allDocs, doc)
		}

		results := make([]*document.ScoringResult, len(unseen))
		g, gctx := errgroup.WithContext(ctx)
		for i, doc := range unseen {
			i, doc := i, doc
			g.Go(func() error {
				result, err := d.scoring.EvaluateDocument(gctx, question, doc)
				if err != nil {
					d.log.Warn("scoring failed", "document_id", doc.ID, "error", err)
					return nil
				}
				results[i] = &result
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for i, result := range results {
			if result == nil {
				continue
			}
			scored = append(scored, Scored{Document: unseen[i], Result: *result})
			if result.Score >= params.ScoreThreshold {
				qualifying++
			}
		}
		return nil
	}

	// Phase 1: offset pagination on the original query.
	offset := 0
	for attempt := 0; attempt < params.MaxRetry && qualifying < params.MinRelevant; attempt++ {
		batch, err := d.query.FindAbstracts(initialQuery, offset, params.BatchSize)
		if err != nil {
			return allDocs, scored, err
		}
		offset += params.BatchSize

		notify("batch fetched", map[string]any{"phase": 1, "attempt": attempt, "batch_size": len(batch)})
		if err := scoreBatch(batch); err != nil {
			return allDocs, scored, err
		}
		notify("batch scored", map[string]any{"phase": 1, "qualifying": qualifying})

		if len(batch) == 0 {
			break
		}
	}

	// Phase 2: query broadening.
	currentQuery := initialQuery
	for attempt := 1; attempt <= params.MaxRetry && qualifying < params.MinRelevant; attempt++ {
		broader, err := d.query.GenerateBroaderQuery(ctx, currentQuery, question, attempt)
		if err != nil {
			return allDocs, scored, err
		}
		currentQuery = broader

		batch, err := d.query.FindAbstracts(currentQuery, 0, params.BatchSize*2)
		if err != nil {
			return allDocs, scored, err
		}

		notify("batch fetched", map[string]any{"phase": 2, "attempt": attempt, "batch_size": len(batch)})
		if err := scoreBatch(batch); err != nil {
			return allDocs, scored, err
		}
		notify("batch scored", map[string]any{"phase": 2, "qualifying": qualifying})
	}

	if qualifying >= params.MinRelevant {
		notify("search complete: target met", map[string]any{"qualifying": qualifying})
	} else {
		notify("search complete: target not met", map[string]any{"qualifying": qualifying})
	}

	return allDocs, scored, nil
}
