package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/agent"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/document"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/llm"
)

// Search strategy names recorded in ProvenanceRecord.Strategies.
const (
	StrategySemantic = "semantic"
	StrategyHyDE     = "hyde"
	StrategyKeyword  = "keyword"
)

// ProvenanceRecord tracks which counter-evidence search strategies
// surfaced a given document, and which one found it first. A document
// found by more than one strategy corroborates its own relevance.
type ProvenanceRecord struct {
	DocumentID        int64
	Strategies        []string
	FirstSeenStrategy string
}

func (r *ProvenanceRecord) seenVia(strategy string) {
	for _, s := range r.Strategies {
		if s == strategy {
			return
		}
	}
	r.Strategies = append(r.Strategies, strategy)
}

// strategyResult is one search strategy's surviving documents, collected
// independently so the concurrent fan-out below never touches a shared
// map from more than one goroutine.
type strategyResult struct {
	strategy string
	docs     []document.Document
}

// multiStrategySearch runs the semantic, HyDE, and keyword strategies for
// one counterfactual question concurrently, deduplicates the results by
// document_id, and returns the unique documents alongside a provenance
// record per document. Results are returned in a deterministic order (by
// document_id) so callers and tests do not depend on strategy
// scheduling.
func (c *Controller) multiStrategySearch(ctx context.Context, q agent.CounterfactualQuestion) ([]document.Document, map[int64]*ProvenanceRecord, error) {
	backend := c.query.Backend()
	results := make([]strategyResult, 3)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		docs, err := backend.FindAbstracts(q.Keywords, c.cfg.BatchSize, 0)
		if err != nil {
			return fmt.Errorf("pipeline: keyword search: %w", err)
		}
		results[0] = strategyResult{strategy: StrategyKeyword, docs: docs}
		return nil
	})

	g.Go(func() error {
		_, scored, err := c.query.FindAbstractsIterative(
			gctx, q.Question,
			c.cfg.MinRelevant, c.cfg.ScoreThreshold, c.cfg.MaxRetry, c.cfg.BatchSize,
			c.scoring, nil,
		)
		if err != nil {
			return fmt.Errorf("pipeline: semantic search: %w", err)
		}
		docs := make([]document.Document, len(scored))
		for i, s := range scored {
			docs[i] = s.Document
		}
		results[1] = strategyResult{strategy: StrategySemantic, docs: docs}
		return nil
	})

	g.Go(func() error {
		hydeQuery, err := c.generateHyDEQuery(gctx, q.Question)
		if err != nil {
			return fmt.Errorf("pipeline: hyde query generation: %w", err)
		}
		if hydeQuery == "" {
			return nil
		}
		docs, err := backend.FindAbstracts(hydeQuery, c.cfg.BatchSize, 0)
		if err != nil {
			return fmt.Errorf("pipeline: hyde search: %w", err)
		}
		results[2] = strategyResult{strategy: StrategyHyDE, docs: docs}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	provenance := make(map[int64]*ProvenanceRecord)
	docByID := make(map[int64]document.Document)
	for _, r := range results {
		for _, d := range r.docs {
			docByID[d.ID] = d
			rec, ok := provenance[d.ID]
			if !ok {
				provenance[d.ID] = &ProvenanceRecord{
					DocumentID:        d.ID,
					Strategies:        []string{r.strategy},
					FirstSeenStrategy: r.strategy,
				}
				continue
			}
			rec.seenVia(r.strategy)
		}
	}

	ids := make([]int64, 0, len(docByID))
	for id := range docByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	docs := make([]document.Document, len(ids))
	for i, id := range ids {
		docs[i] = docByID[id]
	}
	return docs, provenance, nil
}

// generateHyDEQuery implements the hypothetical-document-embedding
// strategy: it asks the model to write a short hypothetical abstract
// that would answer question, then derives a tsquery from the salient
// terms in that hypothetical text. Returns "" (not an error) when the
// model call fails or yields no usable terms, so HyDE is best-effort and
// never blocks the other two strategies.
func (c *Controller) generateHyDEQuery(ctx context.Context, question string) (string, error) {
	if c.gateway == nil {
		return "", nil
	}

	prompt := fmt.Sprintf(
		"Write a short hypothetical abstract (3-4 sentences) for a biomedical "+
			"research paper that would directly answer this question, as if such "+
			"a paper existed: %s",
		question,
	)

	model := c.cfg.HyDEModel
	resp, err := c.gateway.Generate(ctx, prompt, model, llm.Params{
		Temperature: c.cfg.HyDETemperature,
		MaxTokens:   256,
	})
	if err != nil {
		return "", nil
	}

	terms := salientTerms(resp.Content, 8)
	if len(terms) == 0 {
		return "", nil
	}
	return document.BuildQuery(document.Or, terms...), nil
}

// salientTerms extracts up to max distinct, sanitized, length>3 words
// from text, preserving first-occurrence order.
func salientTerms(text string, max int) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,;:()\"'")
		if len(word) <= 3 {
			continue
		}
		sanitized := document.SanitizeTerm(word)
		if sanitized == "" || seen[sanitized] {
			continue
		}
		seen[sanitized] = true
		terms = append(terms, sanitized)
		if len(terms) >= max {
			break
		}
	}
	return terms
}
