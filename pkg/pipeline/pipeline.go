// Package pipeline composes the specialised agents into the end-to-end
// biomedical literature research workflow and owns the invariants that
// span them: citation/document integrity, reference numbering, and
// paper-checker counter-evidence provenance.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/agent"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/document"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/events"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/llm"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/search"
)

// Config bounds the search budgets and thresholds the controller applies
// across both the research and paper-checker flows.
type Config struct {
	MinRelevant    int
	ScoreThreshold float64
	MaxRetry       int
	BatchSize      int
	MinRelevance   float64
	MinCitations   int

	// HyDEModel names the model used to generate a hypothetical document
	// for the paper-checker's HyDE search strategy. Empty is passed to the
	// gateway unchanged, so the call goes to the gateway's default provider
	// with an empty model name.
	HyDEModel       string
	HyDETemperature float64
}

// Controller composes the specialised agents end-to-end and publishes
// stage-boundary progress events. It holds no state across calls beyond
// its agent references; every method is safe to call concurrently.
type Controller struct {
	cfg Config

	query          *agent.QueryAgent
	scoring        *agent.ScoringAgent
	citation       *agent.CitationFinderAgent
	reporting      *agent.ReportingAgent
	counterfactual *agent.CounterfactualAgent
	verdict        *agent.VerdictAgent
	gateway        *llm.Gateway
	bus            *events.Bus
}

// New constructs a Controller from its constituent agents. gateway is
// used directly only for the paper-checker's HyDE query generation; bus
// may be nil, in which case stage events are simply not published.
func New(
	cfg Config,
	query *agent.QueryAgent,
	scoring *agent.ScoringAgent,
	citation *agent.CitationFinderAgent,
	reporting *agent.ReportingAgent,
	counterfactual *agent.CounterfactualAgent,
	verdict *agent.VerdictAgent,
	gateway *llm.Gateway,
	bus *events.Bus,
) *Controller {
	return &Controller{
		cfg:            cfg,
		query:          query,
		scoring:        scoring,
		citation:       citation,
		reporting:      reporting,
		counterfactual: counterfactual,
		verdict:        verdict,
		gateway:        gateway,
		bus:            bus,
	}
}

// run carries a correlation id shared by every event one Research or
// CheckPaper invocation publishes, so a subscriber on a bus shared by
// many concurrent invocations can group events back into one run.
type run struct {
	ctrl *Controller
	id   string
}

func (c *Controller) newRun() run {
	return run{ctrl: c, id: uuid.NewString()}
}

func (r run) publish(evtType events.Type, stage string, data map[string]any) {
	if r.ctrl.bus == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["stage"] = stage
	data["run_id"] = r.id
	r.ctrl.bus.Publish(events.Event{Type: evtType, Message: stage, Data: data})
}

// Research runs the full research pipeline for question: iterative
// search, relevance scoring, citation extraction, and report synthesis.
// Returns nil when the citation count never reaches cfg.MinCitations.
func (c *Controller) Research(ctx context.Context, question string) (*agent.Report, error) {
	r := c.newRun()

	r.publish(events.StageStart, "search", nil)
	docs, scored, err := c.query.FindAbstractsIterative(
		ctx, question,
		c.cfg.MinRelevant, c.cfg.ScoreThreshold, c.cfg.MaxRetry, c.cfg.BatchSize,
		c.scoring, r.searchProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: search: %w", err)
	}
	r.publish(events.StageEnd, "search", map[string]any{"documents": len(docs), "scored": len(scored)})

	retrieved := retrievedIDs(docs)

	r.publish(events.StageStart, "citation", nil)
	citations, err := c.extractCitations(ctx, question, scored, retrieved)
	if err != nil {
		return nil, err
	}
	r.publish(events.StageEnd, "citation", map[string]any{"citations": len(citations)})

	r.publish(events.StageStart, "reporting", nil)
	report, err := c.reporting.SynthesizeReport(ctx, question, citations, c.cfg.MinCitations)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reporting: %w", err)
	}
	r.publish(events.StageEnd, "reporting", map[string]any{"report_synthesized": report != nil})

	return report, nil
}

func (r run) searchProgress(message string, data map[string]any) {
	r.publish(events.StageEnd, "search.batch", mergeMap(data, map[string]any{"message": message}))
}

// extractCitations runs the CitationFinderAgent over every document that
// cleared the score threshold, then enforces document integrity: a
// Citation whose DocumentID was not actually retrieved this run is a
// fabrication and is rejected rather than silently dropped, since it
// indicates a bug in the agent producing it rather than ordinary
// low-relevance content.
func (c *Controller) extractCitations(ctx context.Context, question string, scored []search.Scored, retrieved map[int64]bool) ([]agent.Citation, error) {
	citations := make([]agent.Citation, 0, len(scored))
	for _, s := range scored {
		if s.Result.Score < c.cfg.ScoreThreshold {
			continue
		}
		citation, err := c.citation.ExtractCitationFromDocument(ctx, question, s.Document, c.cfg.MinRelevance)
		if err != nil {
			return nil, fmt.Errorf("pipeline: citation extraction for document %d: %w", s.Document.ID, err)
		}
		if citation == nil {
			continue
		}
		if !retrieved[citation.DocumentID] {
			return nil, fmt.Errorf("%w: document_id %d", ErrFabricatedCitation, citation.DocumentID)
		}
		citations = append(citations, *citation)
	}
	return citations, nil
}

func retrievedIDs(docs []document.Document) map[int64]bool {
	ids := make(map[int64]bool, len(docs))
	for _, d := range docs {
		ids[d.ID] = true
	}
	return ids
}

func mergeMap(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
