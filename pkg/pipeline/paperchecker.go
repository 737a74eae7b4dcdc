package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/agent"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/events"
)

// StatementVerdict bundles one extracted claim, the counter-evidence
// report built against it, the provenance of every document that fed
// that report, and the VerdictAgent's judgement.
type StatementVerdict struct {
	Question    agent.CounterfactualQuestion
	Provenance  []ProvenanceRecord
	CounterRepo *agent.Report
	Verdict     agent.Verdict
}

// PaperCheckResult is the outcome of checking one paper: a verdict for
// each claim extracted from its abstract, plus an aggregated overall
// judgement, a prose summary of how the per-statement verdicts split,
// and an overall confidence bounded by the least-confident statement.
type PaperCheckResult struct {
	SourceTitle       string
	Statements        []StatementVerdict
	OverallVerdict    agent.VerdictChoice
	OverallAssessment string
	OverallConfidence agent.VerdictConfidence
}

// CheckPaper implements the paper-checker flow: extract claims from the
// paper's abstract, generate a counterfactual question per claim, search
// for counter-evidence via all three strategies, deduplicate across
// strategies while recording provenance, cite the surviving documents,
// synthesize a counter-report, and ask the VerdictAgent to weigh it
// against the original statement. Returns nil when no claims are
// extractable.
func (c *Controller) CheckPaper(ctx context.Context, title, abstract string) (*PaperCheckResult, error) {
	r := c.newRun()

	r.publish(events.StageStart, "counterfactual", nil)
	analysis, err := c.counterfactual.AnalyzeDocument(ctx, abstract, title)
	if err != nil {
		return nil, fmt.Errorf("pipeline: counterfactual analysis: %w", err)
	}
	if analysis == nil {
		r.publish(events.StageEnd, "counterfactual", map[string]any{"claims": 0})
		return nil, nil
	}
	r.publish(events.StageEnd, "counterfactual", map[string]any{"claims": len(analysis.Questions)})

	statements := make([]StatementVerdict, 0, len(analysis.Questions))
	for _, q := range analysis.Questions {
		sv, err := c.checkStatement(ctx, r, q)
		if err != nil {
			return nil, err
		}
		statements = append(statements, sv)
	}

	return &PaperCheckResult{
		SourceTitle:       title,
		Statements:        statements,
		OverallVerdict:    aggregateVerdict(statements),
		OverallAssessment: summarizeVerdicts(statements),
		OverallConfidence: lowestConfidence(statements),
	}, nil
}

func (c *Controller) checkStatement(ctx context.Context, r run, q agent.CounterfactualQuestion) (StatementVerdict, error) {
	r.publish(events.StageStart, "counter_search", map[string]any{"question": q.Question})
	docs, provenance, err := c.multiStrategySearch(ctx, q)
	if err != nil {
		return StatementVerdict{}, err
	}
	r.publish(events.StageEnd, "counter_search", map[string]any{"question": q.Question, "documents": len(docs)})

	retrieved := retrievedIDs(docs)

	citations := make([]agent.Citation, 0, len(docs))
	for _, doc := range docs {
		result, err := c.scoring.EvaluateDocument(ctx, q.Question, doc)
		if err != nil {
			continue
		}
		if result.Score < c.cfg.ScoreThreshold {
			continue
		}
		citation, err := c.citation.ExtractCitationFromDocument(ctx, q.Question, doc, c.cfg.MinRelevance)
		if err != nil {
			return StatementVerdict{}, fmt.Errorf("pipeline: counter-citation for document %d: %w", doc.ID, err)
		}
		if citation == nil {
			continue
		}
		if !retrieved[citation.DocumentID] {
			return StatementVerdict{}, fmt.Errorf("%w: document_id %d", ErrFabricatedCitation, citation.DocumentID)
		}
		citations = append(citations, *citation)
	}

	counterReport, err := c.reporting.SynthesizeReport(ctx, q.Question, citations, c.cfg.MinCitations)
	if err != nil {
		return StatementVerdict{}, fmt.Errorf("pipeline: counter-report synthesis: %w", err)
	}

	counterText := "No counter-evidence met the citation threshold."
	if counterReport != nil {
		counterText = counterReport.SynthesizedAnswer
	}

	verdict, err := c.verdict.Analyze(ctx, q.Question, counterText)
	if err != nil {
		return StatementVerdict{}, fmt.Errorf("pipeline: verdict: %w", err)
	}

	provList := make([]ProvenanceRecord, 0, len(provenance))
	for _, id := range sortedKeys(provenance) {
		provList = append(provList, *provenance[id])
	}

	return StatementVerdict{
		Question:    q,
		Provenance:  provList,
		CounterRepo: counterReport,
		Verdict:     verdict,
	}, nil
}

func sortedKeys(m map[int64]*ProvenanceRecord) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// aggregateVerdict combines per-statement verdicts into one overall
// judgement: any confirmed contradiction (high or medium confidence)
// outweighs support, since refuting even one central claim undermines
// the paper; otherwise the majority choice wins; ties resolve to
// undecided.
func aggregateVerdict(statements []StatementVerdict) agent.VerdictChoice {
	if len(statements) == 0 {
		return agent.VerdictUndecided
	}

	counts := map[agent.VerdictChoice]int{}
	for _, s := range statements {
		counts[s.Verdict.Choice]++
		if s.Verdict.Choice == agent.VerdictContradicts &&
			(s.Verdict.Confidence == agent.ConfidenceHigh || s.Verdict.Confidence == agent.ConfidenceMedium) {
			return agent.VerdictContradicts
		}
	}

	best := agent.VerdictUndecided
	bestCount := 0
	tie := false
	for choice, n := range counts {
		switch {
		case n > bestCount:
			best, bestCount, tie = choice, n, false
		case n == bestCount:
			tie = true
		}
	}
	if tie {
		return agent.VerdictUndecided
	}
	return best
}

// summarizeVerdicts renders the per-statement verdict split as prose,
// e.g. "2 of 3 statements contradict the source; 1 of 3 statements
// supports the source." Order
// is fixed (contradicts, supports, undecided) so the wording is
// deterministic regardless of statement order.
func summarizeVerdicts(statements []StatementVerdict) string {
	if len(statements) == 0 {
		return "No statements were extracted from the source."
	}

	counts := map[agent.VerdictChoice]int{}
	for _, s := range statements {
		counts[s.Verdict.Choice]++
	}

	total := len(statements)
	var clauses []string
	for _, choice := range []agent.VerdictChoice{agent.VerdictContradicts, agent.VerdictSupports, agent.VerdictUndecided} {
		n, ok := counts[choice]
		if !ok {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%d of %d statements %s the source", n, total, verdictVerb(choice, n)))
	}
	return strings.Join(clauses, "; ") + "."
}

// verdictVerb renders a VerdictChoice as the verb its summarizeVerdicts
// clause takes, agreeing in number with n.
func verdictVerb(choice agent.VerdictChoice, n int) string {
	switch choice {
	case agent.VerdictContradicts:
		if n == 1 {
			return "contradicts"
		}
		return "contradict"
	case agent.VerdictSupports:
		if n == 1 {
			return "supports"
		}
		return "support"
	default:
		if n == 1 {
			return "leaves undecided about"
		}
		return "leave undecided about"
	}
}

// confidenceRank orders VerdictConfidence from least to most confident,
// so lowestConfidence can take a min() over a statement set.
var confidenceRank = map[agent.VerdictConfidence]int{
	agent.ConfidenceLow:    0,
	agent.ConfidenceMedium: 1,
	agent.ConfidenceHigh:   2,
}

// lowestConfidence returns the least confident of the per-statement
// verdicts: the overall assessment can never be more confident than its
// weakest-supported input.
func lowestConfidence(statements []StatementVerdict) agent.VerdictConfidence {
	if len(statements) == 0 {
		return agent.ConfidenceLow
	}
	lowest := agent.ConfidenceHigh
	for _, s := range statements {
		if confidenceRank[s.Verdict.Confidence] < confidenceRank[lowest] {
			lowest = s.Verdict.Confidence
		}
	}
	return lowest
}
