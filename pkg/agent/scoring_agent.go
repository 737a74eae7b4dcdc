package agent

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/document"
)

// ScoringAgent evaluates how relevant a document is to a research
// question, returning an integer-valued score in [1,5] with a one
// sentence justification.
type ScoringAgent struct {
	*Base
}

// NewScoringAgent constructs a ScoringAgent.
func NewScoringAgent(cfg Config) *ScoringAgent {
	return &ScoringAgent{Base: NewBase("scoring_agent", cfg)}
}

type scoringResponse struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// EvaluateDocument scores doc's relevance to question. Missing fields on
// doc (empty abstract, empty title) are tolerated; the agent scores
// whatever text is available and never fails solely because a field is
// absent.
func (a *ScoringAgent) EvaluateDocument(ctx context.Context, question string, doc document.Document) (document.ScoringResult, error) {
	abstract := doc.Abstract
	if strings.TrimSpace(abstract) == "" {
		abstract = "(no abstract available)"
	}
	title := doc.Title
	if strings.TrimSpace(title) == "" {
		title = "(untitled)"
	}

	prompt := fmt.Sprintf(
		"Research question: %s\n"+
			"Document title: %s\n"+
			"Document abstract: %s\n"+
			"Score this document's relevance to the question on an integer scale of 1 to 5 "+
			"(1 = irrelevant, 5 = highly relevant). Respond with JSON: "+
			"{\"score\": <integer 1-5>, \"reasoning\": \"<one sentence>\"}.",
		question, title, abstract,
	)

	result, err := a.callLLM(ctx, prompt)
	if err != nil {
		return document.ScoringResult{}, err
	}

	var parsed scoringResponse
	if err := a.parseStructured(result.Content, &parsed); err != nil {
		return document.ScoringResult{}, err
	}

	score := math.Round(parsed.Score)
	if score < 1 {
		score = 1
	} else if score > 5 {
		score = 5
	}

	return document.ScoringResult{
		DocumentID: doc.ID,
		Score:      score,
		Reasoning:  parsed.Reasoning,
	}, nil
}
