package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/document"
)

// CitationFinderAgent extracts a quoted, relevant passage from a document
// in support of a research question.
type CitationFinderAgent struct {
	*Base
}

// NewCitationFinderAgent constructs a CitationFinderAgent.
func NewCitationFinderAgent(cfg Config) *CitationFinderAgent {
	return &CitationFinderAgent{Base: NewBase("citation_agent", cfg)}
}

type citationResponse struct {
	HasRelevantContent bool    `json:"has_relevant_content"`
	Passage            string  `json:"passage"`
	Summary            string  `json:"summary"`
	RelevanceScore     float64 `json:"relevance_score"`
}

// ExtractCitationFromDocument returns a Citation quoting doc in support
// of question, or nil when the model reports no relevant content, or
// when the reported relevance falls below minRelevance. The returned
// Citation's DocumentID always equals doc.ID verbatim; the LLM's output
// is never trusted to supply identifiers.
func (a *CitationFinderAgent) ExtractCitationFromDocument(ctx context.Context, question string, doc document.Document, minRelevance float64) (*Citation, error) {
	prompt := fmt.Sprintf(
		"Research question: %s\n"+
			"Document title: %s\n"+
			"Document abstract: %s\n"+
			"Find a contiguous passage in the abstract that is directly relevant to the question. "+
			"Respond with JSON: {\"has_relevant_content\": true|false, \"passage\": \"<exact quoted text>\", "+
			"\"summary\": \"<short paraphrase>\", \"relevance_score\": <real 0-1>}. "+
			"Set has_relevant_content to false if nothing in the abstract addresses the question.",
		question, doc.Title, doc.Abstract,
	)

	result, err := a.callLLM(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var parsed citationResponse
	if err := a.parseStructured(result.Content, &parsed); err != nil {
		return nil, err
	}

	if !parsed.HasRelevantContent || parsed.RelevanceScore < minRelevance {
		return nil, nil
	}

	return &Citation{
		Passage:         parsed.Passage,
		Summary:         parsed.Summary,
		RelevanceScore:  parsed.RelevanceScore,
		DocumentID:      doc.ID,
		DocumentTitle:   doc.Title,
		Authors:         doc.Authors,
		PublicationDate: doc.PublicationDate,
		PMID:            doc.PMID,
		CreatedAt:       time.Now(),
	}, nil
}
