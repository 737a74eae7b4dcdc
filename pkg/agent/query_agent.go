package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/document"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/search"
)

// QueryAgent converts natural-language research questions into tsquery
// strings and retrieves matching documents from a caller-supplied
// SearchBackend.
type QueryAgent struct {
	*Base
	backend document.SearchBackend
}

// NewQueryAgent constructs a QueryAgent bound to backend.
func NewQueryAgent(cfg Config, backend document.SearchBackend) *QueryAgent {
	return &QueryAgent{Base: NewBase("query_agent", cfg), backend: backend}
}

type queryTerms struct {
	Terms    []string `json:"terms"`
	Operator string   `json:"operator"`
}

// ConvertQuestion asks the LLM to decompose a natural-language question
// into search terms and a combining operator, then builds a sanitized
// tsquery string from the response. The result is always non-empty for a
// non-empty question; on LLM or parse failure it falls back to a single
// sanitized term built from the whole question.
func (a *QueryAgent) ConvertQuestion(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyQuestion
	}

	prompt := fmt.Sprintf(
		"Convert this research question into full-text search terms.\n"+
			"Question: %s\n"+
			"Respond with JSON: {\"terms\": [\"term1\", \"term2\"], \"operator\": \"AND\"|\"OR\"}.",
		question,
	)

	result, err := a.callLLM(ctx, prompt)
	if err != nil {
		return document.SanitizeTerm(question), nil
	}

	var parsed queryTerms
	if err := a.parseStructured(result.Content, &parsed); err != nil || len(parsed.Terms) == 0 {
		return document.SanitizeTerm(question), nil
	}

	sanitized := make([]string, 0, len(parsed.Terms))
	for _, t := range parsed.Terms {
		if s := document.SanitizeTerm(t); s != "" {
			sanitized = append(sanitized, s)
		}
	}
	if len(sanitized) == 0 {
		return document.SanitizeTerm(question), nil
	}

	op := document.And
	if strings.EqualFold(parsed.Operator, "OR") {
		op = document.Or
	}
	query := document.BuildQuery(op, sanitized...)
	if query == "" {
		return document.SanitizeTerm(question), nil
	}
	return query, nil
}

// FindAbstracts retrieves up to limit documents matching query, starting
// at offset. It is a thin wrapper over the configured SearchBackend.
func (a *QueryAgent) FindAbstracts(query string, offset, limit int) ([]document.Document, error) {
	return a.backend.FindAbstracts(query, limit, offset)
}

// Backend exposes the agent's configured search backend so callers that
// compose it with an IterativeSearchDriver (find_abstracts_iterative)
// can share a single retrieval surface.
func (a *QueryAgent) Backend() document.SearchBackend { return a.backend }

// FindAbstractsIterative runs the two-phase adaptive search algorithm:
// convert question to a tsquery, then grow the result set via offset
// pagination and query broadening until scoringAgent finds at least
// minRelevant documents meeting scoreThreshold, or the retry budgets are
// exhausted. Returns every unique document seen and every scoring result
// produced, regardless of whether the target was met.
func (a *QueryAgent) FindAbstractsIterative(
	ctx context.Context,
	question string,
	minRelevant int,
	scoreThreshold float64,
	maxRetry int,
	batchSize int,
	scoringAgent search.ScoringProvider,
	progress search.ProgressFunc,
) ([]document.Document, []search.Scored, error) {
	initialQuery, err := a.ConvertQuestion(ctx, question)
	if err != nil {
		return nil, nil, err
	}

	driver := search.New(a, scoringAgent)
	return driver.Run(ctx, question, initialQuery, search.Params{
		MinRelevant:    minRelevant,
		ScoreThreshold: scoreThreshold,
		MaxRetry:       maxRetry,
		BatchSize:      batchSize,
	}, progress)
}

var broadeningInstructions = map[int]string{
	1: "Expand the query with synonyms and closely related terms.",
	2: "Drop the least central term to widen the match.",
	3: "Generalise specific named entities to their broader categories.",
}

// GenerateBroaderQuery asks the LLM for a broader variant of originalQuery
// using attempt-number-dependent instructions (synonym expansion, dropping
// the least-central term, generalising specific entities). On any failure
// it falls back to originalQuery unchanged.
func (a *QueryAgent) GenerateBroaderQuery(ctx context.Context, originalQuery, question string, attempt int) (string, error) {
	instruction, ok := broadeningInstructions[attempt]
	if !ok {
		instruction = broadeningInstructions[3]
	}

	prompt := fmt.Sprintf(
		"Original research question: %s\n"+
			"Current search query: %s\n"+
			"Broadening Attempt: %d. %s\n"+
			"Respond with JSON: {\"terms\": [\"term1\", \"term2\"], \"operator\": \"AND\"|\"OR\"}.",
		question, originalQuery, attempt, instruction,
	)

	result, err := a.callLLM(ctx, prompt)
	if err != nil {
		return originalQuery, nil
	}

	var parsed queryTerms
	if err := a.parseStructured(result.Content, &parsed); err != nil || len(parsed.Terms) == 0 {
		return originalQuery, nil
	}

	sanitized := make([]string, 0, len(parsed.Terms))
	for _, t := range parsed.Terms {
		if s := document.SanitizeTerm(t); s != "" {
			sanitized = append(sanitized, s)
		}
	}
	if len(sanitized) == 0 {
		return originalQuery, nil
	}

	op := document.And
	if strings.EqualFold(parsed.Operator, "OR") {
		op = document.Or
	}
	query := document.BuildQuery(op, sanitized...)
	if query == "" {
		return originalQuery, nil
	}
	return query, nil
}
