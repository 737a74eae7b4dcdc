package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/document"
)

// CounterfactualAgent extracts a document or report's main claims and
// produces challenging counterfactual questions with retrieval keywords.
type CounterfactualAgent struct {
	*Base
}

// NewCounterfactualAgent constructs a CounterfactualAgent.
func NewCounterfactualAgent(cfg Config) *CounterfactualAgent {
	return &CounterfactualAgent{Base: NewBase("counterfactual_agent", cfg)}
}

type counterfactualQuestionResponse struct {
	Question string   `json:"question"`
	Priority string   `json:"priority"`
	Keywords []string `json:"keywords"`
	Operator string   `json:"operator"`
}

type counterfactualResponse struct {
	Questions []counterfactualQuestionResponse `json:"questions"`
}

// AnalyzeDocument extracts main claims from content and returns a list of
// CounterfactualQuestions, each prioritised and paired with a tsquery
// string suitable for the retrieval backend. Returns nil when the model
// reports no extractable claims.
func (a *CounterfactualAgent) AnalyzeDocument(ctx context.Context, content, title string) (*CounterfactualAnalysis, error) {
	prompt := fmt.Sprintf(
		"Title: %s\nContent: %s\n\n"+
			"Identify the main claims in this content and, for each, produce a counterfactual "+
			"question that would challenge it along with full-text search keywords to find "+
			"counter-evidence. Respond with JSON: {\"questions\": [{\"question\": \"...\", "+
			"\"priority\": \"HIGH\"|\"MEDIUM\"|\"LOW\", \"keywords\": [\"term1\", \"term2\"], "+
			"\"operator\": \"AND\"|\"OR\"}]}.",
		title, content,
	)

	result, err := a.callLLM(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var parsed counterfactualResponse
	if err := a.parseStructured(result.Content, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Questions) == 0 {
		return nil, nil
	}

	questions := make([]CounterfactualQuestion, 0, len(parsed.Questions))
	for _, q := range parsed.Questions {
		sanitized := make([]string, 0, len(q.Keywords))
		for _, k := range q.Keywords {
			if s := document.SanitizeTerm(k); s != "" {
				sanitized = append(sanitized, s)
			}
		}
		op := document.And
		if strings.EqualFold(q.Operator, "OR") {
			op = document.Or
		}

		questions = append(questions, CounterfactualQuestion{
			Question: q.Question,
			Priority: normalizePriority(q.Priority),
			Keywords: document.BuildQuery(op, sanitized...),
		})
	}

	return &CounterfactualAnalysis{SourceTitle: title, Questions: questions}, nil
}

func normalizePriority(p string) Priority {
	switch strings.ToUpper(strings.TrimSpace(p)) {
	case string(PriorityHigh):
		return PriorityHigh
	case string(PriorityLow):
		return PriorityLow
	default:
		return PriorityMedium
	}
}
