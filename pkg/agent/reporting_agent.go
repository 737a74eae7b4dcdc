package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ReportingAgent synthesizes a prose answer with inline [N] citation
// markers and a deduplicated, numbered reference list.
type ReportingAgent struct {
	*Base
}

// NewReportingAgent constructs a ReportingAgent.
func NewReportingAgent(cfg Config) *ReportingAgent {
	return &ReportingAgent{Base: NewBase("reporting_agent", cfg)}
}

type reportResponse struct {
	Answer          string `json:"answer"`
	MethodologyNote string `json:"methodology_note"`
}

var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// SynthesizeReport composes a Report from citations. It returns nil when
// len(citations) < minCitations. References are built by deduplicating
// citations by DocumentID in first-seen order, assigning 1-based numbers;
// every [N] marker the LLM emits, where N is a citation's 1-based
// position in the prompt, is rewritten to the final reference number of
// that citation's document.
func (a *ReportingAgent) SynthesizeReport(ctx context.Context, question string, citations []Citation, minCitations int) (*Report, error) {
	if len(citations) < minCitations {
		return nil, nil
	}

	var promptBuilder strings.Builder
	fmt.Fprintf(&promptBuilder, "Research question: %s\n\nEvidence:\n", question)
	for i, c := range citations {
		fmt.Fprintf(&promptBuilder, "[%d] %s\n", i+1, c.Passage)
	}
	promptBuilder.WriteString(
		"\nSynthesize a prose answer to the question using only the evidence above. " +
			"Cite each piece of evidence you use with its bracketed number, e.g. [1]. " +
			"Respond with JSON: {\"answer\": \"<prose with [N] markers>\", \"methodology_note\": \"<short note>\"}.",
	)

	result, err := a.callLLM(ctx, promptBuilder.String())
	if err != nil {
		return nil, err
	}

	var parsed reportResponse
	if err := a.parseStructured(result.Content, &parsed); err != nil {
		return nil, err
	}

	refs, promptIndexToNumber := buildReferences(citations)
	rewritten := rewriteMarkers(parsed.Answer, promptIndexToNumber)

	strength := evidenceStrength(citations, refs)

	return &Report{
		UserQuestion:      question,
		SynthesizedAnswer: rewritten,
		References:        refs,
		EvidenceStrength:  strength,
		MethodologyNote:   parsed.MethodologyNote,
		CitationCount:     len(citations),
		UniqueDocuments:   len(refs),
		CreatedAt:         time.Now(),
	}, nil
}

// buildReferences deduplicates citations by DocumentID, preserving
// first-seen order, and returns both the reference list and a map from
// each citation's 1-based prompt position to its final reference number.
func buildReferences(citations []Citation) ([]Reference, map[int]int) {
	refs := make([]Reference, 0, len(citations))
	numberByDoc := make(map[int64]int)
	promptIndexToNumber := make(map[int]int, len(citations))

	for i, c := range citations {
		promptIndex := i + 1
		if number, ok := numberByDoc[c.DocumentID]; ok {
			promptIndexToNumber[promptIndex] = number
			continue
		}
		number := len(refs) + 1
		numberByDoc[c.DocumentID] = number
		promptIndexToNumber[promptIndex] = number
		refs = append(refs, Reference{
			Number:          number,
			Authors:         c.Authors,
			Title:           c.DocumentTitle,
			PublicationDate: c.PublicationDate,
			PMID:            c.PMID,
			DocumentID:      c.DocumentID,
		})
	}
	return refs, promptIndexToNumber
}

// rewriteMarkers replaces every [N] marker in answer, where N is a
// citation's 1-based prompt position, with the final reference number
// that citation resolved to. Markers naming a position outside the
// prompt's range are left untouched.
func rewriteMarkers(answer string, promptIndexToNumber map[int]int) string {
	return markerPattern.ReplaceAllStringFunc(answer, func(match string) string {
		n, err := strconv.Atoi(markerPattern.FindStringSubmatch(match)[1])
		if err != nil {
			return match
		}
		number, ok := promptIndexToNumber[n]
		if !ok {
			return match
		}
		return "[" + strconv.Itoa(number) + "]"
	})
}

// evidenceStrength derives the overall strength of a report's support
// from its citation count, unique document count, and mean relevance.
func evidenceStrength(citations []Citation, refs []Reference) EvidenceStrength {
	if len(citations) == 0 {
		return EvidenceInsufficient
	}

	var sum float64
	for _, c := range citations {
		sum += c.RelevanceScore
	}
	mean := sum / float64(len(citations))
	unique := len(refs)

	switch {
	case unique >= 5 && mean >= 0.75:
		return EvidenceStrong
	case unique >= 3 && mean >= 0.5:
		return EvidenceModerate
	case unique >= 1 && mean >= 0.25:
		return EvidenceLimited
	default:
		return EvidenceInsufficient
	}
}
