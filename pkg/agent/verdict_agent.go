package agent

import (
	"context"
	"fmt"
	"strings"
)

// VerdictAgent weighs a statement against counter-evidence and produces a
// validated Verdict.
type VerdictAgent struct {
	*Base
	minRationaleLength int
}

// NewVerdictAgent constructs a VerdictAgent. minRationaleLength bounds the
// shortest acceptable rationale string; the LLM's output is rejected with
// a ParseError when it falls short.
func NewVerdictAgent(cfg Config, minRationaleLength int) *VerdictAgent {
	return &VerdictAgent{Base: NewBase("verdict_agent", cfg), minRationaleLength: minRationaleLength}
}

type verdictResponse struct {
	Choice     string `json:"choice"`
	Confidence string `json:"confidence"`
	Rationale  string `json:"rationale"`
}

// Analyze weighs statement against counterReport and returns a validated
// Verdict. The LLM's choice and confidence are validated against the
// enums in the data model; an out-of-enum value or an under-length
// rationale is rejected as a ParseError.
func (a *VerdictAgent) Analyze(ctx context.Context, statement, counterReport string) (Verdict, error) {
	prompt := fmt.Sprintf(
		"Statement under review: %s\n\n"+
			"Counter-evidence report: %s\n\n"+
			"Decide whether the counter-evidence supports, contradicts, or leaves undecided the "+
			"statement. Respond with JSON: {\"choice\": \"supports\"|\"contradicts\"|\"undecided\", "+
			"\"confidence\": \"low\"|\"medium\"|\"high\", \"rationale\": \"<prose justification>\"}.",
		statement, counterReport,
	)

	result, err := a.callLLM(ctx, prompt)
	if err != nil {
		return Verdict{}, err
	}

	var parsed verdictResponse
	if err := a.parseStructured(result.Content, &parsed); err != nil {
		return Verdict{}, err
	}

	choice, ok := validChoice(parsed.Choice)
	if !ok {
		return Verdict{}, &ParseError{AgentType: a.GetAgentType(), Err: fmt.Errorf("invalid verdict choice %q", parsed.Choice)}
	}
	confidence, ok := validConfidence(parsed.Confidence)
	if !ok {
		return Verdict{}, &ParseError{AgentType: a.GetAgentType(), Err: fmt.Errorf("invalid verdict confidence %q", parsed.Confidence)}
	}
	if len(strings.TrimSpace(parsed.Rationale)) < a.minRationaleLength {
		return Verdict{}, &ParseError{AgentType: a.GetAgentType(), Err: fmt.Errorf("rationale shorter than minimum length %d", a.minRationaleLength)}
	}

	return Verdict{
		Statement:  statement,
		Choice:     choice,
		Confidence: confidence,
		Rationale:  parsed.Rationale,
	}, nil
}

func validChoice(s string) (VerdictChoice, bool) {
	switch VerdictChoice(strings.ToLower(strings.TrimSpace(s))) {
	case VerdictSupports:
		return VerdictSupports, true
	case VerdictContradicts:
		return VerdictContradicts, true
	case VerdictUndecided:
		return VerdictUndecided, true
	default:
		return "", false
	}
}

func validConfidence(s string) (VerdictConfidence, bool) {
	switch VerdictConfidence(strings.ToLower(strings.TrimSpace(s))) {
	case ConfidenceLow:
		return ConfidenceLow, true
	case ConfidenceMedium:
		return ConfidenceMedium, true
	case ConfidenceHigh:
		return ConfidenceHigh, true
	default:
		return "", false
	}
}
