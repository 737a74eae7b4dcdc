package agent

import "time"

// Citation is a contiguous quoted passage from a document, found relevant
// to a research question by a CitationFinderAgent. The DocumentID always
// matches a document the pipeline actually retrieved; it is never
// accepted verbatim from the LLM.
type Citation struct {
	Passage         string
	Summary         string
	RelevanceScore  float64 // in [0,1]
	DocumentID      int64
	DocumentTitle   string
	Authors         []string
	PublicationDate *time.Time
	PMID            string
	CreatedAt       time.Time
}

// Reference is one deduplicated, numbered entry in a Report's reference
// list.
type Reference struct {
	Number          int // 1-based, unique within a report
	Authors         []string
	Title           string
	PublicationDate *time.Time
	PMID            string
	DOI             string
	DocumentID      int64
}

// EvidenceStrength classifies the overall strength of a Report's
// supporting citations.
type EvidenceStrength string

const (
	EvidenceStrong       EvidenceStrength = "Strong"
	EvidenceModerate     EvidenceStrength = "Moderate"
	EvidenceLimited      EvidenceStrength = "Limited"
	EvidenceInsufficient EvidenceStrength = "Insufficient"
)

// Report is the ReportingAgent's synthesized answer: prose with inline
// [N] markers resolving to the numbered References list.
type Report struct {
	UserQuestion      string
	SynthesizedAnswer string
	References        []Reference
	EvidenceStrength  EvidenceStrength
	MethodologyNote   string
	CitationCount     int
	UniqueDocuments   int
	CreatedAt         time.Time
}

// Priority is a CounterfactualQuestion's urgency ranking.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// CounterfactualQuestion is one challenge to a claim, paired with search
// keywords formatted for the retrieval backend's tsquery dialect.
type CounterfactualQuestion struct {
	Question string
	Priority Priority
	Keywords string
}

// CounterfactualAnalysis bundles the counterfactual questions derived
// from a report or document.
type CounterfactualAnalysis struct {
	SourceTitle string
	Questions   []CounterfactualQuestion
}

// VerdictChoice is the VerdictAgent's classification of a statement
// against counter-evidence.
type VerdictChoice string

const (
	VerdictSupports    VerdictChoice = "supports"
	VerdictContradicts VerdictChoice = "contradicts"
	VerdictUndecided   VerdictChoice = "undecided"
)

// VerdictConfidence is the VerdictAgent's self-reported confidence.
type VerdictConfidence string

const (
	ConfidenceLow    VerdictConfidence = "low"
	ConfidenceMedium VerdictConfidence = "medium"
	ConfidenceHigh   VerdictConfidence = "high"
)

// Verdict is the VerdictAgent's assessment of one statement against a
// counter-report.
type Verdict struct {
	Statement  string
	Choice     VerdictChoice
	Confidence VerdictConfidence
	Rationale  string
}
