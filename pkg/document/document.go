// Package document defines the read-only literature records the core
// consumes from a caller-supplied search backend: Document, ScoringResult,
// and the SearchBackend interface itself.
package document

import "time"

// Document is an opaque, read-only literature record. The core never
// writes documents back to the external store; it only reads them for
// scoring and citation.
type Document struct {
	ID              int64
	Title           string
	Abstract        string
	Authors         []string
	PublicationDate *time.Time
	Journal         string
	PMID            string
	DOI             string
	SourceID        string
}

// ScoringResult is the ScoringAgent's immutable verdict on one document's
// relevance to a query.
type ScoringResult struct {
	DocumentID int64
	Score      float64 // in [1,5]
	Reasoning  string
}

// SearchBackend is the caller-supplied, read-only retrieval interface the
// core depends on. It never builds raw SQL itself; it emits tsquery
// strings produced by SanitizeTerm/BuildQuery and lets the backend
// interpret them.
type SearchBackend interface {
	// FindAbstracts returns up to limit documents matching tsquery,
	// starting at offset, ordered by the backend's own relevance ranking.
	FindAbstracts(tsquery string, limit, offset int) ([]Document, error)

	// FetchDocumentsByIDs returns the documents named by ids, in any
	// order; ids absent from the backend are simply omitted.
	FetchDocumentsByIDs(ids []int64) ([]Document, error)
}
