package pipeline

import "errors"

// ErrFabricatedCitation indicates a Citation referenced a document_id the
// pipeline never actually retrieved this run. The controller treats this
// as a defect in the producing agent, not ordinary low relevance.
var ErrFabricatedCitation = errors.New("pipeline: citation references a document_id outside the retrieved set")
