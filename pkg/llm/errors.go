package llm

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrUnknownProvider indicates a model string's provider prefix does not
	// match any registered provider.
	ErrUnknownProvider = errors.New("llm: unknown provider")

	// ErrNoProviders indicates the gateway was constructed without any
	// registered providers.
	ErrNoProviders = errors.New("llm: no providers registered")

	// ErrTimeout indicates the per-call deadline elapsed before a provider
	// returned, with no partial content returned.
	ErrTimeout = errors.New("llm: call deadline exceeded")
)

// TransientError wraps a retryable failure: network timeout, provider
// rate-limit, or a 5xx response. The gateway retries a fixed small number
// of times with exponential backoff before falling over to the configured
// fallback model.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("llm: transient error from %s: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a non-retryable failure: bad request, missing
// model, or auth failure. Surfaced immediately without retry or fallback.
type PermanentError struct {
	Provider string
	Err      error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("llm: permanent error from %s: %v", e.Provider, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }
