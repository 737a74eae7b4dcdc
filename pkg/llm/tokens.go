package llm

import (
	"strings"
	"sync"
)

// Usage is one recorded call's token and cost accounting.
type Usage struct {
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Operation        string
	Cost             float64
}

// Totals is an accumulated summary over some set of Usage records.
type Totals struct {
	Calls            int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             float64
}

// TokenTracker accumulates usage process-wide, guarded by a mutex rather
// than lock-free atomics: call volume is bound by LLM round-trip latency,
// not by contention on the accumulator itself.
type TokenTracker struct {
	mu          sync.Mutex
	overall     Totals
	byModel     map[string]*Totals
	byProvider  map[string]*Totals
	byOperation map[string]*Totals
}

// NewTokenTracker returns an empty tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{
		byModel:     make(map[string]*Totals),
		byProvider:  make(map[string]*Totals),
		byOperation: make(map[string]*Totals),
	}
}

// Record folds one Usage record into the running totals.
func (t *TokenTracker) Record(u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	add(&t.overall, u)
	addKeyed(t.byModel, u.Model, u)
	addKeyed(t.byProvider, u.Provider, u)
	addKeyed(t.byOperation, u.Operation, u)
}

func add(totals *Totals, u Usage) {
	totals.Calls++
	totals.PromptTokens += u.PromptTokens
	totals.CompletionTokens += u.CompletionTokens
	totals.TotalTokens += u.PromptTokens + u.CompletionTokens
	totals.Cost += u.Cost
}

func addKeyed(m map[string]*Totals, key string, u Usage) {
	if key == "" {
		return
	}
	t, ok := m[key]
	if !ok {
		t = &Totals{}
		m[key] = t
	}
	add(t, u)
}

// Overall returns the process-wide totals snapshot.
func (t *TokenTracker) Overall() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overall
}

// ByModel returns a copy of the per-model totals snapshot.
func (t *TokenTracker) ByModel() map[string]Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return snapshot(t.byModel)
}

// ByProvider returns a copy of the per-provider totals snapshot.
func (t *TokenTracker) ByProvider() map[string]Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return snapshot(t.byProvider)
}

func snapshot(m map[string]*Totals) map[string]Totals {
	out := make(map[string]Totals, len(m))
	for k, v := range m {
		out[k] = *v
	}
	return out
}

// Reset clears all accumulated totals.
func (t *TokenTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.overall = Totals{}
	t.byModel = make(map[string]*Totals)
	t.byProvider = make(map[string]*Totals)
	t.byOperation = make(map[string]*Totals)
}

// ModelRate is a per-1000-token price pair for one model name or prefix.
type ModelRate struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// CostTable resolves a model name to a ModelRate by longest-prefix match,
// so that a versioned model name ("gpt-4o-2024-08-06") resolves to its
// base model's price ("gpt-4o") without an exact entry for every version
// string a provider ever ships.
type CostTable struct {
	rates map[string]ModelRate
}

// NewCostTable builds a table from a name-to-rate map. A nil or empty map
// produces a table where every model costs zero (matching free providers).
func NewCostTable(rates map[string]ModelRate) *CostTable {
	copied := make(map[string]ModelRate, len(rates))
	for k, v := range rates {
		copied[k] = v
	}
	return &CostTable{rates: copied}
}

// Rate resolves model to its longest matching prefix entry. Unknown
// models resolve to the zero rate (free).
func (c *CostTable) Rate(model string) ModelRate {
	var best string
	var bestRate ModelRate
	found := false

	for prefix, rate := range c.rates {
		if !strings.HasPrefix(model, prefix) {
			continue
		}
		if !found || len(prefix) > len(best) {
			best = prefix
			bestRate = rate
			found = true
		}
	}
	return bestRate
}

// Cost computes the dollar cost of one call given its token counts.
func (c *CostTable) Cost(model string, promptTokens, completionTokens int) float64 {
	rate := c.Rate(model)
	return float64(promptTokens)/1000*rate.PromptPer1K + float64(completionTokens)/1000*rate.CompletionPer1K
}
