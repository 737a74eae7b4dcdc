package agent

import (
	"context"
	"time"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/jsonrepair"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/llm"
)

// Base provides the behaviour every specialized agent embeds: liveness
// checking, an agent-type identifier, a performance accumulator, an LLM
// call wrapper with automatic metric capture, and a structured-output
// parser delegating to jsonrepair. Specialized agents embed Base and add
// their own methods; they never reimplement call/parse plumbing.
type Base struct {
	agentType string
	cfg       Config
	metrics   PerformanceMetrics
}

// NewBase constructs a Base. Panics if cfg.Gateway is nil: a missing
// gateway is a wiring bug in the caller, not a runtime condition an agent
// method should have to handle.
func NewBase(agentType string, cfg Config) *Base {
	if cfg.Gateway == nil {
		panic(ErrNilGateway.Error())
	}
	return &Base{agentType: agentType, cfg: cfg}
}

// GetAgentType returns the agent's short type identifier.
func (b *Base) GetAgentType() string { return b.agentType }

// TestConnection performs a cheap liveness check of the underlying LLM
// backend this agent's configured model resolves to.
func (b *Base) TestConnection(ctx context.Context) bool {
	ref := b.cfg.Gateway.ParseModelRef(b.cfg.Model)
	return b.cfg.Gateway.TestProvider(ctx, ref.Provider)
}

// PerformanceMetrics returns a snapshot of the accumulator.
func (b *Base) PerformanceMetrics() MetricsSnapshot { return b.metrics.Snapshot() }

// ResetMetrics clears the accumulator.
func (b *Base) ResetMetrics() { b.metrics.Reset() }

// StartMetrics begins a timed window.
func (b *Base) StartMetrics() { b.metrics.Start() }

// StopMetrics ends a timed window.
func (b *Base) StopMetrics() { b.metrics.Stop() }

// callResult is the normalised outcome of a wrapped LLM call.
type callResult struct {
	Content string
	Usage   llm.Response
}

// callLLM wraps LLMGateway.Chat with automatic metric capture (prompt and
// completion tokens, model-reported evaluation duration) and notifies the
// configured progress callback before and after the call. The gateway
// does not report its retries, so each call is recorded with zero retries.
func (b *Base) callLLM(ctx context.Context, userContent string) (callResult, error) {
	b.cfg.notify("calling llm", map[string]any{"agent": b.agentType})

	resp, err := b.cfg.Gateway.Chat(ctx, b.cfg.messages(userContent), b.cfg.Model, b.cfg.params())
	if err != nil {
		b.cfg.notify("llm call failed", map[string]any{"agent": b.agentType, "error": err.Error()})
		return callResult{}, err
	}

	b.metrics.RecordCall(resp.PromptTokens, resp.CompletionTokens, resp.ModelEvalDuration, 0)
	b.cfg.notify("llm call completed", map[string]any{"agent": b.agentType, "total_tokens": resp.TotalTokens})

	return callResult{Content: resp.Content, Usage: resp}, nil
}

// parseStructured delegates to jsonrepair.SafeParse, wrapping any failure
// as a *ParseError carrying this agent's type.
func (b *Base) parseStructured(text string, v any) error {
	if err := jsonrepair.SafeParse(text, v, true); err != nil {
		return &ParseError{AgentType: b.agentType, Err: err}
	}
	return nil
}

// callDeadline returns a context bounded by the agent's configured
// per-call expectations, falling back to a generous default when the
// caller's context carries no deadline of its own.
func callDeadline(ctx context.Context, fallback time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, fallback)
}
