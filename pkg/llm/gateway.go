package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ModelRef is a parsed `[<provider>:]<model_name>` string.
type ModelRef struct {
	Provider string
	Model    string
}

// String reassembles the canonical form.
func (m ModelRef) String() string {
	if m.Provider == "" {
		return m.Model
	}
	return m.Provider + ":" + m.Model
}

// Config controls gateway-wide retry and deadline behaviour.
type Config struct {
	DefaultProvider string
	FallbackModel   string
	PerCallTimeout  time.Duration
	MaxRetries      int
}

// DefaultConfig returns sensible gateway defaults.
func DefaultConfig() Config {
	return Config{
		PerCallTimeout: 60 * time.Second,
		MaxRetries:     2,
	}
}

// Gateway is the single façade for all LLM traffic: it parses model
// strings, dispatches to the named provider, retries transient failures
// with backoff, falls over to a configured fallback model on exhaustion,
// and records usage against a process-wide TokenTracker.
type Gateway struct {
	cfg       Config
	providers map[string]Provider
	costs     *CostTable
	tracker   *TokenTracker
	log       *slog.Logger
}

// NewGateway constructs a Gateway. providers must contain at least one
// entry, keyed by lower-case provider name.
func NewGateway(cfg Config, providers map[string]Provider, costs *CostTable) (*Gateway, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if cfg.PerCallTimeout <= 0 {
		cfg.PerCallTimeout = DefaultConfig().PerCallTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if costs == nil {
		costs = NewCostTable(nil)
	}

	normalized := make(map[string]Provider, len(providers))
	for name, p := range providers {
		normalized[strings.ToLower(name)] = p
	}

	return &Gateway{
		cfg:       cfg,
		providers: normalized,
		costs:     costs,
		tracker:   NewTokenTracker(),
		log:       slog.With("component", "llm.gateway"),
	}, nil
}

// ParseModelRef splits a `[<provider>:]<model_name>` string. The leading
// token before the first colon is treated as a provider prefix only when
// it names a known provider; otherwise the whole string is the model
// name and the default provider applies. Matching is case-insensitive.
func (g *Gateway) ParseModelRef(model string) ModelRef {
	idx := strings.Index(model, ":")
	if idx < 0 {
		return ModelRef{Provider: g.cfg.DefaultProvider, Model: model}
	}
	prefix := strings.ToLower(model[:idx])
	if _, known := g.providers[prefix]; known {
		return ModelRef{Provider: prefix, Model: model[idx+1:]}
	}
	return ModelRef{Provider: g.cfg.DefaultProvider, Model: model}
}

func (g *Gateway) resolveProvider(name string) (Provider, error) {
	name = strings.ToLower(name)
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Chat issues a chat call against model's provider, retrying transient
// failures with backoff, then falling back to the gateway's configured
// fallback model if the primary is exhausted. Token usage is recorded
// against whichever provider ultimately answers.
func (g *Gateway) Chat(ctx context.Context, messages []Message, model string, params Params) (Response, error) {
	resp, err := g.callWithFallback(ctx, model, func(ctx context.Context, ref ModelRef, p Provider) (Response, error) {
		return p.Chat(ctx, messages, ref.Model, params)
	})
	if err == nil {
		g.record(resp, "chat")
	}
	return resp, err
}

// Generate is the completion-style variant of Chat: a single prompt is
// wrapped as a one-message user turn.
func (g *Gateway) Generate(ctx context.Context, prompt, model string, params Params) (Response, error) {
	return g.Chat(ctx, []Message{{Role: "user", Content: prompt}}, model, params)
}

// Embed issues an embedding call, applying the same retry/fallback
// policy as Chat.
func (g *Gateway) Embed(ctx context.Context, text, model string) (EmbedResponse, error) {
	ref := g.ParseModelRef(model)
	primary, err := g.resolveProvider(ref.Provider)
	if err != nil {
		return EmbedResponse{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.PerCallTimeout)
	defer cancel()

	resp, err := retryGeneric(callCtx, g.cfg.MaxRetries, func(ctx context.Context) (EmbedResponse, error) {
		return primary.Embed(ctx, text, ref.Model)
	})
	if err == nil {
		return resp, nil
	}

	if isPermanent(err) {
		return EmbedResponse{}, err
	}

	fallbackRef, fallbackProvider, ok := g.fallbackFor(ref)
	if !ok {
		return EmbedResponse{}, err
	}
	g.log.Warn("embed falling back", "primary", ref.Provider, "fallback", fallbackRef.Provider, "error", err)

	callCtx2, cancel2 := context.WithTimeout(ctx, g.cfg.PerCallTimeout)
	defer cancel2()
	return fallbackProvider.Embed(callCtx2, text, fallbackRef.Model)
}

// ListModels returns each registered provider's reported model list. A
// non-empty provider restricts the result to that provider alone.
func (g *Gateway) ListModels(ctx context.Context, provider string) (map[string][]string, error) {
	result := make(map[string][]string)
	names := []string{provider}
	if provider == "" {
		names = names[:0]
		for name := range g.providers {
			names = append(names, name)
		}
	}
	for _, name := range names {
		p, err := g.resolveProvider(name)
		if err != nil {
			return nil, err
		}
		models, err := p.Models(ctx)
		if err != nil {
			return nil, err
		}
		result[name] = models
	}
	return result, nil
}

// TestProvider reports whether the named provider is reachable.
func (g *Gateway) TestProvider(ctx context.Context, provider string) bool {
	p, err := g.resolveProvider(provider)
	if err != nil {
		return false
	}
	return p.TestConnection(ctx)
}

// Tracker exposes the gateway's usage accumulator.
func (g *Gateway) Tracker() *TokenTracker { return g.tracker }

func (g *Gateway) record(resp Response, operation string) {
	cost := g.costs.Cost(resp.Model, resp.PromptTokens, resp.CompletionTokens)
	g.tracker.Record(Usage{
		Provider:         resp.Provider,
		Model:            resp.Model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		Operation:        operation,
		Cost:             cost,
	})
}

// callWithFallback resolves model's provider, retries transient failures
// against it, and on exhaustion falls over to the configured fallback
// model unless the fallback resolves to the same provider.
func (g *Gateway) callWithFallback(ctx context.Context, model string, call func(context.Context, ModelRef, Provider) (Response, error)) (Response, error) {
	ref := g.ParseModelRef(model)
	primary, err := g.resolveProvider(ref.Provider)
	if err != nil {
		return Response{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.PerCallTimeout)
	defer cancel()

	resp, err := g.retryTransient(callCtx, func(ctx context.Context) (Response, error) {
		return call(ctx, ref, primary)
	})
	if err == nil {
		return resp, nil
	}

	if isPermanent(err) {
		return Response{}, err
	}

	fallbackRef, fallbackProvider, ok := g.fallbackFor(ref)
	if !ok {
		return Response{}, err
	}
	g.log.Warn("chat falling back", "primary", ref.Provider, "fallback", fallbackRef.Provider, "error", err)

	callCtx2, cancel2 := context.WithTimeout(ctx, g.cfg.PerCallTimeout)
	defer cancel2()
	return call(callCtx2, fallbackRef, fallbackProvider)
}

// fallbackFor resolves the configured fallback model, refusing to return
// one when it names the same provider as primary (no self-fallback loop).
func (g *Gateway) fallbackFor(primary ModelRef) (ModelRef, Provider, bool) {
	if g.cfg.FallbackModel == "" {
		return ModelRef{}, nil, false
	}
	fallbackRef := g.ParseModelRef(g.cfg.FallbackModel)
	if strings.EqualFold(fallbackRef.Provider, primary.Provider) {
		return ModelRef{}, nil, false
	}
	p, err := g.resolveProvider(fallbackRef.Provider)
	if err != nil {
		return ModelRef{}, nil, false
	}
	return fallbackRef, p, true
}

// retryGeneric retries call with exponential backoff on any error other
// than PermanentError and ErrTimeout, which are never retried. At most
// maxRetries retries follow the first attempt.
func retryGeneric[T any](ctx context.Context, maxRetries int, call func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries)), ctx)

	var result T
	err := backoff.Retry(func() error {
		resp, err := call(ctx)
		if err == nil {
			result = resp
			return nil
		}
		lastErr = err
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		if err == ErrTimeout {
			return backoff.Permanent(err)
		}
		return err
	}, b)

	if err != nil {
		if lastErr != nil {
			return zero, lastErr
		}
		return zero, err
	}
	return result, nil
}

func (g *Gateway) retryTransient(ctx context.Context, call func(context.Context) (Response, error)) (Response, error) {
	return retryGeneric(ctx, g.cfg.MaxRetries, call)
}

func isPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
