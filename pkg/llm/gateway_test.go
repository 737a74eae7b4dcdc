package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name      string
	chatFn    func(ctx context.Context, messages []Message, model string, params Params) (Response, error)
	callCount int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Chat(ctx context.Context, messages []Message, model string, params Params) (Response, error) {
	f.callCount++
	return f.chatFn(ctx, messages, model, params)
}

func (f *fakeProvider) Embed(ctx context.Context, text, model string) (EmbedResponse, error) {
	return EmbedResponse{Provider: f.name, Model: model}, nil
}

func (f *fakeProvider) Models(ctx context.Context) ([]string, error) { return []string{"m1"}, nil }

func (f *fakeProvider) TestConnection(ctx context.Context) bool { return true }

func okResponse(provider, model string) (Response, error) {
	return Response{Content: "hi", Provider: provider, Model: model, PromptTokens: 1, CompletionTokens: 1}, nil
}

func TestParseModelRefKnownProvider(t *testing.T) {
	gw, err := NewGateway(Config{DefaultProvider: "local"}, map[string]Provider{
		"local":  &fakeProvider{name: "local"},
		"openai": &fakeProvider{name: "openai"},
	}, nil)
	require.NoError(t, err)

	ref := gw.ParseModelRef("openai:gpt-4o-mini")
	assert.Equal(t, "openai", ref.Provider)
	assert.Equal(t, "gpt-4o-mini", ref.Model)
}

func TestParseModelRefDefaultsWithoutPrefix(t *testing.T) {
	gw, err := NewGateway(Config{DefaultProvider: "local"}, map[string]Provider{
		"local": &fakeProvider{name: "local"},
	}, nil)
	require.NoError(t, err)

	ref := gw.ParseModelRef("llama3.1:8b")
	assert.Equal(t, "local", ref.Provider)
	assert.Equal(t, "llama3.1:8b", ref.Model)
}

func TestParseModelRefUnknownPrefixTreatedAsModelName(t *testing.T) {
	gw, err := NewGateway(Config{DefaultProvider: "local"}, map[string]Provider{
		"local": &fakeProvider{name: "local"},
	}, nil)
	require.NoError(t, err)

	ref := gw.ParseModelRef("notaprovider:weird-model")
	assert.Equal(t, "local", ref.Provider)
	assert.Equal(t, "notaprovider:weird-model", ref.Model)
}

func TestChatPermanentErrorSurfacesImmediatelyNoFallback(t *testing.T) {
	primary := &fakeProvider{name: "local", chatFn: func(ctx context.Context, m []Message, model string, p Params) (Response, error) {
		return Response{}, &PermanentError{Provider: "local", Err: errors.New("missing model")}
	}}
	fallback := &fakeProvider{name: "openai", chatFn: func(ctx context.Context, m []Message, model string, p Params) (Response, error) {
		t.Fatal("fallback should never be called for a permanent error")
		return Response{}, nil
	}}

	gw, err := NewGateway(Config{DefaultProvider: "local", FallbackModel: "openai:gpt-4o-mini", MaxRetries: 1}, map[string]Provider{
		"local": primary, "openai": fallback,
	}, nil)
	require.NoError(t, err)

	_, err = gw.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "local:llama3.1", Params{})
	require.Error(t, err)
	var perm *PermanentError
	assert.ErrorAs(t, err, &perm)
	assert.Equal(t, 1, primary.callCount)
}

func TestChatTransientErrorFallsBackAfterRetries(t *testing.T) {
	primary := &fakeProvider{name: "local", chatFn: func(ctx context.Context, m []Message, model string, p Params) (Response, error) {
		return Response{}, &TransientError{Provider: "local", Err: errors.New("timeout")}
	}}
	fallback := &fakeProvider{name: "openai", chatFn: func(ctx context.Context, m []Message, model string, p Params) (Response, error) {
		return okResponse("openai", model)
	}}

	gw, err := NewGateway(Config{DefaultProvider: "local", FallbackModel: "openai:gpt-4o-mini", MaxRetries: 1}, map[string]Provider{
		"local": primary, "openai": fallback,
	}, nil)
	require.NoError(t, err)

	resp, err := gw.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "local:llama3.1", Params{})
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Provider)
	assert.True(t, primary.callCount >= 1)
}

func TestChatNoSelfFallbackLoop(t *testing.T) {
	calls := 0
	primary := &fakeProvider{name: "local", chatFn: func(ctx context.Context, m []Message, model string, p Params) (Response, error) {
		calls++
		return Response{}, &TransientError{Provider: "local", Err: errors.New("timeout")}
	}}

	gw, err := NewGateway(Config{DefaultProvider: "local", FallbackModel: "local:other-model", MaxRetries: 1}, map[string]Provider{
		"local": primary,
	}, nil)
	require.NoError(t, err)

	_, err = gw.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "local:llama3.1", Params{})
	require.Error(t, err)
	var transient *TransientError
	assert.ErrorAs(t, err, &transient)
}

func TestChatFallbackAllowedToFail(t *testing.T) {
	primary := &fakeProvider{name: "local", chatFn: func(ctx context.Context, m []Message, model string, p Params) (Response, error) {
		return Response{}, &TransientError{Provider: "local", Err: errors.New("timeout")}
	}}
	fallback := &fakeProvider{name: "openai", chatFn: func(ctx context.Context, m []Message, model string, p Params) (Response, error) {
		return Response{}, &PermanentError{Provider: "openai", Err: errors.New("auth failure")}
	}}

	gw, err := NewGateway(Config{DefaultProvider: "local", FallbackModel: "openai:gpt-4o-mini", MaxRetries: 1}, map[string]Provider{
		"local": primary, "openai": fallback,
	}, nil)
	require.NoError(t, err)

	_, err = gw.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "local:llama3.1", Params{})
	require.Error(t, err)
}

func TestChatRecordsUsageAgainstAnsweringProvider(t *testing.T) {
	primary := &fakeProvider{name: "local", chatFn: func(ctx context.Context, m []Message, model string, p Params) (Response, error) {
		return okResponse("local", model)
	}}

	gw, err := NewGateway(Config{DefaultProvider: "local"}, map[string]Provider{"local": primary}, nil)
	require.NoError(t, err)

	_, err = gw.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "local:llama3.1", Params{})
	require.NoError(t, err)

	overall := gw.Tracker().Overall()
	assert.Equal(t, 1, overall.Calls)
	byProvider := gw.Tracker().ByProvider()
	assert.Equal(t, 1, byProvider["local"].Calls)
}

func TestNewGatewayRequiresAtLeastOneProvider(t *testing.T) {
	_, err := NewGateway(Config{}, map[string]Provider{}, nil)
	require.ErrorIs(t, err, ErrNoProviders)
}

func TestChatUnknownProvider(t *testing.T) {
	gw, err := NewGateway(Config{DefaultProvider: "ghost"}, map[string]Provider{"local": &fakeProvider{name: "local"}}, nil)
	require.NoError(t, err)

	_, err = gw.Chat(context.Background(), nil, "some-model", Params{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestChatTimeoutNotRetried(t *testing.T) {
	primary := &fakeProvider{name: "local", chatFn: func(ctx context.Context, m []Message, model string, p Params) (Response, error) {
		<-ctx.Done()
		return Response{}, ErrTimeout
	}}

	gw, err := NewGateway(Config{DefaultProvider: "local", PerCallTimeout: 10 * time.Millisecond, MaxRetries: 3}, map[string]Provider{
		"local": primary,
	}, nil)
	require.NoError(t, err)

	_, err = gw.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "local:llama3.1", Params{})
	require.Error(t, err)
	assert.Equal(t, 1, primary.callCount)
}
