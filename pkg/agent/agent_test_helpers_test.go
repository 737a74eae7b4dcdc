package agent

import (
	"context"
	"testing"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/llm"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Name() string { return "test" }

func (p *scriptedProvider) Chat(ctx context.Context, messages []llm.Message, model string, params llm.Params) (llm.Response, error) {
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	content := p.responses[idx]
	p.calls++
	return llm.Response{Content: content, Model: model, Provider: "test", PromptTokens: 10, CompletionTokens: 5}, nil
}

func (p *scriptedProvider) Embed(ctx context.Context, text, model string) (llm.EmbedResponse, error) {
	return llm.EmbedResponse{}, nil
}

func (p *scriptedProvider) Models(ctx context.Context) ([]string, error) { return nil, nil }

func (p *scriptedProvider) TestConnection(ctx context.Context) bool { return true }

func testGateway(t *testing.T, responses ...string) *llm.Gateway {
	t.Helper()
	gw, err := llm.NewGateway(
		llm.Config{DefaultProvider: "test"},
		map[string]llm.Provider{"test": &scriptedProvider{responses: responses}},
		nil,
	)
	require.NoError(t, err)
	return gw
}

func testConfig(t *testing.T, responses ...string) Config {
	return Config{Model: "test-model", Gateway: testGateway(t, responses...)}
}
