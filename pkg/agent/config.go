// Package agent implements the shared agent framework and the six
// specialized agents that call out to an LLMGateway on the core's
// behalf: QueryAgent, ScoringAgent, CitationFinderAgent,
// ReportingAgent, CounterfactualAgent, VerdictAgent.
package agent

import "github.com/bmlibrarian/bmlibrarian-core/pkg/llm"

// ProgressCallback is invoked with human-readable progress updates. A
// panicking callback never disrupts the agent's primary operation:
// notify() recovers the panic and discards it. The callback runs
// synchronously, so a slow callback delays the agent.
type ProgressCallback func(message string, data map[string]any)

// Config carries the tunable settings every specialized agent shares:
// model selection, sampling parameters, an optional system prompt, an
// optional progress observer, and the LLMGateway used for all calls.
type Config struct {
	Model        string
	Temperature  float64
	TopP         float64
	MaxTokens    int
	SystemPrompt string
	OnProgress   ProgressCallback
	Gateway      *llm.Gateway
}

func (c Config) notify(message string, data map[string]any) {
	if c.OnProgress == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	c.OnProgress(message, data)
}

func (c Config) params() llm.Params {
	return llm.Params{
		Temperature: c.Temperature,
		TopP:        c.TopP,
		MaxTokens:   c.MaxTokens,
	}
}

func (c Config) messages(userContent string) []llm.Message {
	msgs := make([]llm.Message, 0, 2)
	if c.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: c.SystemPrompt})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: userContent})
	return msgs
}
