package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Message is one turn in a chat-style conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params carries the tunable generation parameters a caller supplies,
// mirroring the agent framework's Config fields.
type Params struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Response is the normalised shape every provider's call returns,
// regardless of the wire format of the backend that produced it.
type Response struct {
	Content          string
	Model            string
	Provider         string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Latency          time.Duration
	// ModelEvalDuration is the provider-reported generation time, used to
	// derive tokens-per-second without network-jitter pollution.
	ModelEvalDuration time.Duration
}

// EmbedResponse is the normalised shape of an embedding call.
type EmbedResponse struct {
	Embedding  []float64
	Dimensions int
	Model      string
	Provider   string
}

// Provider is the interface every LLM backend (local model server or
// hosted API) implements. Chat and Embed are blocking; callers that want
// a deadline pass a context with one.
type Provider interface {
	Name() string
	Chat(ctx context.Context, messages []Message, model string, params Params) (Response, error)
	Embed(ctx context.Context, text string, model string) (EmbedResponse, error)
	Models(ctx context.Context) ([]string, error)
	TestConnection(ctx context.Context) bool
}

// HTTPProvider is a Provider backed by an HTTP chat/completions endpoint
// returning the shape documented in spec.md §6: message.content plus
// prompt_eval_count/eval_count/eval_duration/prompt_eval_duration.
type HTTPProvider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider constructs a provider client. An empty apiKey omits the
// Authorization header (used by the local model server).
func NewHTTPProvider(name, baseURL, apiKey string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &HTTPProvider{name: name, baseURL: baseURL, apiKey: apiKey, httpClient: client}
}

// Name returns the provider's registered identifier.
func (p *HTTPProvider) Name() string { return p.name }

type chatRequestBody struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type chatResponseBody struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount  int   `json:"prompt_eval_count"`
	EvalCount        int   `json:"eval_count"`
	EvalDuration     int64 `json:"eval_duration"`
	PromptEvalDuration int64 `json:"prompt_eval_duration"`
}

// Chat issues a blocking chat/completions call.
func (p *HTTPProvider) Chat(ctx context.Context, messages []Message, model string, params Params) (Response, error) {
	start := time.Now()

	body, err := json.Marshal(chatRequestBody{
		Model:       model,
		Messages:    messages,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return Response{}, &PermanentError{Provider: p.name, Err: fmt.Errorf("encoding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, &PermanentError{Provider: p.name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ErrTimeout
		}
		return Response{}, &TransientError{Provider: p.name, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &TransientError{Provider: p.name, Err: err}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, &TransientError{Provider: p.name, Err: fmt.Errorf("status %d: %s", resp.StatusCode, raw)}
	}
	if resp.StatusCode >= 400 {
		return Response{}, &PermanentError{Provider: p.name, Err: fmt.Errorf("status %d: %s", resp.StatusCode, raw)}
	}

	var parsed chatResponseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, &PermanentError{Provider: p.name, Err: fmt.Errorf("decoding response: %w", err)}
	}

	return Response{
		Content:           parsed.Message.Content,
		Model:             model,
		Provider:          p.name,
		PromptTokens:      parsed.PromptEvalCount,
		CompletionTokens:  parsed.EvalCount,
		TotalTokens:       parsed.PromptEvalCount + parsed.EvalCount,
		Latency:           time.Since(start),
		ModelEvalDuration: time.Duration(parsed.EvalDuration),
	}, nil
}

type embedRequestBody struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponseBody struct {
	Embedding []float64 `json:"embedding"`
}

// Embed issues a blocking embedding call.
func (p *HTTPProvider) Embed(ctx context.Context, text string, model string) (EmbedResponse, error) {
	body, err := json.Marshal(embedRequestBody{Model: model, Input: text})
	if err != nil {
		return EmbedResponse{}, &PermanentError{Provider: p.name, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return EmbedResponse{}, &PermanentError{Provider: p.name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return EmbedResponse{}, ErrTimeout
		}
		return EmbedResponse{}, &TransientError{Provider: p.name, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return EmbedResponse{}, &TransientError{Provider: p.name, Err: err}
	}
	if resp.StatusCode >= 500 {
		return EmbedResponse{}, &TransientError{Provider: p.name, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return EmbedResponse{}, &PermanentError{Provider: p.name, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var parsed embedResponseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return EmbedResponse{}, &PermanentError{Provider: p.name, Err: err}
	}

	return EmbedResponse{
		Embedding:  parsed.Embedding,
		Dimensions: len(parsed.Embedding),
		Model:      model,
		Provider:   p.name,
	}, nil
}

// Models lists model names the provider reports as available.
func (p *HTTPProvider) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Provider: p.name, Err: err}
	}
	defer resp.Body.Close()

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

// TestConnection performs a cheap liveness check against the provider.
func (p *HTTPProvider) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.Models(ctx)
	return err == nil
}
