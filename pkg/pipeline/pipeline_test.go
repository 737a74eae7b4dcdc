package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/agent"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/document"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/events"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/llm"
)

// scriptedProvider replies with the fixed content mapped to a substring
// found in the outbound user prompt, so a single fake
// provider can stand in for every agent's distinct prompt shape in a
// test.
type scriptedProvider struct {
	mu       sync.Mutex
	byPrompt map[string]string // substring match -> JSON content to return
	fallback string
}

func (p *scriptedProvider) Name() string { return "fake" }

func (p *scriptedProvider) Chat(_ context.Context, messages []llm.Message, _ string, _ llm.Params) (llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var userContent string
	for _, m := range messages {
		if m.Role == "user" {
			userContent = m.Content
		}
	}
	for substr, content := range p.byPrompt {
		if containsSubstring(userContent, substr) {
			return llm.Response{Content: content, Model: "fake-model", Provider: "fake"}, nil
		}
	}
	return llm.Response{Content: p.fallback, Model: "fake-model", Provider: "fake"}, nil
}

func (p *scriptedProvider) Embed(context.Context, string, string) (llm.EmbedResponse, error) {
	return llm.EmbedResponse{}, nil
}
func (p *scriptedProvider) Models(context.Context) ([]string, error) { return nil, nil }
func (p *scriptedProvider) TestConnection(context.Context) bool      { return true }

func containsSubstring(s, substr string) bool {
	return len(substr) == 0 || (len(s) >= len(substr) && indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// fakeBackend is an in-memory document.SearchBackend over a fixed set of
// documents; every query matches every document, so tests can exercise
// pipeline composition without modeling tsquery semantics.
type fakeBackend struct {
	docs []document.Document
}

func (b *fakeBackend) FindAbstracts(_ string, limit, offset int) ([]document.Document, error) {
	if offset >= len(b.docs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(b.docs) {
		end = len(b.docs)
	}
	return b.docs[offset:end], nil
}

func (b *fakeBackend) FetchDocumentsByIDs(ids []int64) ([]document.Document, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []document.Document
	for _, d := range b.docs {
		if want[d.ID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func jsonContent(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func newTestGateway(t *testing.T, provider llm.Provider) *llm.Gateway {
	t.Helper()
	gw, err := llm.NewGateway(llm.Config{DefaultProvider: "fake"}, map[string]llm.Provider{"fake": provider}, nil)
	require.NoError(t, err)
	return gw
}

func newTestController(t *testing.T, gw *llm.Gateway, backend document.SearchBackend, bus *events.Bus) *Controller {
	t.Helper()
	cfg := agent.Config{Model: "fake-model", Temperature: 0, TopP: 1, MaxTokens: 512, Gateway: gw}

	return New(
		Config{MinRelevant: 1, ScoreThreshold: 2.5, MaxRetry: 2, BatchSize: 5, MinRelevance: 0.2, MinCitations: 1},
		agent.NewQueryAgent(cfg, backend),
		agent.NewScoringAgent(cfg),
		agent.NewCitationFinderAgent(cfg),
		agent.NewReportingAgent(cfg),
		agent.NewCounterfactualAgent(cfg),
		agent.NewVerdictAgent(cfg, 10),
		gw,
		bus,
	)
}

func sampleDocs() []document.Document {
	return []document.Document{
		{ID: 1, Title: "Statins and cardiovascular risk", Abstract: "Statins reduce LDL cholesterol and cardiovascular events.", PMID: "100"},
		{ID: 2, Title: "Metformin in type 2 diabetes", Abstract: "Metformin improves glycemic control in T2DM patients.", PMID: "101"},
	}
}

func TestResearchSynthesizesReportFromCitations(t *testing.T) {
	provider := &scriptedProvider{byPrompt: map[string]string{
		"Convert this research question":    jsonContent(t, map[string]any{"terms": []string{"statins"}, "operator": "AND"}),
		"Score this document's relevance":   jsonContent(t, map[string]any{"score": 5, "reasoning": "directly on topic"}),
		"Find a contiguous passage":         jsonContent(t, map[string]any{"has_relevant_content": true, "passage": "Statins reduce LDL cholesterol.", "summary": "Statins lower LDL.", "relevance_score": 0.9}),
		"Synthesize a prose answer":         jsonContent(t, map[string]any{"answer": "Statins reduce cardiovascular risk [1].", "methodology_note": "synthesized from 1 source"}),
	}}
	gw := newTestGateway(t, provider)
	backend := &fakeBackend{docs: sampleDocs()}
	ctrl := newTestController(t, gw, backend, nil)

	report, err := ctrl.Research(context.Background(), "Do statins reduce cardiovascular risk?")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.UniqueDocuments)
	assert.Contains(t, report.SynthesizedAnswer, "[1]")
	assert.Equal(t, int64(1), report.References[0].DocumentID)
}

func TestResearchReturnsNilBelowMinCitations(t *testing.T) {
	provider := &scriptedProvider{byPrompt: map[string]string{
		"Convert this research question":  jsonContent(t, map[string]any{"terms": []string{"statins"}, "operator": "AND"}),
		"Score this document's relevance": jsonContent(t, map[string]any{"score": 1, "reasoning": "off topic"}),
		"Find a contiguous passage":       jsonContent(t, map[string]any{"has_relevant_content": false}),
	}}
	gw := newTestGateway(t, provider)
	backend := &fakeBackend{docs: sampleDocs()}
	ctrl := newTestController(t, gw, backend, nil)
	ctrl.cfg.MinCitations = 1

	report, err := ctrl.Research(context.Background(), "Do statins reduce cardiovascular risk?")
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestResearchPublishesStageEvents(t *testing.T) {
	provider := &scriptedProvider{byPrompt: map[string]string{
		"Convert this research question":  jsonContent(t, map[string]any{"terms": []string{"statins"}, "operator": "AND"}),
		"Score this document's relevance": jsonContent(t, map[string]any{"score": 5, "reasoning": "on topic"}),
		"Find a contiguous passage":       jsonContent(t, map[string]any{"has_relevant_content": true, "passage": "p", "summary": "s", "relevance_score": 0.9}),
		"Synthesize a prose answer":       jsonContent(t, map[string]any{"answer": "answer [1]", "methodology_note": "note"}),
	}}
	gw := newTestGateway(t, provider)
	backend := &fakeBackend{docs: sampleDocs()}
	bus := events.NewBus()

	var mu sync.Mutex
	var stages []string
	bus.Subscribe(func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, fmt.Sprintf("%s:%v", e.Type, e.Data["stage"]))
	})

	ctrl := newTestController(t, gw, backend, bus)
	_, err := ctrl.Research(context.Background(), "Do statins help?")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, stages, "pipeline.stage_start:search")
	assert.Contains(t, stages, "pipeline.stage_end:citation")
	assert.Contains(t, stages, "pipeline.stage_start:reporting")
}

func TestAggregateVerdictContradictionWins(t *testing.T) {
	statements := []StatementVerdict{
		{Verdict: agent.Verdict{Choice: agent.VerdictSupports, Confidence: agent.ConfidenceHigh}},
		{Verdict: agent.Verdict{Choice: agent.VerdictContradicts, Confidence: agent.ConfidenceMedium}},
	}
	assert.Equal(t, agent.VerdictContradicts, aggregateVerdict(statements))
}

func TestAggregateVerdictMajorityWins(t *testing.T) {
	statements := []StatementVerdict{
		{Verdict: agent.Verdict{Choice: agent.VerdictSupports, Confidence: agent.ConfidenceLow}},
		{Verdict: agent.Verdict{Choice: agent.VerdictSupports, Confidence: agent.ConfidenceLow}},
		{Verdict: agent.Verdict{Choice: agent.VerdictUndecided, Confidence: agent.ConfidenceLow}},
	}
	assert.Equal(t, agent.VerdictSupports, aggregateVerdict(statements))
}

func TestAggregateVerdictTieIsUndecided(t *testing.T) {
	statements := []StatementVerdict{
		{Verdict: agent.Verdict{Choice: agent.VerdictSupports, Confidence: agent.ConfidenceLow}},
		{Verdict: agent.Verdict{Choice: agent.VerdictUndecided, Confidence: agent.ConfidenceLow}},
	}
	assert.Equal(t, agent.VerdictUndecided, aggregateVerdict(statements))
}

func TestAggregateVerdictEmptyIsUndecided(t *testing.T) {
	assert.Equal(t, agent.VerdictUndecided, aggregateVerdict(nil))
}

func TestOverallAssessmentMixedVerdictsMentionSupportAndContradictWithBoundedConfidence(t *testing.T) {
	statements := []StatementVerdict{
		{Verdict: agent.Verdict{Choice: agent.VerdictContradicts, Confidence: agent.ConfidenceHigh}},
		{Verdict: agent.Verdict{Choice: agent.VerdictSupports, Confidence: agent.ConfidenceHigh}},
		{Verdict: agent.Verdict{Choice: agent.VerdictUndecided, Confidence: agent.ConfidenceLow}},
	}

	assessment := summarizeVerdicts(statements)
	assert.Contains(t, assessment, "support")
	assert.Contains(t, assessment, "contradict")

	overall := lowestConfidence(statements)
	assert.LessOrEqual(t, confidenceRank[overall], confidenceRank[agent.ConfidenceLow])
}
