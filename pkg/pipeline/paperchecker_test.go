package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/agent"
)

func checkerScript(t *testing.T) *scriptedProvider {
	return &scriptedProvider{byPrompt: map[string]string{
		"Identify the main claims": jsonContent(t, map[string]any{
			"questions": []map[string]any{
				{"question": "Do statins actually increase cardiovascular risk?", "priority": "HIGH", "keywords": []string{"statins", "risk"}, "operator": "AND"},
			},
		}),
		"Convert this research question":      jsonContent(t, map[string]any{"terms": []string{"statins"}, "operator": "AND"}),
		"Write a short hypothetical abstract":  "Statins may increase risk of myopathy in some patients.",
		"Score this document's relevance":     jsonContent(t, map[string]any{"score": 4, "reasoning": "relevant"}),
		"Find a contiguous passage":           jsonContent(t, map[string]any{"has_relevant_content": true, "passage": "Statins reduce cardiovascular events.", "summary": "Statins help.", "relevance_score": 0.8}),
		"Synthesize a prose answer":           jsonContent(t, map[string]any{"answer": "Evidence supports statins reduce risk [1].", "methodology_note": "note"}),
		"Decide whether the counter-evidence": jsonContent(t, map[string]any{"choice": "contradicts", "confidence": "medium", "rationale": "The counter-evidence directly contradicts the claim under review."}),
	}}
}

func TestCheckPaperProducesProvenanceAndVerdict(t *testing.T) {
	provider := checkerScript(t)
	gw := newTestGateway(t, provider)
	backend := &fakeBackend{docs: sampleDocs()}
	ctrl := newTestController(t, gw, backend, nil)

	result, err := ctrl.CheckPaper(context.Background(), "Statins and CV risk", "Statins reduce cardiovascular risk in most patients.")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Statements, 1)

	stmt := result.Statements[0]
	assert.Equal(t, "Do statins actually increase cardiovascular risk?", stmt.Question.Question)
	assert.NotEmpty(t, stmt.Provenance)
	for _, p := range stmt.Provenance {
		assert.NotEmpty(t, p.Strategies)
		assert.NotEmpty(t, p.FirstSeenStrategy)
	}
	assert.Equal(t, agent.VerdictContradicts, stmt.Verdict.Choice)
	assert.Equal(t, agent.VerdictContradicts, result.OverallVerdict)
}

func TestCheckPaperOverallAssessmentMixesSupportAndContradictWithBoundedConfidence(t *testing.T) {
	// Scenario F: three statements verdicted {contradicts, supports,
	// undecided} at {high, high, low} confidence. The overall assessment
	// must mention both "support" and "contradict", and its confidence
	// must not exceed the weakest input (low).
	q1 := "Do statins actually increase cardiovascular risk?"
	q2 := "Does metformin fail to improve glycemic control?"
	q3 := "Is aspirin ineffective for primary prevention?"

	provider := &scriptedProvider{byPrompt: map[string]string{
		"Identify the main claims": jsonContent(t, map[string]any{
			"questions": []map[string]any{
				{"question": q1, "priority": "HIGH", "keywords": []string{"statins", "risk"}, "operator": "AND"},
				{"question": q2, "priority": "HIGH", "keywords": []string{"metformin", "glycemic"}, "operator": "AND"},
				{"question": q3, "priority": "MEDIUM", "keywords": []string{"aspirin", "prevention"}, "operator": "AND"},
			},
		}),
		"Convert this research question":     jsonContent(t, map[string]any{"terms": []string{"statins"}, "operator": "AND"}),
		"Write a short hypothetical abstract": "A hypothetical abstract discussing the claim.",
		"Score this document's relevance":     jsonContent(t, map[string]any{"score": 4, "reasoning": "relevant"}),
		"Find a contiguous passage":           jsonContent(t, map[string]any{"has_relevant_content": true, "passage": "Relevant passage.", "summary": "Summary.", "relevance_score": 0.8}),
		"Synthesize a prose answer":           jsonContent(t, map[string]any{"answer": "Evidence bears on the claim [1].", "methodology_note": "note"}),
		"Statement under review: " + q1:       jsonContent(t, map[string]any{"choice": "contradicts", "confidence": "high", "rationale": "The counter-evidence directly contradicts this claim about statins."}),
		"Statement under review: " + q2:       jsonContent(t, map[string]any{"choice": "supports", "confidence": "high", "rationale": "The counter-evidence directly supports this claim about metformin."}),
		"Statement under review: " + q3:       jsonContent(t, map[string]any{"choice": "undecided", "confidence": "low", "rationale": "The counter-evidence is inconclusive about aspirin's effect."}),
	}}
	gw := newTestGateway(t, provider)
	backend := &fakeBackend{docs: sampleDocs()}
	ctrl := newTestController(t, gw, backend, nil)

	result, err := ctrl.CheckPaper(context.Background(), "Mixed-claims paper", "An abstract with three distinct claims.")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Statements, 3)

	assert.Contains(t, result.OverallAssessment, "support")
	assert.Contains(t, result.OverallAssessment, "contradict")
	assert.LessOrEqual(t, confidenceRank[result.OverallConfidence], confidenceRank[agent.ConfidenceLow])
}

func TestCheckPaperReturnsNilWhenNoClaimsExtracted(t *testing.T) {
	provider := &scriptedProvider{byPrompt: map[string]string{
		"Identify the main claims": jsonContent(t, map[string]any{"questions": []map[string]any{}}),
	}}
	gw := newTestGateway(t, provider)
	backend := &fakeBackend{docs: sampleDocs()}
	ctrl := newTestController(t, gw, backend, nil)

	result, err := ctrl.CheckPaper(context.Background(), "Title", "Abstract with no extractable claims.")
	require.NoError(t, err)
	assert.Nil(t, result)
}
