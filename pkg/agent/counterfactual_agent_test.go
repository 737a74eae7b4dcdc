package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeDocumentProducesPrioritizedQuestions(t *testing.T) {
	cfg := testConfig(t, `{"questions": [
		{"question": "does this hold in elderly patients?", "priority": "HIGH",
		 "keywords": ["elderly", "adverse event"], "operator": "AND"},
		{"question": "does dose matter?", "priority": "bogus",
		 "keywords": ["dose response"], "operator": "OR"}
	]}`)
	ca := NewCounterfactualAgent(cfg)

	analysis, err := ca.AnalyzeDocument(context.Background(), "aspirin reduces risk", "Aspirin Study")
	require.NoError(t, err)
	require.NotNil(t, analysis)
	require.Len(t, analysis.Questions, 2)

	assert.Equal(t, PriorityHigh, analysis.Questions[0].Priority)
	assert.Equal(t, "(elderly&'adverse event')", analysis.Questions[0].Keywords)
	assert.Equal(t, PriorityMedium, analysis.Questions[1].Priority)
}

func TestAnalyzeDocumentReturnsNilWhenNoQuestions(t *testing.T) {
	cfg := testConfig(t, `{"questions": []}`)
	ca := NewCounterfactualAgent(cfg)

	analysis, err := ca.AnalyzeDocument(context.Background(), "content", "title")
	require.NoError(t, err)
	assert.Nil(t, analysis)
}
