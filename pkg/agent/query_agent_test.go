package agent

import (
	"context"
	"testing"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	docs []document.Document
}

func (b *fakeBackend) FindAbstracts(tsquery string, limit, offset int) ([]document.Document, error) {
	start := offset
	if start > len(b.docs) {
		start = len(b.docs)
	}
	end := start + limit
	if end > len(b.docs) {
		end = len(b.docs)
	}
	return b.docs[start:end], nil
}

func (b *fakeBackend) FetchDocumentsByIDs(ids []int64) ([]document.Document, error) {
	var out []document.Document
	for _, id := range ids {
		for _, d := range b.docs {
			if d.ID == id {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func TestConvertQuestionBuildsSanitizedQuery(t *testing.T) {
	cfg := testConfig(t, `{"terms": ["heart attack", "aspirin"], "operator": "AND"}`)
	qa := NewQueryAgent(cfg, &fakeBackend{})

	query, err := qa.ConvertQuestion(context.Background(), "does aspirin prevent heart attack?")
	require.NoError(t, err)
	assert.Equal(t, "('heart attack'&aspirin)", query)
}

func TestConvertQuestionEmptyQuestion(t *testing.T) {
	cfg := testConfig(t)
	qa := NewQueryAgent(cfg, &fakeBackend{})

	_, err := qa.ConvertQuestion(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestConvertQuestionFallsBackOnUnparsableResponse(t *testing.T) {
	cfg := testConfig(t, "not json at all")
	qa := NewQueryAgent(cfg, &fakeBackend{})

	query, err := qa.ConvertQuestion(context.Background(), "aspirin and heart disease")
	require.NoError(t, err)
	assert.NotEmpty(t, query)
}

func TestFindAbstractsDelegatesToBackend(t *testing.T) {
	backend := &fakeBackend{docs: []document.Document{{ID: 1}, {ID: 2}, {ID: 3}}}
	qa := NewQueryAgent(testConfig(t), backend)

	docs, err := qa.FindAbstracts("aspirin", 0, 2)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestGenerateBroaderQueryFallsBackOnFailure(t *testing.T) {
	cfg := testConfig(t, "")
	qa := NewQueryAgent(cfg, &fakeBackend{})

	query, err := qa.GenerateBroaderQuery(context.Background(), "aspirin&heart", "aspirin and heart", 1)
	require.NoError(t, err)
	assert.Equal(t, "aspirin&heart", query)
}

func TestGenerateBroaderQueryUsesAttemptInstructions(t *testing.T) {
	cfg := testConfig(t, `{"terms": ["antiplatelet", "heart"], "operator": "OR"}`)
	qa := NewQueryAgent(cfg, &fakeBackend{})

	query, err := qa.GenerateBroaderQuery(context.Background(), "aspirin&heart", "aspirin and heart", 1)
	require.NoError(t, err)
	assert.Equal(t, "(antiplatelet|heart)", query)
}
