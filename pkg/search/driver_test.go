package search

import (
	"context"
	"errors"
	"testing"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuery struct {
	batches      [][]document.Document
	batchIdx     int
	broaderCalls int
}

func (f *fakeQuery) FindAbstracts(query string, offset, limit int) ([]document.Document, error) {
	if f.batchIdx >= len(f.batches) {
		return nil, nil
	}
	b := f.batches[f.batchIdx]
	f.batchIdx++
	return b, nil
}

func (f *fakeQuery) GenerateBroaderQuery(ctx context.Context, originalQuery, question string, attempt int) (string, error) {
	f.broaderCalls++
	return "broader", nil
}

type fakeScoring struct {
	scoreFor func(id int64) (float64, error)
}

func (f *fakeScoring) EvaluateDocument(ctx context.Context, question string, doc document.Document) (document.ScoringResult, error) {
	score, err := f.scoreFor(doc.ID)
	if err != nil {
		return document.ScoringResult{}, err
	}
	return document.ScoringResult{DocumentID: doc.ID, Score: score}, nil
}

func docs(ids ...int64) []document.Document {
	out := make([]document.Document, len(ids))
	for i, id := range ids {
		out[i] = document.Document{ID: id}
	}
	return out
}

func TestRunStopsEarlyWhenMinRelevantMet(t *testing.T) {
	q := &fakeQuery{batches: [][]document.Document{docs(1, 2, 3, 4, 5), {}}}
	s := &fakeScoring{scoreFor: func(id int64) (float64, error) { return 4, nil }}

	d := New(q, s)
	allDocs, scored, err := d.Run(context.Background(), "q", "test&query", Params{
		MinRelevant: 3, ScoreThreshold: 2.5, MaxRetry: 3, BatchSize: 5,
	}, nil)

	require.NoError(t, err)
	assert.Len(t, allDocs, 5)
	assert.Len(t, scored, 5)
}

func TestRunOffsetPaginationAcrossBatches(t *testing.T) {
	q := &fakeQuery{batches: [][]document.Document{docs(1, 2, 3), docs(4, 5, 6), {}}}
	s := &fakeScoring{scoreFor: func(id int64) (float64, error) {
		switch {
		case id <= 2:
			return 3, nil
		case id == 3:
			return 2, nil
		default:
			return 4, nil
		}
	}}

	d := New(q, s)
	allDocs, scored, err := d.Run(context.Background(), "q", "test&query", Params{
		MinRelevant: 5, ScoreThreshold: 2.5, MaxRetry: 3, BatchSize: 3,
	}, nil)

	require.NoError(t, err)
	assert.Len(t, allDocs, 6)
	qualifying := 0
	for _, sc := range scored {
		if sc.Result.Score >= 2.5 {
			qualifying++
		}
	}
	assert.Equal(t, 5, qualifying)
}

func TestRunDeduplicatesAcrossBatches(t *testing.T) {
	q := &fakeQuery{batches: [][]document.Document{docs(1, 2), docs(2, 3), {}}}
	s := &fakeScoring{scoreFor: func(id int64) (float64, error) { return 2, nil }}

	d := New(q, s)
	allDocs, _, err := d.Run(context.Background(), "q", "test&query", Params{
		MinRelevant: 5, ScoreThreshold: 1.5, MaxRetry: 3, BatchSize: 2,
	}, nil)

	require.NoError(t, err)
	assert.Len(t, allDocs, 3)
}

func TestRunBroadensQueryWhenExhausted(t *testing.T) {
	q := &fakeQuery{batches: [][]document.Document{docs(1, 2), {}, docs(10, 11, 12)}}
	s := &fakeScoring{scoreFor: func(id int64) (float64, error) { return 4, nil }}

	d := New(q, s)
	allDocs, _, err := d.Run(context.Background(), "q", "test&query", Params{
		MinRelevant: 4, ScoreThreshold: 2.5, MaxRetry: 3, BatchSize: 2,
	}, nil)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, q.broaderCalls, 1)
	assert.GreaterOrEqual(t, len(allDocs), 2)
}

func TestRunScoringFailureToleratedAndCounted(t *testing.T) {
	q := &fakeQuery{batches: [][]document.Document{docs(1, 2, 3), {}}}
	s := &fakeScoring{scoreFor: func(id int64) (float64, error) {
		if id == 2 {
			return 0, errors.New("llm failure")
		}
		return 4, nil
	}}

	d := New(q, s)
	allDocs, scored, err := d.Run(context.Background(), "q", "test&query", Params{
		MinRelevant: 5, ScoreThreshold: 2.5, MaxRetry: 1, BatchSize: 3,
	}, nil)

	require.NoError(t, err)
	assert.Len(t, allDocs, 3)
	assert.Len(t, scored, 2)
}

func TestRunRequiresScoringAgent(t *testing.T) {
	d := New(&fakeQuery{}, nil)
	_, _, err := d.Run(context.Background(), "q", "query", Params{MinRelevant: 1, MaxRetry: 1, BatchSize: 1}, nil)
	require.ErrorIs(t, err, ErrNilScoringAgent)
}

func TestRunInvokesProgressCallback(t *testing.T) {
	q := &fakeQuery{batches: [][]document.Document{docs(1, 2, 3), {}}}
	s := &fakeScoring{scoreFor: func(id int64) (float64, error) { return 4, nil }}

	var messages []string
	d := New(q, s)
	_, _, err := d.Run(context.Background(), "q", "test&query", Params{
		MinRelevant: 3, ScoreThreshold: 2.5, MaxRetry: 1, BatchSize: 3,
	}, func(message string, data map[string]any) {
		messages = append(messages, message)
	})

	require.NoError(t, err)
	assert.NotEmpty(t, messages)
}
