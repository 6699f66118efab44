package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/hibiki/internal/backend"
	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
)

type stubLister struct {
	pairs []backend.QAPair
	err   error
}

func (s *stubLister) ListQA(ctx context.Context) ([]backend.QAPair, error) {
	return s.pairs, s.err
}

type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func TestQueryBeforeRefreshReturnsNotFound(t *testing.T) {
	ix, err := New(t.TempDir(), &stubLister{}, &stubEmbedder{}, "text-embedding-004")
	require.NoError(t, err)

	_, err = ix.Query(context.Background(), "anything", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, hibikiErrors.ErrNotFound))
}

func TestRefreshThenQuery(t *testing.T) {
	lister := &stubLister{pairs: []backend.QAPair{
		{ID: "id-1", Question: "What is the refund policy?", Answer: "30 days."},
		{ID: "id-2", Question: "How do I reset my password?", Answer: "Use the reset link."},
	}}
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"What is the refund policy?\n30 days.":               {1, 0, 0},
		"How do I reset my password?\nUse the reset link.":   {0, 1, 0},
		"refund window":                                      {1, 0, 0},
	}}

	ix, err := New(t.TempDir(), lister, embedder, "text-embedding-004")
	require.NoError(t, err)

	state, err := ix.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, state.Count)
	assert.False(t, state.LastSync.IsZero())

	matches, err := ix.Query(context.Background(), "refund window", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "id-1", matches[0].QA.ID)
	assert.Equal(t, "What is the refund policy?", matches[0].QA.Question)
	assert.Equal(t, "30 days.", matches[0].QA.Answer)
	assert.InDelta(t, 1.0, float64(matches[0].Score), 0.001)
}

func TestQueryClampsTopKToCollectionSize(t *testing.T) {
	lister := &stubLister{pairs: []backend.QAPair{
		{ID: "id-1", Question: "Q1", Answer: "A1"},
	}}
	embedder := &stubEmbedder{}

	ix, err := New(t.TempDir(), lister, embedder, "text-embedding-004")
	require.NoError(t, err)

	_, err = ix.Refresh(context.Background())
	require.NoError(t, err)

	matches, err := ix.Query(context.Background(), "anything", 20)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRefreshPersistsState(t *testing.T) {
	dir := t.TempDir()
	lister := &stubLister{pairs: []backend.QAPair{{ID: "id-1", Question: "Q1", Answer: "A1"}}}

	ix, err := New(dir, lister, &stubEmbedder{}, "text-embedding-004")
	require.NoError(t, err)

	_, err = ix.Refresh(context.Background())
	require.NoError(t, err)

	reopened, err := New(dir, lister, &stubEmbedder{}, "text-embedding-004")
	require.NoError(t, err)

	state, err := reopened.LoadState()
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 1, state.Count)
}

func TestRefreshListErrorPropagates(t *testing.T) {
	lister := &stubLister{err: errors.New("backend down")}

	ix, err := New(t.TempDir(), lister, &stubEmbedder{}, "text-embedding-004")
	require.NoError(t, err)

	_, err = ix.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestRefreshWaitAcquiresFreeLock(t *testing.T) {
	lister := &stubLister{pairs: []backend.QAPair{{ID: "id-1", Question: "Q1", Answer: "A1"}}}

	ix, err := New(t.TempDir(), lister, &stubEmbedder{}, "text-embedding-004")
	require.NoError(t, err)

	state, err := ix.RefreshWait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Count)
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	ix, err := New(t.TempDir(), &stubLister{}, &stubEmbedder{}, "text-embedding-004")
	require.NoError(t, err)

	_, err = NewScheduler(ix, "not a cron spec")
	require.Error(t, err)

	_, err = NewScheduler(ix, "@every 1h")
	require.NoError(t, err)
}
