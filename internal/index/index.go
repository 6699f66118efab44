// Package index maintains a local vector index over knowledge-base entries
// for semantic search when the backend has no vector store of its own.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"github.com/philippgille/chromem-go"

	"github.com/harunnryd/hibiki/internal/backend"
	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
)

const (
	qaCollection  = "qa"
	stateFileName = "state.json"
	lockFileName  = "index.lock"

	lockRetryInterval = 250 * time.Millisecond
)

// ScoredQA is a knowledge-base entry with its similarity score.
type ScoredQA struct {
	QA    backend.QAPair
	Score float32
}

// Embedder produces embedding vectors for text.
type Embedder interface {
	RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error)
}

// Lister pages the full knowledge base out of the backend.
type Lister interface {
	ListQA(ctx context.Context) ([]backend.QAPair, error)
}

// State records the last successful refresh.
type State struct {
	LastSync time.Time `json:"last_sync"`
	Count    int       `json:"count"`
}

// Index is a persistent vector index over Q&A pairs.
type Index struct {
	dir            string
	db             *chromem.DB
	embedder       Embedder
	embeddingModel string
	lister         Lister
}

func New(dir string, lister Lister, embedder Embedder, embeddingModel string) (*Index, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	// Nil embedding func everywhere: vectors are always provided explicitly.
	db, err := chromem.NewPersistentDB(filepath.Join(dir, "vectors"), false)
	if err != nil {
		return nil, fmt.Errorf("init vector db: %w", err)
	}

	return &Index{
		dir:            dir,
		db:             db,
		embedder:       embedder,
		embeddingModel: embeddingModel,
		lister:         lister,
	}, nil
}

// Refresh re-embeds the entire knowledge base and records the sync in
// state.json. A file lock ensures only one process refreshes at a time;
// a concurrent refresh is reported as a transient error.
func (ix *Index) Refresh(ctx context.Context) (*State, error) {
	return ix.refresh(ctx, 0)
}

// RefreshWait behaves like Refresh but waits up to lockWait for a concurrent
// refresh to release the lock before giving up.
func (ix *Index) RefreshWait(ctx context.Context, lockWait time.Duration) (*State, error) {
	return ix.refresh(ctx, lockWait)
}

func (ix *Index) refresh(ctx context.Context, lockWait time.Duration) (*State, error) {
	lock := flock.New(filepath.Join(ix.dir, lockFileName))

	var locked bool
	var err error
	if lockWait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, lockWait)
		defer cancel()
		locked, err = lock.TryLockContext(waitCtx, lockRetryInterval)
		if err != nil && waitCtx.Err() != nil {
			err = nil // treat an expired wait like a failed try
		}
	} else {
		locked, err = lock.TryLock()
	}
	if err != nil {
		return nil, fmt.Errorf("acquire index lock: %w", err)
	}
	if !locked {
		return nil, hibikiErrors.Transient("index refresh already in progress")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Error("Failed to release index lock", "error", err)
		}
	}()

	start := time.Now()
	pairs, err := ix.lister.ListQA(ctx)
	if err != nil {
		return nil, fmt.Errorf("list knowledge base: %w", err)
	}

	col, err := ix.db.GetOrCreateCollection(qaCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}

	for _, qa := range pairs {
		content := qa.Question + "\n" + qa.Answer
		vector, err := ix.embedder.RouteEmbedding(ctx, ix.embeddingModel, content)
		if err != nil {
			return nil, fmt.Errorf("embed qa %s: %w", qa.ID, err)
		}

		// AddDocuments is upsert in chromem.
		err = col.AddDocuments(ctx, []chromem.Document{
			{
				ID:        qa.ID,
				Embedding: vector,
				Content:   content,
				Metadata: map[string]string{
					"question": qa.Question,
					"answer":   qa.Answer,
				},
			},
		}, 1)
		if err != nil {
			return nil, fmt.Errorf("upsert qa %s: %w", qa.ID, err)
		}
	}

	state := &State{LastSync: time.Now().UTC(), Count: len(pairs)}
	if err := ix.saveState(state); err != nil {
		return nil, err
	}

	slog.Info("Index refresh complete", "count", len(pairs), "duration", time.Since(start))
	return state, nil
}

// Query returns the topK most similar entries. An index that has never been
// refreshed returns ErrNotFound so callers can fall back to full-text search.
func (ix *Index) Query(ctx context.Context, text string, topK int) ([]ScoredQA, error) {
	state, err := ix.LoadState()
	if err != nil {
		return nil, err
	}
	if state == nil || state.Count == 0 {
		return nil, hibikiErrors.NotFound("index has never been refreshed")
	}

	col := ix.db.GetCollection(qaCollection, nil)
	if col == nil {
		return nil, hibikiErrors.NotFound("index collection missing")
	}

	vector, err := ix.embedder.RouteEmbedding(ctx, ix.embeddingModel, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	if count := col.Count(); topK > count {
		topK = count
	}
	if topK <= 0 {
		return []ScoredQA{}, nil
	}

	docs, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	matches := make([]ScoredQA, 0, len(docs))
	for _, doc := range docs {
		matches = append(matches, ScoredQA{
			QA: backend.QAPair{
				ID:       doc.ID,
				Question: doc.Metadata["question"],
				Answer:   doc.Metadata["answer"],
			},
			Score: doc.Similarity,
		})
	}
	return matches, nil
}

// LoadState reads state.json; a missing file means the index was never
// refreshed and returns (nil, nil).
func (ix *Index) LoadState() (*State, error) {
	data, err := os.ReadFile(filepath.Join(ix.dir, stateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse index state: %w", err)
	}
	return &state, nil
}

func (ix *Index) saveState(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(ix.dir, stateFileName)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write index state: %w", err)
	}
	return nil
}
