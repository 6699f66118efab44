package kb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
	"github.com/harunnryd/hibiki/internal/index"
)

const (
	defaultSemanticTopK = 5
	maxSemanticTopK     = 20
)

// Semantic search modes.
const (
	SemanticModeLocal   = "local"
	SemanticModeBackend = "backend"
	SemanticModeOff     = "off"
)

type semanticInput struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Index answers similarity queries over the locally maintained vector index.
type Index interface {
	Query(ctx context.Context, text string, topK int) ([]index.ScoredQA, error)
}

// SemanticSearchTool searches the knowledge base by semantic similarity.
// Depending on Mode it queries the local vector index or the backend's
// semantic endpoint; when neither is available it falls back to full-text
// search so the agent always gets an answer.
type SemanticSearchTool struct {
	Gateway  Gateway
	Index    Index
	Mode     string
	Fallback *SearchTool
}

func (t *SemanticSearchTool) Name() string { return "semantic_search_knowledge_base" }

func (t *SemanticSearchTool) Description() string {
	return "Search the knowledge base using semantic similarity. " +
		"Use this for finding conceptually related content, even if keywords don't match exactly."
}

func (t *SemanticSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The semantic search query",
			},
			"top_k": map[string]interface{}{
				"type":        "integer",
				"description": "Number of semantically similar results (1-20)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SemanticSearchTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args semanticInput
	if err := json.Unmarshal(input, &args); err != nil {
		return fmt.Sprintf("Error in semantic search: %v", err), nil
	}
	topK := clampLimit(args.TopK, defaultSemanticTopK, maxSemanticTopK)

	switch t.Mode {
	case SemanticModeLocal:
		if t.Index != nil {
			return t.executeLocal(ctx, args.Query, topK)
		}
	case SemanticModeBackend:
		return t.executeBackend(ctx, args.Query, topK)
	}

	return t.fallback(ctx, args.Query, topK)
}

func (t *SemanticSearchTool) executeLocal(ctx context.Context, query string, topK int) (string, error) {
	matches, err := t.Index.Query(ctx, query, topK)
	if err != nil {
		// An index that has never been refreshed is not an error worth
		// surfacing; full-text search still works.
		if errors.Is(err, hibikiErrors.ErrNotFound) {
			return t.fallback(ctx, query, topK)
		}
		return fmt.Sprintf("Error in semantic search: %v", err), nil
	}
	if len(matches) == 0 {
		return "No semantically similar information found.", nil
	}

	blocks := make([]string, 0, len(matches))
	for i, m := range matches {
		blocks = append(blocks, fmt.Sprintf("Result %d:\nQuestion: %s\nAnswer: %s", i+1, m.QA.Question, m.QA.Answer))
	}
	return strings.Join(blocks, "\n\n"), nil
}

func (t *SemanticSearchTool) executeBackend(ctx context.Context, query string, topK int) (string, error) {
	resp, err := t.Gateway.SemanticSearchQA(ctx, query, topK)
	if err != nil {
		return fmt.Sprintf("Error in semantic search: %v", err), nil
	}
	if resp.Count == 0 {
		return "No semantically similar information found.", nil
	}

	blocks := make([]string, 0, len(resp.Results))
	for i, m := range resp.Results {
		blocks = append(blocks, fmt.Sprintf("Result %d:\nQuestion: %s\nAnswer: %s", i+1, m.QAPair.Question, m.QAPair.Answer))
	}
	return strings.Join(blocks, "\n\n"), nil
}

func (t *SemanticSearchTool) fallback(ctx context.Context, query string, topK int) (string, error) {
	search := t.Fallback
	if search == nil {
		search = &SearchTool{Gateway: t.Gateway}
	}
	input, err := json.Marshal(searchInput{Query: query, Limit: topK})
	if err != nil {
		return fmt.Sprintf("Error in semantic search: %v", err), nil
	}
	return search.Execute(ctx, input)
}
