package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 10
)

type searchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// SearchTool performs full-text search over the knowledge base.
type SearchTool struct {
	Gateway Gateway
}

func (t *SearchTool) Name() string { return "search_knowledge_base" }

func (t *SearchTool) Description() string {
	return "PRIMARY TOOL: Search the company knowledge base for relevant Q&A pairs using full-text search. " +
		"Use this tool first for any user question before responding. " +
		"If you don't find what you need, try different keywords or search terms. " +
		"Returns matching question-answer pairs with their IDs."
}

func (t *SearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query to find relevant Q&A pairs. Be specific with keywords.",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Number of results to return (1-10)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args searchInput
	if err := json.Unmarshal(input, &args); err != nil {
		return fmt.Sprintf("Error searching knowledge base: %v", err), nil
	}

	resp, err := t.Gateway.SearchQA(ctx, args.Query, clampLimit(args.Limit, defaultSearchLimit, maxSearchLimit))
	if err != nil {
		return fmt.Sprintf("Error searching knowledge base: %v", err), nil
	}

	if resp.Count == 0 {
		return "No relevant information found in the knowledge base.", nil
	}

	blocks := make([]string, 0, len(resp.QAPairs))
	for i, qa := range resp.QAPairs {
		blocks = append(blocks, fmt.Sprintf("Result %d:\nQuestion: %s\nAnswer: %s\nID: %s", i+1, qa.Question, qa.Answer, qa.ID))
	}
	return strings.Join(blocks, "\n\n"), nil
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
