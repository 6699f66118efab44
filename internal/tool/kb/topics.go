package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const topicsListLimit = 100

// TopicsTool lists every question in the knowledge base so the agent can
// see what topics are covered before searching.
type TopicsTool struct {
	Gateway Gateway
}

func (t *TopicsTool) Name() string { return "list_knowledge_base_topics" }

func (t *TopicsTool) Description() string {
	return "List all available Q&A pairs in the knowledge base to see what topics are covered. " +
		"Use this to see what information is available before searching and to get an overview " +
		"of the knowledge base contents."
}

func (t *TopicsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *TopicsTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	_ = input

	// An empty query matches everything.
	resp, err := t.Gateway.SearchQA(ctx, "", topicsListLimit)
	if err != nil {
		return fmt.Sprintf("Error listing topics: %v", err), nil
	}

	if resp.Count == 0 {
		return "The knowledge base is currently empty. No Q&A pairs have been added yet.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Knowledge Base Contents (%d Q&A pairs):\n\n", resp.Count)
	for i, qa := range resp.QAPairs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s (ID: %s)", i+1, qa.Question, qa.ID)
	}
	return b.String(), nil
}
