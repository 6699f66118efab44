package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type fetchInput struct {
	QAIDs []string `json:"qa_ids"`
}

// FetchTool retrieves specific Q&A pairs by their IDs.
type FetchTool struct {
	Gateway Gateway
}

func (t *FetchTool) Name() string { return "get_qa_by_ids" }

func (t *FetchTool) Description() string {
	return "Retrieve specific Q&A pairs by their IDs. " +
		"Use this when you need to fetch exact Q&A pairs that were previously referenced. " +
		"Each ID should be a valid UUID string."
}

func (t *FetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"qa_ids": map[string]interface{}{
				"type":        "array",
				"description": "List of QA pair UUIDs to retrieve",
				"items":       map[string]interface{}{"type": "string"},
			},
		},
		"required": []string{"qa_ids"},
	}
}

func (t *FetchTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args fetchInput
	if err := json.Unmarshal(input, &args); err != nil {
		return fmt.Sprintf("Error retrieving Q&A pairs: %v", err), nil
	}

	ids := make([]string, 0, len(args.QAIDs))
	for _, raw := range args.QAIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Sprintf("Invalid UUID format: %v", err), nil
		}
		ids = append(ids, id.String())
	}

	resp, err := t.Gateway.GetQAByIDs(ctx, ids)
	if err != nil {
		return fmt.Sprintf("Error retrieving Q&A pairs: %v", err), nil
	}

	if len(resp.QAPairs) == 0 {
		return "No Q&A pairs found for the provided IDs.", nil
	}

	blocks := make([]string, 0, len(resp.QAPairs))
	for _, qa := range resp.QAPairs {
		blocks = append(blocks, fmt.Sprintf("ID: %s\nQuestion: %s\nAnswer: %s", qa.ID, qa.Question, qa.Answer))
	}
	return strings.Join(blocks, "\n\n"), nil
}
