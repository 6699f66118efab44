package chat

import (
	"encoding/json"
	"fmt"

	"github.com/harunnryd/hibiki/internal/backend"
	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
	"github.com/harunnryd/hibiki/internal/model/contract"
)

// unknownToolName is used when a persisted tool message does not record
// which capability produced it.
const unknownToolName = "unknown"

// rawToolCall is the OpenAI-compatible tool call shape stored in the
// raw_message payload of tool-invoking assistant messages.
type rawToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ReplayMessages converts the persisted message log back into dialogue turns
// ready to hand to the agent runtime.
//
// The log is append-only and may contain partial turns from interrupted
// streams. A tool-invoking assistant turn is replayed only with the calls
// that have a matching tool-role completion record; a turn left with no
// completed calls and no content is dropped entirely, because an unanswered
// tool invocation is invalid input for the runtime. Order is otherwise
// preserved exactly.
func ReplayMessages(msgs []backend.Message) ([]contract.Message, error) {
	completed := completedCallIDs(msgs)

	turns := make([]contract.Message, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case contract.RoleUser:
			turns = append(turns, contract.Message{
				Role:    contract.RoleUser,
				Content: rawContent(msg),
			})

		case contract.RoleAssistant:
			turn, keep, err := replayAssistant(msg, completed)
			if err != nil {
				return nil, err
			}
			if keep {
				turns = append(turns, turn)
			}

		case contract.RoleTool:
			turns = append(turns, contract.Message{
				Role:       contract.RoleTool,
				Content:    rawContent(msg),
				ToolCallID: rawCallID(msg),
				Name:       rawToolName(msg),
			})

		case contract.RoleSystem:
			// Persisted logs normally carry no system messages, but a
			// hand-seeded one is tolerated.
			turns = append(turns, contract.Message{
				Role:    contract.RoleSystem,
				Content: rawContent(msg),
			})
		}
	}
	return turns, nil
}

func replayAssistant(msg backend.Message, completed map[string]bool) (contract.Message, bool, error) {
	rawCalls, hasCalls := msg.RawMessage["tool_calls"]
	content := rawContent(msg)

	if !hasCalls {
		return contract.Message{Role: contract.RoleAssistant, Content: content}, true, nil
	}

	calls, err := parseToolCalls(msg.ID, rawCalls)
	if err != nil {
		return contract.Message{}, false, err
	}

	kept := make([]*contract.ToolCall, 0, len(calls))
	for _, call := range calls {
		if completed[call.ID] {
			kept = append(kept, call)
		}
	}

	if len(kept) > 0 {
		return contract.Message{
			Role:      contract.RoleAssistant,
			Content:   content,
			ToolCalls: kept,
		}, true, nil
	}
	if content != "" {
		return contract.Message{Role: contract.RoleAssistant, Content: content}, true, nil
	}

	// Orphaned partial turn from an interrupted run.
	return contract.Message{}, false, nil
}

func parseToolCalls(messageID string, value interface{}) ([]*contract.ToolCall, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, hibikiErrors.InvalidModelOutput(
			fmt.Sprintf("message %s: encode tool_calls payload: %v", messageID, err))
	}

	var raw []rawToolCall
	if err := json.Unmarshal(encoded, &raw); err != nil {
		return nil, hibikiErrors.InvalidModelOutput(
			fmt.Sprintf("message %s: malformed tool_calls payload: %v", messageID, err))
	}

	calls := make([]*contract.ToolCall, 0, len(raw))
	for _, rc := range raw {
		if rc.ID == "" || rc.Function.Name == "" {
			return nil, hibikiErrors.InvalidModelOutput(
				fmt.Sprintf("message %s: tool call missing id or name", messageID))
		}
		calls = append(calls, &contract.ToolCall{
			ID:    rc.ID,
			Name:  rc.Function.Name,
			Input: rc.Function.Arguments,
		})
	}
	return calls, nil
}

// completedCallIDs collects the identifiers of every tool call that has a
// matching tool-role completion record.
func completedCallIDs(msgs []backend.Message) map[string]bool {
	completed := make(map[string]bool)
	for _, msg := range msgs {
		if msg.Role != contract.RoleTool {
			continue
		}
		if id := rawCallID(msg); id != "" {
			completed[id] = true
		}
	}
	return completed
}

func rawContent(msg backend.Message) string {
	if s, ok := msg.RawMessage["content"].(string); ok {
		return s
	}
	if msg.Content != nil {
		return *msg.Content
	}
	return ""
}

func rawCallID(msg backend.Message) string {
	if s, ok := msg.RawMessage["tool_call_id"].(string); ok && s != "" {
		return s
	}
	if msg.ToolCallID != nil {
		return *msg.ToolCallID
	}
	return ""
}

func rawToolName(msg backend.Message) string {
	if s, ok := msg.RawMessage["name"].(string); ok && s != "" {
		return s
	}
	return unknownToolName
}
