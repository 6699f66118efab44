package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/harunnryd/hibiki/internal/agent"
	"github.com/harunnryd/hibiki/internal/backend"
	"github.com/harunnryd/hibiki/internal/logger"
	"github.com/harunnryd/hibiki/internal/model/contract"
)

const (
	previewLimit     = 300
	truncationMarker = "..."

	statusSuccess = "success"
	statusError   = "error"
)

// Gateway is the persistence surface the orchestrator commits turns to.
type Gateway interface {
	ListMessages(ctx context.Context, conversationID string) ([]backend.Message, error)
	SaveMessage(ctx context.Context, req backend.SaveMessageRequest) (*backend.Message, error)
}

// Runtime produces the event stream for one agent turn.
type Runtime interface {
	Run(ctx context.Context, history []contract.Message) <-chan agent.Event
}

// Orchestrator drives one streamed conversation turn: reconstruct history,
// persist the user message, run the agent, commit every completed record,
// and emit the normalized event stream.
type Orchestrator struct {
	gateway      Gateway
	runtime      Runtime
	systemPrompt string
}

func NewOrchestrator(gateway Gateway, runtime Runtime, systemPrompt string) *Orchestrator {
	return &Orchestrator{
		gateway:      gateway,
		runtime:      runtime,
		systemPrompt: systemPrompt,
	}
}

// callRecord tracks one requested tool call until its completion arrives.
type callRecord struct {
	id      string
	name    string
	args    string
	matched bool
}

// turnState accumulates one invocation. calls holds the current
// tool-invocation group; groupSaved marks whether the group's assistant
// message has been committed.
type turnState struct {
	calls      []*callRecord
	groupSaved bool
	final      strings.Builder
}

// Stream processes userMessage against the conversation and returns the
// event stream. The channel is closed after the terminal event; the stream
// is finite and not restartable. Persistence already performed when an
// error occurs is never rolled back; the orphan-drop rule on the next load
// makes partial turns harmless.
func (o *Orchestrator) Stream(ctx context.Context, conversationID string, userMessage string) <-chan StreamEvent {
	out := make(chan StreamEvent)

	go func() {
		defer close(out)

		// The runtime runs under a child context so that bailing out of this
		// goroutine, for any reason, also stops the agent loop instead of
		// leaving it blocked on a channel nobody reads.
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		emit := func(ev StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(stage string, err error) {
			slog.Error("Turn failed", "stage", stage, "conversation_id", conversationID,
				"error", err, "trace_id", logger.GetTraceID(ctx))
			emit(StreamEvent{Type: StreamError, Message: err.Error()})
		}

		msgs, err := o.gateway.ListMessages(ctx, conversationID)
		if err != nil {
			fail("load", err)
			return
		}
		history, err := ReplayMessages(msgs)
		if err != nil {
			fail("replay", err)
			return
		}
		if len(history) == 0 || history[0].Role != contract.RoleSystem {
			history = append([]contract.Message{
				{Role: contract.RoleSystem, Content: o.systemPrompt},
			}, history...)
		}

		// The user's utterance is committed before the agent runs so it
		// survives any agent failure.
		if err := o.saveUserMessage(ctx, conversationID, userMessage); err != nil {
			fail("save user message", err)
			return
		}
		history = append(history, contract.Message{Role: contract.RoleUser, Content: userMessage})

		state := &turnState{}
		for ev := range o.runtime.Run(ctx, history) {
			switch ev.Kind {
			case agent.EventContentDelta:
				state.final.WriteString(ev.Content)
				if !emit(StreamEvent{Type: StreamContentDelta, Content: ev.Content}) {
					return
				}

			case agent.EventToolStarted:
				rec := state.startCall(ev.ToolName, ev.ToolInput)
				if !state.groupSaved {
					if err := o.saveToolCallGroup(ctx, conversationID, state.calls); err != nil {
						fail("save tool call group", err)
						return
					}
					state.groupSaved = true
				}
				if !emit(StreamEvent{
					Type:      StreamToolCallStarted,
					CallID:    rec.id,
					ToolName:  rec.name,
					Arguments: rec.args,
				}) {
					return
				}

			case agent.EventToolFinished:
				rec, pending := state.finishCall(ev.ToolName)
				if pending {
					if err := o.saveToolResult(ctx, conversationID, rec, ev.ToolOutput); err != nil {
						fail("save tool result", err)
						return
					}
				}
				if !emit(StreamEvent{
					Type:     StreamToolCallFinished,
					CallID:   rec.id,
					ToolName: rec.name,
					Status:   classifyToolOutput(ev.ToolOutput),
					Preview:  previewToolOutput(ev.ToolOutput),
				}) {
					return
				}

			case agent.EventTurnEnded:
				if final := state.final.String(); final != "" {
					if err := o.saveFinalResponse(ctx, conversationID, final); err != nil {
						fail("save final response", err)
						return
					}
				}
				return

			case agent.EventError:
				fail("runtime", ev.Err)
				return
			}
		}
	}()

	return out
}

// startCall assigns a fresh call ID and appends the call to the current
// group. A start arriving after the group was committed begins a new group.
func (s *turnState) startCall(name, args string) *callRecord {
	if s.groupSaved {
		s.calls = nil
		s.groupSaved = false
	}
	rec := &callRecord{
		id:   ulid.Make().String(),
		name: name,
		args: args,
	}
	s.calls = append(s.calls, rec)
	return rec
}

// finishCall pairs a completion with the first unmatched call of the same
// capability name; the runtime does not expose call identifiers at
// completion time. A completion that matches nothing is reported with a
// fresh ID but not persisted: a tool record whose tool_call_id references
// no assistant entry would pair with nothing on replay.
func (s *turnState) finishCall(name string) (rec *callRecord, pending bool) {
	for _, rec := range s.calls {
		if !rec.matched && rec.name == name {
			rec.matched = true
			return rec, true
		}
	}
	for _, rec := range s.calls {
		if !rec.matched {
			slog.Warn("Tool completion matched by position, not name", "expected", rec.name, "got", name)
			rec.matched = true
			return rec, true
		}
	}
	slog.Warn("Tool completion with no pending call", "tool", name)
	return &callRecord{id: ulid.Make().String(), name: name, matched: true}, false
}

func (o *Orchestrator) saveUserMessage(ctx context.Context, conversationID, content string) error {
	_, err := o.gateway.SaveMessage(ctx, backend.SaveMessageRequest{
		ConversationID: conversationID,
		Role:           contract.RoleUser,
		Content:        &content,
		RawMessage: map[string]interface{}{
			"role":    contract.RoleUser,
			"content": content,
		},
	})
	return err
}

// saveToolCallGroup commits the tool-invoking assistant message before any
// capability executes, so a crash mid-execution still leaves a replayable
// partial record.
func (o *Orchestrator) saveToolCallGroup(ctx context.Context, conversationID string, calls []*callRecord) error {
	payload := make([]map[string]interface{}, 0, len(calls))
	for _, rec := range calls {
		payload = append(payload, map[string]interface{}{
			"id":   rec.id,
			"type": "function",
			"function": map[string]interface{}{
				"name":      rec.name,
				"arguments": rec.args,
			},
		})
	}

	_, err := o.gateway.SaveMessage(ctx, backend.SaveMessageRequest{
		ConversationID: conversationID,
		Role:           contract.RoleAssistant,
		Content:        nil,
		RawMessage: map[string]interface{}{
			"role":       contract.RoleAssistant,
			"content":    nil,
			"tool_calls": payload,
		},
	})
	return err
}

func (o *Orchestrator) saveToolResult(ctx context.Context, conversationID string, rec *callRecord, output string) error {
	_, err := o.gateway.SaveMessage(ctx, backend.SaveMessageRequest{
		ConversationID: conversationID,
		Role:           contract.RoleTool,
		Content:        &output,
		ToolCallID:     &rec.id,
		RawMessage: map[string]interface{}{
			"role":         contract.RoleTool,
			"content":      output,
			"tool_call_id": rec.id,
			"name":         rec.name,
		},
	})
	return err
}

func (o *Orchestrator) saveFinalResponse(ctx context.Context, conversationID, content string) error {
	_, err := o.gateway.SaveMessage(ctx, backend.SaveMessageRequest{
		ConversationID: conversationID,
		Role:           contract.RoleAssistant,
		Content:        &content,
		RawMessage: map[string]interface{}{
			"role":    contract.RoleAssistant,
			"content": content,
		},
	})
	return err
}

// classifyToolOutput is a display hint only: outputs that look like misses
// or failures are flagged so clients can render them differently.
func classifyToolOutput(output string) string {
	lower := strings.ToLower(output)
	for _, marker := range []string{"no relevant", "not found", "error"} {
		if strings.Contains(lower, marker) {
			return statusError
		}
	}
	return statusSuccess
}

func previewToolOutput(output string) string {
	runes := []rune(output)
	if len(runes) <= previewLimit {
		return output
	}
	return string(runes[:previewLimit]) + truncationMarker
}
