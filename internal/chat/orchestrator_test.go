package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/hibiki/internal/agent"
	"github.com/harunnryd/hibiki/internal/backend"
	"github.com/harunnryd/hibiki/internal/model/contract"
)

const testSystemPrompt = "Always search the knowledge base before answering."

type fakeGateway struct {
	messages    []backend.Message
	listErr     error
	saved       []backend.SaveMessageRequest
	saveErrOn   int // 1-based index of the SaveMessage call that fails; 0 = never
	saveCallNum int
}

func (g *fakeGateway) ListMessages(ctx context.Context, conversationID string) ([]backend.Message, error) {
	return g.messages, g.listErr
}

func (g *fakeGateway) SaveMessage(ctx context.Context, req backend.SaveMessageRequest) (*backend.Message, error) {
	g.saveCallNum++
	if g.saveErrOn != 0 && g.saveCallNum == g.saveErrOn {
		return nil, errors.New("persist failed")
	}
	g.saved = append(g.saved, req)
	return &backend.Message{ID: "saved", Role: req.Role}, nil
}

type fakeRuntime struct {
	events  []agent.Event
	history []contract.Message
}

func (r *fakeRuntime) Run(ctx context.Context, history []contract.Message) <-chan agent.Event {
	r.history = history
	out := make(chan agent.Event)
	go func() {
		defer close(out)
		for _, ev := range r.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// chattyRuntime keeps emitting events until its context is cancelled, then
// signals that its goroutine unwound.
type chattyRuntime struct {
	events  []agent.Event
	unwound chan struct{}
}

func (r *chattyRuntime) Run(ctx context.Context, history []contract.Message) <-chan agent.Event {
	out := make(chan agent.Event)
	go func() {
		defer close(out)
		defer close(r.unwound)
		for _, ev := range r.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case out <- agent.Event{Kind: agent.EventContentDelta, Content: "more"}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// blockingRuntime emits one content delta and then holds the turn open until
// its context is cancelled.
type blockingRuntime struct{}

func (r *blockingRuntime) Run(ctx context.Context, history []contract.Message) <-chan agent.Event {
	out := make(chan agent.Event)
	go func() {
		defer close(out)
		select {
		case out <- agent.Event{Kind: agent.EventContentDelta, Content: "partial"}:
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
	}()
	return out
}

func collectStream(ch <-chan StreamEvent) []StreamEvent {
	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestStreamEmptyConversation(t *testing.T) {
	gw := &fakeGateway{}
	rt := &fakeRuntime{events: []agent.Event{
		{Kind: agent.EventContentDelta, Content: "Docker is a container platform."},
		{Kind: agent.EventTurnEnded},
	}}
	o := NewOrchestrator(gw, rt, testSystemPrompt)

	events := collectStream(o.Stream(context.Background(), "conv-1", "What is Docker?"))

	// System turn prepended, user turn appended: runtime sees exactly two.
	require.Len(t, rt.history, 2)
	assert.Equal(t, contract.RoleSystem, rt.history[0].Role)
	assert.Equal(t, testSystemPrompt, rt.history[0].Content)
	assert.Equal(t, contract.RoleUser, rt.history[1].Role)
	assert.Equal(t, "What is Docker?", rt.history[1].Content)

	require.Len(t, events, 1)
	assert.Equal(t, StreamContentDelta, events[0].Type)
	assert.Equal(t, "Docker is a container platform.", events[0].Content)

	// User message then final assistant message.
	require.Len(t, gw.saved, 2)
	assert.Equal(t, contract.RoleUser, gw.saved[0].Role)
	require.NotNil(t, gw.saved[0].Content)
	assert.Equal(t, "What is Docker?", *gw.saved[0].Content)
	assert.Equal(t, contract.RoleAssistant, gw.saved[1].Role)
	require.NotNil(t, gw.saved[1].Content)
	assert.Equal(t, "Docker is a container platform.", *gw.saved[1].Content)
}

func TestStreamUserMessagePersistedBeforeRuntime(t *testing.T) {
	gw := &fakeGateway{}
	rt := &fakeRuntime{events: []agent.Event{
		{Kind: agent.EventError, Err: errors.New("model exploded")},
	}}
	o := NewOrchestrator(gw, rt, testSystemPrompt)

	events := collectStream(o.Stream(context.Background(), "conv-1", "hello"))

	// The user message survives the agent failure.
	require.Len(t, gw.saved, 1)
	assert.Equal(t, contract.RoleUser, gw.saved[0].Role)

	require.Len(t, events, 1)
	assert.Equal(t, StreamError, events[0].Type)
	assert.Contains(t, events[0].Message, "model exploded")
}

func TestStreamToolCycle(t *testing.T) {
	gw := &fakeGateway{}
	rt := &fakeRuntime{events: []agent.Event{
		{Kind: agent.EventToolStarted, ToolName: "search_knowledge_base", ToolInput: `{"query":"refund"}`},
		{Kind: agent.EventToolFinished, ToolName: "search_knowledge_base", ToolOutput: "Result 1:\nQuestion: Q\nAnswer: A\nID: id-1"},
		{Kind: agent.EventContentDelta, Content: "The refund window is 30 days."},
		{Kind: agent.EventTurnEnded},
	}}
	o := NewOrchestrator(gw, rt, testSystemPrompt)

	events := collectStream(o.Stream(context.Background(), "conv-1", "refund policy?"))

	require.Len(t, events, 3)

	started := events[0]
	assert.Equal(t, StreamToolCallStarted, started.Type)
	assert.Equal(t, "search_knowledge_base", started.ToolName)
	assert.Equal(t, `{"query":"refund"}`, started.Arguments)
	assert.NotEmpty(t, started.CallID)

	finished := events[1]
	assert.Equal(t, StreamToolCallFinished, finished.Type)
	assert.Equal(t, started.CallID, finished.CallID)
	assert.Equal(t, "success", finished.Status)
	assert.Equal(t, "Result 1:\nQuestion: Q\nAnswer: A\nID: id-1", finished.Preview)

	assert.Equal(t, StreamContentDelta, events[2].Type)

	// user, tool-invoking assistant, tool result, final assistant.
	require.Len(t, gw.saved, 4)

	asst := gw.saved[1]
	assert.Equal(t, contract.RoleAssistant, asst.Role)
	assert.Nil(t, asst.Content)
	calls, ok := asst.RawMessage["tool_calls"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, calls, 1)
	assert.Equal(t, started.CallID, calls[0]["id"])
	fn, ok := calls[0]["function"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "search_knowledge_base", fn["name"])

	toolSave := gw.saved[2]
	assert.Equal(t, contract.RoleTool, toolSave.Role)
	require.NotNil(t, toolSave.ToolCallID)
	assert.Equal(t, started.CallID, *toolSave.ToolCallID)
	assert.Equal(t, "search_knowledge_base", toolSave.RawMessage["name"])
}

func TestStreamToolGroupCommittedBeforeExecution(t *testing.T) {
	// The tool-invoking assistant message must be the second save (right
	// after the user message, before any tool result exists).
	gw := &fakeGateway{}
	rt := &fakeRuntime{events: []agent.Event{
		{Kind: agent.EventToolStarted, ToolName: "search_knowledge_base", ToolInput: `{}`},
		{Kind: agent.EventToolFinished, ToolName: "search_knowledge_base", ToolOutput: "out"},
		{Kind: agent.EventTurnEnded},
	}}
	o := NewOrchestrator(gw, rt, testSystemPrompt)

	collectStream(o.Stream(context.Background(), "conv-1", "q"))

	require.GreaterOrEqual(t, len(gw.saved), 3)
	assert.Equal(t, contract.RoleUser, gw.saved[0].Role)
	assert.Equal(t, contract.RoleAssistant, gw.saved[1].Role)
	assert.Contains(t, gw.saved[1].RawMessage, "tool_calls")
	assert.Equal(t, contract.RoleTool, gw.saved[2].Role)
}

func TestStreamStatusHeuristic(t *testing.T) {
	cases := []struct {
		output string
		status string
	}{
		{"No relevant information found in the knowledge base.", "error"},
		{"No Q&A pairs found for the provided IDs.", "error"},
		{"Error searching knowledge base: timeout", "error"},
		{"NOT FOUND anywhere", "error"},
		{"Result 1:\nQuestion: Q\nAnswer: A", "success"},
	}

	for _, tc := range cases {
		gw := &fakeGateway{}
		rt := &fakeRuntime{events: []agent.Event{
			{Kind: agent.EventToolStarted, ToolName: "search_knowledge_base", ToolInput: `{}`},
			{Kind: agent.EventToolFinished, ToolName: "search_knowledge_base", ToolOutput: tc.output},
			{Kind: agent.EventTurnEnded},
		}}
		o := NewOrchestrator(gw, rt, testSystemPrompt)

		events := collectStream(o.Stream(context.Background(), "conv-1", "q"))
		require.Len(t, events, 2)
		assert.Equal(t, tc.status, events[1].Status, "output %q", tc.output)
	}
}

func TestStreamPreviewTruncation(t *testing.T) {
	long := strings.Repeat("a", 301)
	exact := strings.Repeat("b", 300)

	gw := &fakeGateway{}
	rt := &fakeRuntime{events: []agent.Event{
		{Kind: agent.EventToolStarted, ToolName: "search_knowledge_base", ToolInput: `{}`},
		{Kind: agent.EventToolFinished, ToolName: "search_knowledge_base", ToolOutput: long},
		{Kind: agent.EventToolStarted, ToolName: "search_knowledge_base", ToolInput: `{}`},
		{Kind: agent.EventToolFinished, ToolName: "search_knowledge_base", ToolOutput: exact},
		{Kind: agent.EventTurnEnded},
	}}
	o := NewOrchestrator(gw, rt, testSystemPrompt)

	events := collectStream(o.Stream(context.Background(), "conv-1", "q"))
	require.Len(t, events, 4)

	truncated := events[1].Preview
	assert.Equal(t, strings.Repeat("a", 300)+"...", truncated)

	assert.Equal(t, exact, events[3].Preview)

	// The persisted tool message carries the full output, not the preview.
	var toolContents []string
	for _, req := range gw.saved {
		if req.Role == contract.RoleTool {
			toolContents = append(toolContents, *req.Content)
		}
	}
	require.Len(t, toolContents, 2)
	assert.Equal(t, long, toolContents[0])
}

func TestStreamNewCycleStartsNewGroup(t *testing.T) {
	gw := &fakeGateway{}
	rt := &fakeRuntime{events: []agent.Event{
		{Kind: agent.EventToolStarted, ToolName: "search_knowledge_base", ToolInput: `{"query":"a"}`},
		{Kind: agent.EventToolFinished, ToolName: "search_knowledge_base", ToolOutput: "first out"},
		{Kind: agent.EventToolStarted, ToolName: "get_qa_by_ids", ToolInput: `{"qa_ids":[]}`},
		{Kind: agent.EventToolFinished, ToolName: "get_qa_by_ids", ToolOutput: "second out"},
		{Kind: agent.EventContentDelta, Content: "done"},
		{Kind: agent.EventTurnEnded},
	}}
	o := NewOrchestrator(gw, rt, testSystemPrompt)

	events := collectStream(o.Stream(context.Background(), "conv-1", "q"))

	// Each cycle gets its own assistant commit, and call IDs are unique.
	var ids []string
	for _, ev := range events {
		if ev.Type == StreamToolCallStarted {
			ids = append(ids, ev.CallID)
		}
	}
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])

	var assistantGroups int
	for _, req := range gw.saved {
		if req.Role == contract.RoleAssistant {
			if _, ok := req.RawMessage["tool_calls"]; ok {
				assistantGroups++
			}
		}
	}
	assert.Equal(t, 2, assistantGroups)
}

func TestStreamMalformedHistoryIsTerminalError(t *testing.T) {
	gw := &fakeGateway{messages: []backend.Message{
		{
			ID:   "m1",
			Role: contract.RoleAssistant,
			RawMessage: map[string]interface{}{
				"role":       "assistant",
				"tool_calls": 42,
			},
		},
	}}
	rt := &fakeRuntime{}
	o := NewOrchestrator(gw, rt, testSystemPrompt)

	events := collectStream(o.Stream(context.Background(), "conv-1", "q"))

	require.Len(t, events, 1)
	assert.Equal(t, StreamError, events[0].Type)
	assert.Empty(t, gw.saved)
	assert.Nil(t, rt.history)
}

func TestStreamPersistFailureMidStreamIsTerminal(t *testing.T) {
	// Third save (the tool result) fails; the stream ends with one error
	// event and earlier persists stand.
	gw := &fakeGateway{saveErrOn: 3}
	rt := &fakeRuntime{events: []agent.Event{
		{Kind: agent.EventToolStarted, ToolName: "search_knowledge_base", ToolInput: `{}`},
		{Kind: agent.EventToolFinished, ToolName: "search_knowledge_base", ToolOutput: "out"},
		{Kind: agent.EventTurnEnded},
	}}
	o := NewOrchestrator(gw, rt, testSystemPrompt)

	events := collectStream(o.Stream(context.Background(), "conv-1", "q"))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, StreamError, last.Type)

	require.Len(t, gw.saved, 2)
	assert.Equal(t, contract.RoleUser, gw.saved[0].Role)
	assert.Equal(t, contract.RoleAssistant, gw.saved[1].Role)
}

func TestStreamPersistFailureStopsRuntime(t *testing.T) {
	// When the tool-result save fails the stream ends, and the runtime must
	// be cancelled with it rather than left emitting into a closed turn.
	gw := &fakeGateway{saveErrOn: 3}
	rt := &chattyRuntime{
		events: []agent.Event{
			{Kind: agent.EventToolStarted, ToolName: "search_knowledge_base", ToolInput: `{}`},
			{Kind: agent.EventToolFinished, ToolName: "search_knowledge_base", ToolOutput: "out"},
		},
		unwound: make(chan struct{}),
	}
	o := NewOrchestrator(gw, rt, testSystemPrompt)

	events := collectStream(o.Stream(context.Background(), "conv-1", "q"))

	require.NotEmpty(t, events)
	assert.Equal(t, StreamError, events[len(events)-1].Type)

	select {
	case <-rt.unwound:
	case <-time.After(time.Second):
		t.Fatal("runtime goroutine still running after stream ended")
	}
}

func TestStreamCallerCancelStopsStream(t *testing.T) {
	gw := &fakeGateway{}
	o := NewOrchestrator(gw, &blockingRuntime{}, testSystemPrompt)

	ctx, cancel := context.WithCancel(context.Background())
	ch := o.Stream(ctx, "conv-1", "q")

	first, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, StreamContentDelta, first.Type)

	cancel()

	for range ch {
	}

	// Only the user message was persisted; the interrupted turn commits
	// nothing further.
	require.Len(t, gw.saved, 1)
	assert.Equal(t, contract.RoleUser, gw.saved[0].Role)
}

func TestStreamUnpairedCompletionNotPersisted(t *testing.T) {
	gw := &fakeGateway{}
	rt := &fakeRuntime{events: []agent.Event{
		{Kind: agent.EventToolFinished, ToolName: "search_knowledge_base", ToolOutput: "out"},
		{Kind: agent.EventTurnEnded},
	}}
	o := NewOrchestrator(gw, rt, testSystemPrompt)

	events := collectStream(o.Stream(context.Background(), "conv-1", "q"))

	// The completion is still reported to the client.
	require.Len(t, events, 1)
	assert.Equal(t, StreamToolCallFinished, events[0].Type)
	assert.NotEmpty(t, events[0].CallID)

	// But no tool record is written: its tool_call_id would reference no
	// assistant tool-call entry on replay.
	require.Len(t, gw.saved, 1)
	assert.Equal(t, contract.RoleUser, gw.saved[0].Role)
}

func TestStreamNoFinalPersistWithoutContent(t *testing.T) {
	gw := &fakeGateway{}
	rt := &fakeRuntime{events: []agent.Event{
		{Kind: agent.EventToolStarted, ToolName: "search_knowledge_base", ToolInput: `{}`},
		{Kind: agent.EventToolFinished, ToolName: "search_knowledge_base", ToolOutput: "out"},
		{Kind: agent.EventTurnEnded},
	}}
	o := NewOrchestrator(gw, rt, testSystemPrompt)

	collectStream(o.Stream(context.Background(), "conv-1", "q"))

	// user + tool-call group + tool result, nothing else.
	require.Len(t, gw.saved, 3)
}

func TestStreamSameNameCompletionsPairInOrder(t *testing.T) {
	gw := &fakeGateway{}
	rt := &fakeRuntime{events: []agent.Event{
		{Kind: agent.EventToolStarted, ToolName: "search_knowledge_base", ToolInput: `{"query":"a"}`},
		{Kind: agent.EventToolFinished, ToolName: "search_knowledge_base", ToolOutput: "out a"},
		{Kind: agent.EventToolStarted, ToolName: "search_knowledge_base", ToolInput: `{"query":"b"}`},
		{Kind: agent.EventToolFinished, ToolName: "search_knowledge_base", ToolOutput: "out b"},
		{Kind: agent.EventTurnEnded},
	}}
	o := NewOrchestrator(gw, rt, testSystemPrompt)

	events := collectStream(o.Stream(context.Background(), "conv-1", "q"))

	var started, finished []string
	for _, ev := range events {
		switch ev.Type {
		case StreamToolCallStarted:
			started = append(started, ev.CallID)
		case StreamToolCallFinished:
			finished = append(finished, ev.CallID)
		}
	}
	require.Len(t, started, 2)
	require.Len(t, finished, 2)
	assert.Equal(t, started, finished)
}

func TestStreamListFailureIsTerminalError(t *testing.T) {
	gw := &fakeGateway{listErr: errors.New("backend down")}
	o := NewOrchestrator(gw, &fakeRuntime{}, testSystemPrompt)

	events := collectStream(o.Stream(context.Background(), "conv-1", "q"))

	require.Len(t, events, 1)
	assert.Equal(t, StreamError, events[0].Type)
	assert.Contains(t, events[0].Message, "backend down")
}
