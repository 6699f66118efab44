package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/hibiki/internal/backend"
	"github.com/harunnryd/hibiki/internal/chat"
)

type fakeConversations struct {
	created []string
	nextID  int
}

func (f *fakeConversations) CreateConversation(ctx context.Context, title string) (*backend.Conversation, error) {
	f.created = append(f.created, title)
	f.nextID++
	return &backend.Conversation{ID: string(rune('a' + f.nextID - 1))}, nil
}

type fakeStreamer struct {
	events []chat.StreamEvent
	turns  []string // conversation IDs streamed against
}

func (f *fakeStreamer) Stream(ctx context.Context, conversationID string, userMessage string) <-chan chat.StreamEvent {
	f.turns = append(f.turns, conversationID)
	out := make(chan chat.StreamEvent)
	go func() {
		defer close(out)
		for _, ev := range f.events {
			out <- ev
		}
	}()
	return out
}

func TestBridgeCollectsFinalText(t *testing.T) {
	streamer := &fakeStreamer{events: []chat.StreamEvent{
		{Type: chat.StreamContentDelta, Content: "Docker is "},
		{Type: chat.StreamToolCallFinished, CallID: "c1", ToolName: "search_knowledge_base", Status: "success"},
		{Type: chat.StreamContentDelta, Content: "a container platform."},
	}}
	bridge := NewBridge(&fakeConversations{}, streamer)

	reply, err := bridge.HandleMessage(context.Background(), "telegram", "123", "what is docker?")
	require.NoError(t, err)
	assert.Equal(t, "Docker is a container platform.", reply)
}

func TestBridgeReusesConversationPerChat(t *testing.T) {
	convs := &fakeConversations{}
	streamer := &fakeStreamer{}
	bridge := NewBridge(convs, streamer)

	_, err := bridge.HandleMessage(context.Background(), "telegram", "123", "first")
	require.NoError(t, err)
	_, err = bridge.HandleMessage(context.Background(), "telegram", "123", "second")
	require.NoError(t, err)
	_, err = bridge.HandleMessage(context.Background(), "telegram", "456", "other chat")
	require.NoError(t, err)

	assert.Equal(t, []string{"telegram:123", "telegram:456"}, convs.created)
	require.Len(t, streamer.turns, 3)
	assert.Equal(t, streamer.turns[0], streamer.turns[1])
	assert.NotEqual(t, streamer.turns[0], streamer.turns[2])
}

func TestBridgeSurfacesStreamError(t *testing.T) {
	streamer := &fakeStreamer{events: []chat.StreamEvent{
		{Type: chat.StreamContentDelta, Content: "partial"},
		{Type: chat.StreamError, Message: "model exploded"},
	}}
	bridge := NewBridge(&fakeConversations{}, streamer)

	_, err := bridge.HandleMessage(context.Background(), "telegram", "123", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model exploded")
}

func TestNullAdapter(t *testing.T) {
	a := NewNullAdapter("")
	assert.Equal(t, "null", a.Name())
	assert.NoError(t, a.Send(context.Background(), "x", "y"))
	assert.NoError(t, a.Health(context.Background()))
}
