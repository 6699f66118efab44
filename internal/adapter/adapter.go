// Package adapter connects external chat platforms to conversations.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/harunnryd/hibiki/internal/backend"
	"github.com/harunnryd/hibiki/internal/chat"
)

// InputAdapter receives messages from an external platform.
type InputAdapter interface {
	// Name returns the adapter name (e.g. "telegram").
	Name() string

	// Start begins listening for messages (e.g. starts a long-poll).
	// Must respect context cancellation.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the adapter.
	Stop(ctx context.Context) error

	// Health checks if the adapter is healthy and connected.
	Health(ctx context.Context) error
}

// OutputAdapter sends responses to an external platform.
type OutputAdapter interface {
	Name() string

	// Send delivers content to a platform-specific destination (chat ID,
	// channel ID).
	Send(ctx context.Context, destination string, content string) error

	Health(ctx context.Context) error
}

// Conversations is the backend surface the bridge needs.
type Conversations interface {
	CreateConversation(ctx context.Context, title string) (*backend.Conversation, error)
}

// Streamer runs one orchestrated turn.
type Streamer interface {
	Stream(ctx context.Context, conversationID string, userMessage string) <-chan chat.StreamEvent
}

// Bridge maps platform chats to conversations and runs turns for them.
// Platforms deliver whole messages, not streams, so the bridge collects the
// content deltas and hands back the final text.
type Bridge struct {
	conversations Conversations
	streamer      Streamer

	mu    sync.Mutex
	convs map[string]string // "platform:chatID" -> conversation ID
}

func NewBridge(conversations Conversations, streamer Streamer) *Bridge {
	return &Bridge{
		conversations: conversations,
		streamer:      streamer,
		convs:         make(map[string]string),
	}
}

// HandleMessage runs one turn for a platform chat, creating its backing
// conversation on first contact, and returns the assistant's final text.
func (b *Bridge) HandleMessage(ctx context.Context, platform, chatID, text string) (string, error) {
	conversationID, err := b.conversationFor(ctx, platform, chatID)
	if err != nil {
		return "", err
	}

	var reply strings.Builder
	for ev := range b.streamer.Stream(ctx, conversationID, text) {
		switch ev.Type {
		case chat.StreamContentDelta:
			reply.WriteString(ev.Content)
		case chat.StreamError:
			return "", errors.New(ev.Message)
		}
	}
	return reply.String(), nil
}

func (b *Bridge) conversationFor(ctx context.Context, platform, chatID string) (string, error) {
	key := platform + ":" + chatID

	b.mu.Lock()
	id, ok := b.convs[key]
	b.mu.Unlock()
	if ok {
		return id, nil
	}

	conv, err := b.conversations.CreateConversation(ctx, key)
	if err != nil {
		return "", fmt.Errorf("create conversation for %s: %w", key, err)
	}

	b.mu.Lock()
	// A concurrent first contact may have won; keep the first mapping so the
	// chat sticks to one conversation.
	if existing, ok := b.convs[key]; ok {
		b.mu.Unlock()
		return existing, nil
	}
	b.convs[key] = conv.ID
	b.mu.Unlock()

	return conv.ID, nil
}
