// Package chat reconstructs persisted conversations and orchestrates one
// streamed agent turn, committing every completed record to the backend.
package chat

// StreamEventType tags a normalized client-facing event.
type StreamEventType string

const (
	StreamContentDelta     StreamEventType = "content-delta"
	StreamToolCallStarted  StreamEventType = "tool-call-started"
	StreamToolCallFinished StreamEventType = "tool-call-finished"
	StreamError            StreamEventType = "error"
)

// StreamEvent is one wire event of a streaming response. Events are
// ephemeral; they are never persisted.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// content-delta
	Content string `json:"content,omitempty"`

	// tool-call-started / tool-call-finished
	CallID    string `json:"call_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Status    string `json:"status,omitempty"`
	Preview   string `json:"preview,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}
