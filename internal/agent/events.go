// Package agent runs the tool-calling reasoning loop over a model router.
package agent

// EventKind identifies the shape of an Event.
type EventKind int

const (
	EventContentDelta EventKind = iota
	EventToolStarted
	EventToolFinished
	EventTurnEnded
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventContentDelta:
		return "content_delta"
	case EventToolStarted:
		return "tool_started"
	case EventToolFinished:
		return "tool_finished"
	case EventTurnEnded:
		return "turn_ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one observation from a running turn. Tool completion events carry
// the capability name only; consumers correlate starts and finishes by name.
type Event struct {
	Kind       EventKind
	Content    string
	ToolName   string
	ToolInput  string
	ToolOutput string
	Err        error
}
