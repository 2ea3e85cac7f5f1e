// Package protocol defines the wire shape shared by StreamBroker and every
// sandbox it talks to: a single tagged event type carried over
// Server-Sent Events, and the small set of kinds a sandbox may emit while
// an investigation runs.
package protocol

import "encoding/json"

// Kind identifies the payload shape of an Event. A sandbox emits a
// sequence of these for a single investigation; StreamBroker forwards
// them byte-for-byte without buffering or reordering.
type Kind string

const (
	KindThought         Kind = "thought"
	KindToolStart       Kind = "tool_start"
	KindToolEnd         Kind = "tool_end"
	KindQuestion        Kind = "question"
	KindQuestionTimeout Kind = "question_timeout"
	KindResult          Kind = "result"
	KindError           Kind = "error"
)

// Terminal reports whether a Kind ends the stream. StreamBroker keeps
// forwarding until upstream closes, and treats that close as clean only
// if a terminal event was seen; ConsumeStream stops reading after the
// first one.
func (k Kind) Terminal() bool {
	switch k {
	case KindResult, KindError:
		return true
	default:
		return false
	}
}

// Event is the single envelope carried on the wire in both directions:
// sandbox-to-broker over the upstream SSE stream, and broker-to-client
// over the downstream one. Field names and the "type" tag match §6.4 of
// the design exactly, since StreamBroker's own synthesized event
// (UpstreamStreamBroken) must be indistinguishable
// on the wire from ones a sandbox produced itself. Data is left as raw
// JSON so StreamBroker never needs to understand a sandbox's tool or
// thought content to forward it correctly — it only ever inspects Type.
type Event struct {
	Type     Kind            `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	ThreadID string          `json:"thread_id,omitempty"`
}

// QuestionSpec describes one question inside a "question" event's data
// payload — StreamBroker never parses this itself (Data stays raw on
// forward), but triggeradapter.RenderEvent reads it to print questions.
type QuestionSpec struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Choices []string `json:"choices,omitempty"`
}

// ThoughtData is the payload shape of a "thought" event.
type ThoughtData struct {
	Text            string `json:"text"`
	ParentToolUseID string `json:"parent_tool_use_id,omitempty"`
}

// ToolStartData is the payload shape of a "tool_start" event.
type ToolStartData struct {
	Name            string          `json:"name"`
	Input           json.RawMessage `json:"input,omitempty"`
	ToolUseID       string          `json:"tool_use_id"`
	ParentToolUseID string          `json:"parent_tool_use_id,omitempty"`
}

// ToolEndData is the payload shape of a "tool_end" event.
type ToolEndData struct {
	Name            string          `json:"name"`
	ToolUseID       string          `json:"tool_use_id"`
	Success         bool            `json:"success"`
	Output          json.RawMessage `json:"output,omitempty"`
	ParentToolUseID string          `json:"parent_tool_use_id,omitempty"`
}

// QuestionData is the payload shape of a "question" event.
type QuestionData struct {
	Questions []QuestionSpec `json:"questions"`
}

// ResultData is the payload shape of a "result" event.
type ResultData struct {
	Text    string   `json:"text"`
	Success bool     `json:"success"`
	Subtype string   `json:"subtype,omitempty"`
	Images  []string `json:"images,omitempty"`
	Files   []string `json:"files,omitempty"`
}

// ErrorData is the payload shape of an "error" event, including the one
// StreamBroker synthesizes itself (UpstreamStreamBroken).
type ErrorData struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// NewErrorEvent builds an orchestrator-originated "error" event. Used for
// UpstreamStreamBroken — the case where StreamBroker itself, not the
// sandbox, is the source of the event. A sandbox setup failure is
// answered with a plain HTTP 500 before any stream opens, not an event.
func NewErrorEvent(threadID, message string, recoverable bool) Event {
	data, _ := json.Marshal(ErrorData{Message: message, Recoverable: recoverable})
	return Event{Type: KindError, Data: data, ThreadID: threadID}
}
