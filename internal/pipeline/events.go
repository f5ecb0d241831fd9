// Package pipeline runs the two-leg reasoning relay: a reasoning provider
// call whose output is replayed into a target provider call, stitched into
// one ordered event sequence.
package pipeline

import (
	"time"

	"github.com/thinkrelay/reasoning-gateway/internal/providers"
)

// Content block kinds exposed to the caller.
const (
	BlockText      = "text"
	BlockTextDelta = "text_delta"
)

// ContentBlock is the canonical unit of output content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextBlock builds a whole-text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// DeltaBlock builds a streaming increment block.
func DeltaBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTextDelta, Text: text}
}

// Stream event types, in the order they may appear. At most one error event
// is emitted per request, and nothing follows it.
const (
	EventStart   = "start"
	EventContent = "content"
	EventError   = "error"
	EventDone    = "done"
)

// Content phases, attributing each content event to its producer for
// telemetry. Framing covers the thinking markers themselves.
const (
	PhaseFraming   = "framing"
	PhaseReasoning = "reasoning"
	PhaseAnswer    = "answer"
)

// StreamEvent is one element of the client-facing event sequence.
type StreamEvent struct {
	Type    string         `json:"type"`
	Created *time.Time     `json:"created,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
	Message string         `json:"message,omitempty"`
	Code    int            `json:"code,omitempty"`

	// Kind classifies error events for telemetry. Not part of the wire shape.
	Kind providers.ErrorKind `json:"-"`

	// Phase attributes content events to a pipeline leg for telemetry. Not
	// part of the wire shape.
	Phase string `json:"-"`
}

func startEvent() StreamEvent {
	now := time.Now().UTC()
	return StreamEvent{Type: EventStart, Created: &now}
}

func contentEvent(phase string, blocks ...ContentBlock) StreamEvent {
	return StreamEvent{Type: EventContent, Content: blocks, Phase: phase}
}

func errorEvent(err error) StreamEvent {
	return StreamEvent{
		Type:    EventError,
		Message: err.Error(),
		Code:    errorCode(err),
		Kind:    providers.KindOf(err),
	}
}

func doneEvent() StreamEvent {
	return StreamEvent{Type: EventDone}
}
