// Package reasoning extracts an inline reasoning span from streamed text.
//
// Some reasoning models deliver their analysis in a dedicated response field;
// others embed it inline between <think> and </think> markers, and a marker
// may be split across any number of stream increments. Extractor is the
// two-field state machine (pending buffer + accumulator) that handles both,
// independent of any provider client.
package reasoning

import "strings"

const (
	// StartMarker opens an inline reasoning span.
	StartMarker = "<think>"
	// EndMarker closes an inline reasoning span.
	EndMarker = "</think>"
)

// Extractor accumulates reasoning text across one stream. The zero value is
// ready to use.
//
// Only the first complete marker pair is treated as reasoning; markers after
// that are ordinary text. Dedicated-field reasoning bypasses marker scanning
// entirely via IngestReasoning.
type Extractor struct {
	pending   string
	reasoning strings.Builder
	consumed  bool
}

// Ingest appends a text increment and returns whatever non-reasoning text has
// become settled by it. Text that might still turn out to be (part of) a
// marker is held until a later increment decides it.
//
// The concatenation of all returned residuals plus the extracted reasoning,
// with marker tokens removed, reconstructs the input exactly.
func (e *Extractor) Ingest(delta string) string {
	if e.consumed {
		return delta
	}
	e.pending += delta

	start := strings.Index(e.pending, StartMarker)
	if start < 0 {
		cut := markerHoldPoint(e.pending)
		out := e.pending[:cut]
		e.pending = e.pending[cut:]
		return out
	}

	rel := strings.Index(e.pending[start+len(StartMarker):], EndMarker)
	if rel < 0 {
		// Span is open: release any text preceding the start marker.
		out := e.pending[:start]
		e.pending = e.pending[start:]
		return out
	}
	end := start + len(StartMarker) + rel

	span := strings.TrimSpace(e.pending[start+len(StartMarker) : end])
	e.reasoning.WriteString(span)
	out := e.pending[:start] + e.pending[end+len(EndMarker):]
	e.pending = ""
	e.consumed = true
	return out
}

// IngestReasoning appends reasoning delivered in a dedicated field. Such text
// is never subject to marker scanning.
func (e *Extractor) IngestReasoning(delta string) {
	e.reasoning.WriteString(delta)
}

// InSpan reports whether a start marker has been seen without its end yet.
// While true, increments may be forwarded speculatively to the client.
func (e *Extractor) InSpan() bool {
	return !e.consumed && strings.Contains(e.pending, StartMarker)
}

// Echo returns the increment to forward verbatim while inside an open span.
// The exact start-marker token itself is suppressed.
func (e *Extractor) Echo(delta string) string {
	if !e.InSpan() || delta == StartMarker {
		return ""
	}
	return delta
}

// Flush returns any text still held at end of stream and resets the pending
// buffer. An unclosed span is returned verbatim rather than guessed at.
func (e *Extractor) Flush() string {
	out := e.pending
	e.pending = ""
	return out
}

// Reasoning returns the accumulated reasoning text.
func (e *Extractor) Reasoning() string {
	return e.reasoning.String()
}

// Empty reports whether no reasoning has been collected by either mechanism.
func (e *Extractor) Empty() bool {
	return strings.TrimSpace(e.reasoning.String()) == ""
}

// ExtractSpan pulls the first complete marker pair out of a finished text:
// span is the trimmed reasoning between the markers, residual the surrounding
// text with the pair removed. ok is false when no complete pair exists or the
// markers are out of order.
func ExtractSpan(content string) (span, residual string, ok bool) {
	start := strings.Index(content, StartMarker)
	end := strings.Index(content, EndMarker)
	if start < 0 || end < 0 || start >= end {
		return "", "", false
	}
	span = strings.TrimSpace(content[start+len(StartMarker) : end])
	residual = strings.TrimSpace(content[:start] + content[end+len(EndMarker):])
	return span, residual, true
}

// markerHoldPoint returns the index before the shortest trailing run of text
// that is still a viable prefix of the start marker. Everything before it can
// be released as settled output.
func markerHoldPoint(s string) int {
	lo := len(s) - len(StartMarker) + 1
	if lo < 0 {
		lo = 0
	}
	for i := lo; i < len(s); i++ {
		if strings.HasPrefix(StartMarker, s[i:]) {
			return i
		}
	}
	return len(s)
}
