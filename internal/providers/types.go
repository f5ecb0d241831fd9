// Package providers types - shared shapes for provider-facing request handling.
//
// DESIGN: All three upstream providers are driven by one generic Client; the
// per-provider differences live in a Capability (defaults + wire codecs).
// Everything the pipeline needs back from a provider is reduced to
// NormalizedChunk (streaming) or ProviderResponse (blocking).
package providers

import "encoding/json"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation, in the shape all three providers
// accept on the request side.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Config carries caller-supplied per-provider overrides.
//
// Headers are merged into the outgoing request headers (and may carry an
// endpoint-override header). Body is a free-form JSON object merged over the
// capability defaults; "stream" and "messages" are always adapter-owned and
// never taken from here.
type Config struct {
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// NormalizedChunk is the common shape every provider streaming frame is
// reduced to before the pipeline sees it.
type NormalizedChunk struct {
	Role           string
	TextDelta      string
	ReasoningDelta string
	Finished       bool
	FinishReason   string
}

// Empty reports whether the chunk carries nothing the pipeline cares about.
func (c NormalizedChunk) Empty() bool {
	return c.TextDelta == "" && c.ReasoningDelta == "" && !c.Finished && c.Role == ""
}

// Usage holds token accounting parsed from a provider response, when present.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderResponse is the normalized result of one blocking provider call.
//
// Text is the final answer content. Reasoning is the dedicated reasoning
// field (reasoning provider only); inline <think> markers are already
// extracted into Reasoning by the capability decoder.
type ProviderResponse struct {
	Model        string
	Text         string
	Reasoning    string
	FinishReason string
	Usage        Usage
	// Blocks preserves the provider-native content blocks for shapes that
	// return an array (Anthropic); empty for choice/message providers.
	Blocks []ResponseBlock
}

// ResponseBlock is one element of a content-block array response.
type ResponseBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ChunkResult is one element of a streaming sequence: either a chunk or the
// error that ended the stream.
type ChunkResult struct {
	Chunk NormalizedChunk
	Err   error
}
