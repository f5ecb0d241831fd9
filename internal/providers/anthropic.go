package providers

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// AnthropicEndpointHeader overrides the Anthropic-shaped target endpoint per request.
const AnthropicEndpointHeader = "X-Anthropic-Endpoint-URL"

// DefaultAnthropicURL is the compiled-in Anthropic-shaped target endpoint.
const DefaultAnthropicURL = "https://api.anthropic.com/v1/messages"

// anthropicVersion pins the messages API revision.
const anthropicVersion = "2023-06-01"

type anthropicResponse struct {
	Model      string          `json:"model"`
	Content    []ResponseBlock `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewAnthropicCapability describes the content-block-array target shape.
func NewAnthropicCapability() Capability {
	return Capability{
		Name:               "anthropic",
		DefaultModel:       "claude-3-5-sonnet-20241022",
		DefaultMaxTokens:   8192,
		DefaultTemperature: 1.0,
		EndpointHeader:     AnthropicEndpointHeader,
		Authenticate: func(token string, headers map[string]string) {
			headers["x-api-key"] = token
			headers["anthropic-version"] = anthropicVersion
		},
		DecodeResponse: decodeAnthropicResponse,
		DecodeChunk:    decodeAnthropicChunk,
	}
}

func decodeAnthropicResponse(body []byte) (*ProviderResponse, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	out := &ProviderResponse{
		Model:        resp.Model,
		FinishReason: resp.StopReason,
		Blocks:       resp.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}

	var texts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	out.Text = strings.Join(texts, "")
	return out, nil
}

// decodeAnthropicChunk maps the typed event stream (message_start,
// content_block_delta, message_delta, message_stop, ping) onto the common
// chunk shape. Events carrying no text are dropped by the caller via Empty.
func decodeAnthropicChunk(payload []byte) (NormalizedChunk, error) {
	if !gjson.ValidBytes(payload) {
		return NormalizedChunk{}, NewError(KindUpstreamParse, "invalid event JSON")
	}
	event := gjson.ParseBytes(payload)

	switch event.Get("type").String() {
	case "content_block_delta":
		return NormalizedChunk{TextDelta: event.Get("delta.text").String()}, nil
	case "content_block_start":
		return NormalizedChunk{TextDelta: event.Get("content_block.text").String()}, nil
	case "message_start":
		return NormalizedChunk{Role: event.Get("message.role").String()}, nil
	case "message_delta":
		return NormalizedChunk{FinishReason: event.Get("delta.stop_reason").String()}, nil
	case "message_stop":
		return NormalizedChunk{Finished: true}, nil
	default:
		// ping and future event types carry nothing for the pipeline.
		return NormalizedChunk{}, nil
	}
}
