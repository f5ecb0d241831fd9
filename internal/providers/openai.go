package providers

import "encoding/json"

// OpenAIEndpointHeader overrides the OpenAI-shaped target endpoint per request.
const OpenAIEndpointHeader = "X-OpenAI-Endpoint-URL"

// DefaultOpenAIURL is the compiled-in OpenAI-shaped target endpoint.
const DefaultOpenAIURL = "https://api.openai.com/v1/chat/completions"

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChoice struct {
	Index        int            `json:"index"`
	Message      *openaiMessage `json:"message"`
	Delta        *openaiMessage `json:"delta"`
	FinishReason string         `json:"finish_reason"`
}

type openaiResponse struct {
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   *Usage         `json:"usage"`
}

// NewOpenAICapability describes the choice/message/content target shape.
func NewOpenAICapability() Capability {
	return Capability{
		Name:               "openai",
		DefaultModel:       "gpt-4o",
		DefaultMaxTokens:   4096,
		DefaultTemperature: 1.0,
		EndpointHeader:     OpenAIEndpointHeader,
		DecodeResponse:     decodeOpenAIResponse,
		DecodeChunk:        decodeOpenAIChunk,
	}
}

func decodeOpenAIResponse(body []byte) (*ProviderResponse, error) {
	var resp openaiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := &ProviderResponse{Model: resp.Model}
	if resp.Usage != nil {
		out.Usage = *resp.Usage
	}
	if len(resp.Choices) > 0 {
		out.FinishReason = resp.Choices[0].FinishReason
		if resp.Choices[0].Message != nil {
			out.Text = resp.Choices[0].Message.Content
		}
	}
	return out, nil
}

func decodeOpenAIChunk(payload []byte) (NormalizedChunk, error) {
	var resp openaiResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return NormalizedChunk{}, err
	}
	if len(resp.Choices) == 0 {
		return NormalizedChunk{}, nil
	}
	choice := resp.Choices[0]
	chunk := NormalizedChunk{FinishReason: choice.FinishReason, Finished: choice.FinishReason != ""}
	if choice.Delta != nil {
		chunk.Role = choice.Delta.Role
		chunk.TextDelta = choice.Delta.Content
	}
	return chunk, nil
}
