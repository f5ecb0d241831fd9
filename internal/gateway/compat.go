// OpenAI-compatible entry point. Callers authenticate with a gateway API key
// and address a configured model name; the gateway resolves both to upstream
// credentials and a two-leg route, then re-encodes the relay output as a
// chat completion.
package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/thinkrelay/reasoning-gateway/internal/config"
	"github.com/thinkrelay/reasoning-gateway/internal/pipeline"
	"github.com/thinkrelay/reasoning-gateway/internal/providers"
)

const (
	compatObjectCompletion = "chat.completion"
	compatObjectChunk      = "chat.completion.chunk"
	compatFinishStop       = "stop"
)

// compatResponse is the blocking completion shape.
type compatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []compatChoice `json:"choices"`
	Usage   providers.Usage `json:"usage"`
}

// compatChunk is one streaming frame.
type compatChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []compatChoice `json:"choices"`
}

type compatChoice struct {
	Index        int            `json:"index"`
	Message      *compatMessage `json:"message,omitempty"`
	Delta        *compatMessage `json:"delta,omitempty"`
	FinishReason *string        `json:"finish_reason"`
}

type compatMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

func (g *Gateway) handleCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	logger := log.With().Str("request_id", requestID).Logger()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize))
	if err != nil {
		g.failEarly(w, requestID, "unknown", start,
			providers.NewError(providers.KindBadRequest, "read request: %v", err))
		return
	}
	if !gjson.ValidBytes(body) {
		g.failEarly(w, requestID, "unknown", start,
			providers.NewError(providers.KindBadRequest, "request body is not valid JSON"))
		return
	}

	tokens, err := g.resolveAPIKey(r)
	if err != nil {
		g.failEarly(w, requestID, "unknown", start, err)
		return
	}

	model := gjson.GetBytes(body, "model").String()
	route, ok := g.cfg.Compat.ModelMap[model]
	if !ok {
		g.failEarly(w, requestID, "unknown", start,
			providers.NewError(providers.KindBadRequest, "unknown model %q", model))
		return
	}

	messages, err := compatMessages(body)
	if err != nil {
		g.failEarly(w, requestID, route.Target, start, err)
		return
	}

	p, target, err := g.buildCompatPipeline(body, tokens, route, messages)
	if err != nil {
		g.failEarly(w, requestID, target, start, err)
		return
	}

	stream := gjson.GetBytes(body, "stream").Bool()
	logger.Info().Str("model", model).Str("target", target).Bool("stream", stream).
		Msg("compat relay request")

	if stream {
		g.serveCompatStream(w, p, requestID, model, target, start, logger)
		return
	}
	g.serveCompatBlocking(w, r, p, requestID, model, target, start, logger)
}

// resolveAPIKey maps the caller's bearer key to its upstream token set.
func (g *Gateway) resolveAPIKey(r *http.Request) (config.TokenSet, error) {
	key := bearerToken(r)
	if key == "" {
		return config.TokenSet{}, providers.NewError(providers.KindMissingCredential,
			"missing bearer API key")
	}
	tokens, ok := g.cfg.Compat.APIKeys[key]
	if !ok {
		return config.TokenSet{}, providers.NewError(providers.KindMissingCredential,
			"unknown API key")
	}
	return tokens, nil
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// compatMessages normalizes the OpenAI message list. String content passes
// through; array content keeps the text parts.
func compatMessages(body []byte) ([]providers.Message, error) {
	raw := gjson.GetBytes(body, "messages")
	if !raw.IsArray() || len(raw.Array()) == 0 {
		return nil, providers.NewError(providers.KindValidationFailed, "messages must not be empty")
	}

	var out []providers.Message
	var parseErr error
	raw.ForEach(func(_, m gjson.Result) bool {
		role := m.Get("role").String()
		switch providers.Role(role) {
		case providers.RoleSystem, providers.RoleUser, providers.RoleAssistant:
		default:
			parseErr = providers.NewError(providers.KindValidationFailed,
				"unsupported message role %q", role)
			return false
		}

		content := m.Get("content")
		var text string
		switch {
		case content.Type == gjson.String:
			text = content.String()
		case content.IsArray():
			var parts []string
			content.ForEach(func(_, part gjson.Result) bool {
				if part.Get("type").String() == "text" {
					parts = append(parts, part.Get("text").String())
				}
				return true
			})
			text = strings.Join(parts, "")
		default:
			parseErr = providers.NewError(providers.KindValidationFailed,
				"unsupported message content shape")
			return false
		}

		out = append(out, providers.Message{Role: providers.Role(role), Content: text})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

// buildCompatPipeline derives both legs from the route. Caller parameters
// (temperature, top_p, vendor extensions) carry over to both legs; route
// params win, and each leg gets its own model.
func (g *Gateway) buildCompatPipeline(body []byte, tokens config.TokenSet,
	route config.ModelRoute, messages []providers.Message) (*pipeline.Pipeline, string, error) {
	target := strings.ToLower(route.Target)
	if target == "" {
		target = targetAnthropic
	}

	if tokens.DeepSeek == "" {
		return nil, target, providers.NewError(providers.KindMissingCredential,
			"API key has no deepseek credential")
	}

	overlay := body
	for _, key := range []string{"model", "messages", "stream"} {
		overlay, _ = sjson.DeleteBytes(overlay, key)
	}
	var err error
	for key, value := range route.Params {
		if overlay, err = sjson.SetBytes(overlay, key, value); err != nil {
			return nil, target, providers.NewError(providers.KindInternal,
				"apply route params: %v", err)
		}
	}

	reasonerBody := overlay
	if route.ReasoningModel != "" {
		reasonerBody, _ = sjson.SetBytes(reasonerBody, "model", route.ReasoningModel)
	}
	targetBody := overlay
	if route.TargetModel != "" {
		targetBody, _ = sjson.SetBytes(targetBody, "model", route.TargetModel)
	}

	p := &pipeline.Pipeline{
		Reasoner:        providers.NewClient(providers.NewDeepSeekCapability(), tokens.DeepSeek, g.cfg.Endpoints.DeepSeek),
		ReasonerConfig:  providers.Config{Body: reasonerBody},
		Messages:        messages,
		Metrics:         g.metrics,
		ChannelCapacity: g.cfg.Stream.ChannelCapacity,
	}

	switch target {
	case targetOpenAI:
		if tokens.OpenAI == "" {
			return nil, target, providers.NewError(providers.KindMissingCredential,
				"API key has no openai credential")
		}
		p.Target = providers.NewClient(providers.NewOpenAICapability(), tokens.OpenAI, g.cfg.Endpoints.OpenAI)
	case targetAnthropic:
		if tokens.Anthropic == "" {
			return nil, target, providers.NewError(providers.KindMissingCredential,
				"API key has no anthropic credential")
		}
		p.Target = providers.NewClient(providers.NewAnthropicCapability(), tokens.Anthropic, g.cfg.Endpoints.Anthropic)
	default:
		return nil, target, providers.NewError(providers.KindBadRequest,
			"route targets unsupported provider %q", target)
	}
	p.TargetConfig = providers.Config{Body: targetBody}
	return p, target, nil
}

func (g *Gateway) serveCompatBlocking(w http.ResponseWriter, r *http.Request, p *pipeline.Pipeline,
	requestID, model, target string, start time.Time, logger zerolog.Logger) {
	result, err := p.RunBlocking(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("compat relay failed")
		g.record(requestID, modeBlocking, target, "error", string(providers.KindOf(err)), 0, 0, start)
		writeError(w, err)
		return
	}

	var parts []string
	for _, block := range result.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	content := strings.Join(parts, "\n\n")

	reasoningTokens, answerTokens := g.countBlocks(result.Content)
	promptTokens := g.countMessages(p.Messages)
	g.record(requestID, modeBlocking, target, "success", "", reasoningTokens, answerTokens, start)

	stop := compatFinishStop
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(compatResponse{
		ID:      "chatcmpl-" + requestID,
		Object:  compatObjectCompletion,
		Created: result.Created.Unix(),
		Model:   model,
		Choices: []compatChoice{{
			Message:      &compatMessage{Role: "assistant", Content: content},
			FinishReason: &stop,
		}},
		Usage: providers.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: reasoningTokens + answerTokens,
			TotalTokens:      promptTokens + reasoningTokens + answerTokens,
		},
	})
}

// countMessages estimates the prompt token total.
func (g *Gateway) countMessages(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += g.tokens.Count(m.Content)
	}
	return total
}

func (g *Gateway) serveCompatStream(w http.ResponseWriter, p *pipeline.Pipeline,
	requestID, model, target string, start time.Time, logger zerolog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.failEarly(w, requestID, target, start,
			providers.NewError(providers.KindInternal, "connection does not support streaming"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	id := "chatcmpl-" + requestID
	created := time.Now().Unix()
	writeChunk := func(choice compatChoice) error {
		data, err := json.Marshal(compatChunk{
			ID:      id,
			Object:  compatObjectChunk,
			Created: created,
			Model:   model,
			Choices: []compatChoice{choice},
		})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	var (
		clientGone      bool
		errorKind       string
		reasoningTokens int
		answerTokens    int
	)

	// Same draining contract as the native endpoint: the pipeline channel is
	// consumed to the end even after the client drops.
	for ev := range p.RunStream() {
		switch ev.Type {
		case pipeline.EventStart:
			if clientGone {
				continue
			}
			if err := writeChunk(compatChoice{Delta: &compatMessage{Role: "assistant"}}); err != nil {
				clientGone = true
			}
		case pipeline.EventContent:
			var parts []string
			for _, block := range ev.Content {
				switch ev.Phase {
				case pipeline.PhaseReasoning:
					reasoningTokens += g.tokens.Count(block.Text)
				case pipeline.PhaseAnswer:
					answerTokens += g.tokens.Count(block.Text)
				}
				if block.Text != "" {
					parts = append(parts, block.Text)
				}
			}
			if clientGone || len(parts) == 0 {
				continue
			}
			if err := writeChunk(compatChoice{Delta: &compatMessage{Content: strings.Join(parts, "")}}); err != nil {
				clientGone = true
			}
		case pipeline.EventError:
			errorKind = string(ev.Kind)
			logger.Error().Str("kind", errorKind).Int("code", ev.Code).
				Str("message", ev.Message).Msg("compat stream failed")
			if clientGone {
				continue
			}
			data, _ := json.Marshal(map[string]any{
				"error": map[string]any{"type": errorKind, "message": ev.Message, "code": ev.Code},
			})
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err == nil {
				flusher.Flush()
			}
			clientGone = true
		case pipeline.EventDone:
			if clientGone {
				continue
			}
			stop := compatFinishStop
			if err := writeChunk(compatChoice{Delta: &compatMessage{}, FinishReason: &stop}); err != nil {
				clientGone = true
				continue
			}
			if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err == nil {
				flusher.Flush()
			}
		}
	}

	outcome := "success"
	if errorKind != "" {
		outcome = "error"
	}
	g.record(requestID, modeStreaming, target, outcome, errorKind, reasoningTokens, answerTokens, start)
	logger.Info().Dur("latency", time.Since(start)).Str("outcome", outcome).Msg("compat stream complete")
}
