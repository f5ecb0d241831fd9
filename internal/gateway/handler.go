// Native chat endpoint: one request fans into a reasoning leg and a target
// leg, blocking or streamed.
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

	"github.com/thinkrelay/reasoning-gateway/internal/config"
	"github.com/thinkrelay/reasoning-gateway/internal/pipeline"
	"github.com/thinkrelay/reasoning-gateway/internal/providers"
)

// Credential and routing headers on the native endpoint.
const (
	headerDeepSeekToken  = "X-DeepSeek-API-Token"
	headerOpenAIToken    = "X-OpenAI-API-Token"
	headerAnthropicToken = "X-Anthropic-API-Token"
	headerTargetModel    = "X-Target-Model"
)

// chatRequest is the native request body.
type chatRequest struct {
	Stream          bool                `json:"stream"`
	System          string              `json:"system,omitempty"`
	Messages        []providers.Message `json:"messages"`
	DeepSeekConfig  providers.Config    `json:"deepseek_config"`
	OpenAIConfig    providers.Config    `json:"openai_config"`
	AnthropicConfig providers.Config    `json:"anthropic_config"`
}

// blockingResponse is the native blocking response body.
type blockingResponse struct {
	Created time.Time               `json:"created"`
	Content []pipeline.ContentBlock `json:"content"`
}

func (req *chatRequest) validate() error {
	if len(req.Messages) == 0 {
		return providers.NewError(providers.KindValidationFailed, "messages must not be empty")
	}
	for _, m := range req.Messages {
		if m.Role == providers.RoleSystem && req.System != "" {
			return providers.NewError(providers.KindValidationFailed,
				"system prompt supplied both top-level and as a message")
		}
	}
	return nil
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	logger := log.With().Str("request_id", requestID).Logger()

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.failEarly(w, requestID, "unknown", start,
			providers.NewError(providers.KindBadRequest, "decode request: %v", err))
		return
	}
	if err := req.validate(); err != nil {
		g.failEarly(w, requestID, "unknown", start, err)
		return
	}

	p, target, err := g.buildPipeline(r, &req)
	if err != nil {
		g.failEarly(w, requestID, target, start, err)
		return
	}

	logger.Info().Str("target", target).Bool("stream", req.Stream).
		Int("messages", len(req.Messages)).Msg("relay request")

	if req.Stream {
		g.serveStream(w, p, requestID, target, start, logger)
		return
	}
	g.serveBlocking(w, r, p, requestID, target, start, logger)
}

// failEarly reports a request that never reached an upstream.
func (g *Gateway) failEarly(w http.ResponseWriter, requestID, target string, start time.Time, err error) {
	g.record(requestID, modeBlocking, target, "error", string(providers.KindOf(err)), 0, 0, start)
	writeError(w, err)
}

// buildPipeline assembles both legs from the request headers and body. The
// reasoning leg is always DeepSeek-shaped; the target leg is chosen by the
// X-Target-Model header.
func (g *Gateway) buildPipeline(r *http.Request, req *chatRequest) (*pipeline.Pipeline, string, error) {
	target := strings.ToLower(strings.TrimSpace(r.Header.Get(headerTargetModel)))
	if target == "" {
		target = targetAnthropic
	}

	deepseekToken := r.Header.Get(headerDeepSeekToken)
	if deepseekToken == "" {
		return nil, target, providers.NewError(providers.KindMissingCredential,
			"missing %s header", headerDeepSeekToken)
	}

	messages := req.Messages
	if req.System != "" {
		messages = append([]providers.Message{
			{Role: providers.RoleSystem, Content: req.System},
		}, messages...)
	}

	reasonerCfg := req.DeepSeekConfig
	copyEndpointHeader(r, &reasonerCfg, providers.DeepSeekEndpointHeader)

	p := &pipeline.Pipeline{
		Reasoner:        providers.NewClient(providers.NewDeepSeekCapability(), deepseekToken, g.cfg.Endpoints.DeepSeek),
		ReasonerConfig:  reasonerCfg,
		Messages:        messages,
		Metrics:         g.metrics,
		ChannelCapacity: g.cfg.Stream.ChannelCapacity,
	}

	switch target {
	case targetOpenAI:
		token := r.Header.Get(headerOpenAIToken)
		if token == "" {
			return nil, target, providers.NewError(providers.KindMissingCredential,
				"missing %s header", headerOpenAIToken)
		}
		cfg := req.OpenAIConfig
		copyEndpointHeader(r, &cfg, providers.OpenAIEndpointHeader)
		p.Target = providers.NewClient(providers.NewOpenAICapability(), token, g.cfg.Endpoints.OpenAI)
		p.TargetConfig = cfg
	case targetAnthropic:
		token := r.Header.Get(headerAnthropicToken)
		if token == "" {
			return nil, target, providers.NewError(providers.KindMissingCredential,
				"missing %s header", headerAnthropicToken)
		}
		cfg := req.AnthropicConfig
		copyEndpointHeader(r, &cfg, providers.AnthropicEndpointHeader)
		p.Target = providers.NewClient(providers.NewAnthropicCapability(), token, g.cfg.Endpoints.Anthropic)
		p.TargetConfig = cfg
	default:
		return nil, target, providers.NewError(providers.KindBadRequest,
			"unsupported target model %q", target)
	}
	return p, target, nil
}

// copyEndpointHeader forwards a per-request endpoint override from the HTTP
// headers into the provider config. A config-supplied value wins.
func copyEndpointHeader(r *http.Request, cfg *providers.Config, name string) {
	v := r.Header.Get(name)
	if v == "" {
		return
	}
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	if _, ok := cfg.Headers[name]; !ok {
		cfg.Headers[name] = v
	}
}

func (g *Gateway) serveBlocking(w http.ResponseWriter, r *http.Request, p *pipeline.Pipeline,
	requestID, target string, start time.Time, logger zerolog.Logger) {
	result, err := p.RunBlocking(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("blocking relay failed")
		g.record(requestID, modeBlocking, target, "error", string(providers.KindOf(err)), 0, 0, start)
		writeError(w, err)
		return
	}

	reasoningTokens, answerTokens := g.countBlocks(result.Content)
	g.record(requestID, modeBlocking, target, "success", "", reasoningTokens, answerTokens, start)
	logger.Info().Dur("latency", time.Since(start)).Int("blocks", len(result.Content)).
		Msg("relay complete")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(blockingResponse{Created: result.Created, Content: result.Content})
}

// countBlocks splits the blocking content into reasoning and answer token
// estimates. The first block carries the reasoning.
func (g *Gateway) countBlocks(content []pipeline.ContentBlock) (reasoningTokens, answerTokens int) {
	for i, block := range content {
		if i == 0 {
			reasoningTokens = g.tokens.Count(block.Text)
			continue
		}
		answerTokens += g.tokens.Count(block.Text)
	}
	return reasoningTokens, answerTokens
}

func (g *Gateway) serveStream(w http.ResponseWriter, p *pipeline.Pipeline,
	requestID, target string, start time.Time, logger zerolog.Logger) {
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

	var (
		clientGone      bool
		errorKind       string
		reasoningTokens int
		answerTokens    int
	)

	// The pipeline goroutine is fire-and-forget; even after the client drops
	// the channel must be drained to completion so it never blocks.
	for ev := range p.RunStream() {
		switch ev.Type {
		case pipeline.EventError:
			errorKind = string(ev.Kind)
			logger.Error().Str("kind", errorKind).Int("code", ev.Code).
				Str("message", ev.Message).Msg("stream relay failed")
		case pipeline.EventContent:
			for _, block := range ev.Content {
				switch ev.Phase {
				case pipeline.PhaseReasoning:
					reasoningTokens += g.tokens.Count(block.Text)
				case pipeline.PhaseAnswer:
					answerTokens += g.tokens.Count(block.Text)
				}
			}
		}

		if clientGone {
			continue
		}
		if err := writeSSE(w, ev); err != nil {
			clientGone = true
			logger.Debug().Err(err).Msg("client disconnected, draining remaining events")
			continue
		}
		flusher.Flush()
	}

	outcome := "success"
	if errorKind != "" {
		outcome = "error"
	}
	g.record(requestID, modeStreaming, target, outcome, errorKind, reasoningTokens, answerTokens, start)
	logger.Info().Dur("latency", time.Since(start)).Str("outcome", outcome).
		Bool("client_gone", clientGone).Msg("stream complete")
}

// writeSSE writes one event in the native wire framing.
func writeSSE(w io.Writer, ev pipeline.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
