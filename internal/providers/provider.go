// Generic provider client.
//
// DESIGN: One Client drives all three upstreams; the per-provider request
// defaults and wire codecs live in a Capability. This keeps the protocol
// logic (auth, merge, SSE reassembly, error classification) in one place
// instead of three near-identical copies.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/thinkrelay/reasoning-gateway/internal/sse"
)

// Capability describes one upstream provider: request defaults plus the
// codecs that map its wire shapes to the normalized ones.
type Capability struct {
	// Name identifies the provider in errors, logs and metrics.
	Name string

	DefaultModel       string
	DefaultMaxTokens   int
	DefaultTemperature float64

	// EndpointHeader, when present in a request's Config.Headers, overrides
	// the client's base URL for that call.
	EndpointHeader string

	// Authenticate injects the provider's credential headers. Nil means
	// standard bearer auth.
	Authenticate func(token string, headers map[string]string)

	// Preamble messages are prepended ahead of caller messages on every call.
	Preamble []Message

	// ExtraDefaults are provider-specific body fields set before the caller
	// overlay (the overlay may replace them).
	ExtraDefaults map[string]json.RawMessage

	// DecodeResponse parses one blocking response body.
	DecodeResponse func(body []byte) (*ProviderResponse, error)

	// DecodeChunk parses one streaming frame payload.
	DecodeChunk func(payload []byte) (NormalizedChunk, error)
}

// Client issues blocking and streaming calls to one provider on behalf of a
// single request. Clients are created per request and never outlive it.
type Client struct {
	cap     Capability
	token   string
	baseURL string
	http    *http.Client
}

// defaultHTTPClient is shared across requests. No overall timeout: streaming
// responses are open-ended and rely on the transport's own dial/TLS limits.
var defaultHTTPClient = &http.Client{}

// NewClient builds a client for one provider. baseURL is the compiled-in or
// configured endpoint; a per-request endpoint header can still override it.
func NewClient(cap Capability, token, baseURL string) *Client {
	return &Client{cap: cap, token: token, baseURL: baseURL, http: defaultHTTPClient}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.cap.Name }

// endpoint resolves the URL for one call.
func (c *Client) endpoint(cfg Config) string {
	if c.cap.EndpointHeader != "" {
		if override := cfg.Headers[c.cap.EndpointHeader]; override != "" {
			return override
		}
	}
	return c.baseURL
}

// newRequest builds the HTTP request for one call, blocking or streaming.
func (c *Client) newRequest(ctx context.Context, messages []Message, stream bool, cfg Config) (*http.Request, error) {
	headers, err := buildHeaders(c.cap, c.token, cfg.Headers)
	if err != nil {
		return nil, err
	}
	body, err := buildBody(c.cap, messages, stream, cfg)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(cfg), bytes.NewReader(body))
	if err != nil {
		return nil, NewError(KindInternal, "build request: %v", err)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	return req, nil
}

// Complete issues one blocking request and returns the parsed response.
func (c *Client) Complete(ctx context.Context, messages []Message, cfg Config) (*ProviderResponse, error) {
	req, err := c.newRequest(ctx, messages, false, cfg)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindUpstreamTransport, Provider: c.cap.Name, Message: "request failed: " + err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindUpstreamTransport, Provider: c.cap.Name, Message: "read response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Upstream message text is forwarded verbatim for diagnostics.
		return nil, &Error{Kind: KindUpstreamProtocol, Provider: c.cap.Name, Status: resp.StatusCode, Message: string(body)}
	}

	parsed, err := c.cap.DecodeResponse(body)
	if err != nil {
		return nil, &Error{Kind: KindUpstreamParse, Provider: c.cap.Name,
			Message: "parse response: " + err.Error() + ". Body: " + string(body)}
	}
	return parsed, nil
}

// Stream issues one streaming request and returns a channel of normalized
// chunks. Request-construction or connection failures yield a single error
// element. The channel is closed when the upstream sequence ends.
func (c *Client) Stream(ctx context.Context, messages []Message, cfg Config) <-chan ChunkResult {
	out := make(chan ChunkResult, 16)

	req, err := c.newRequest(ctx, messages, true, cfg)
	if err != nil {
		out <- ChunkResult{Err: err}
		close(out)
		return out
	}

	go func() {
		defer close(out)

		resp, err := c.http.Do(req)
		if err != nil {
			out <- ChunkResult{Err: &Error{Kind: KindUpstreamTransport, Provider: c.cap.Name,
				Message: "request failed: " + err.Error()}}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			out <- ChunkResult{Err: &Error{Kind: KindUpstreamProtocol, Provider: c.cap.Name,
				Status: resp.StatusCode, Message: string(body)}}
			return
		}

		scanner := sse.NewScanner(resp.Body)
		for {
			payload, err := scanner.Next()
			if err != nil {
				if err != io.EOF {
					out <- ChunkResult{Err: &Error{Kind: KindUpstreamTransport, Provider: c.cap.Name,
						Message: "stream error: " + err.Error()}}
				}
				return
			}

			chunk, err := c.cap.DecodeChunk(payload)
			if err != nil {
				// A single unparseable frame must not abort a healthy stream.
				log.Debug().Err(err).Str("provider", c.cap.Name).
					Str("payload", string(payload)).Msg("dropping malformed frame")
				continue
			}
			if chunk.Empty() {
				continue
			}
			out <- ChunkResult{Chunk: chunk}
		}
	}()

	return out
}
