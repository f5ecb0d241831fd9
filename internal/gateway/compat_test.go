package gateway_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/thinkrelay/reasoning-gateway/internal/config"
)

func compatConfig(reasonerURL, targetURL string) func(*config.Config) {
	return func(c *config.Config) {
		c.Endpoints.DeepSeek = reasonerURL
		c.Endpoints.Anthropic = targetURL
		c.Compat = config.CompatConfig{
			APIKeys: map[string]config.TokenSet{
				"relay-key-1": {DeepSeek: "ds-tok", Anthropic: "ant-tok"},
			},
			ModelMap: map[string]config.ModelRoute{
				"relay-sonnet": {
					ReasoningModel: "deepseek-reasoner",
					Target:         "anthropic",
					TargetModel:    "claude-3-5-sonnet-20241022",
					Params:         map[string]any{"temperature": 0.3},
				},
			},
		}
	}
}

func postCompletions(t *testing.T, srv *httptest.Server, body, apiKey string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat/completions", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestCompletionsRequiresKnownKey(t *testing.T) {
	srv := newTestGateway(t, compatConfig("http://127.0.0.1:1", "http://127.0.0.1:1"))

	resp := postCompletions(t, srv, `{"model":"relay-sonnet","messages":[{"role":"user","content":"hi"}]}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing_credential", errorType(t, resp))

	resp = postCompletions(t, srv, `{"model":"relay-sonnet","messages":[{"role":"user","content":"hi"}]}`, "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing_credential", errorType(t, resp))
}

func TestCompletionsRejectsUnknownModel(t *testing.T) {
	srv := newTestGateway(t, compatConfig("http://127.0.0.1:1", "http://127.0.0.1:1"))

	resp := postCompletions(t, srv, `{"model":"gpt-9","messages":[{"role":"user","content":"hi"}]}`, "relay-key-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", errorType(t, resp))
}

func TestCompletionsRejectsEmptyMessages(t *testing.T) {
	srv := newTestGateway(t, compatConfig("http://127.0.0.1:1", "http://127.0.0.1:1"))

	resp := postCompletions(t, srv, `{"model":"relay-sonnet","messages":[]}`, "relay-key-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_failed", errorType(t, resp))
}

func TestCompletionsBlocking(t *testing.T) {
	var reasonerBody, targetBody []byte

	reasoner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reasonerBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"","reasoning_content":"deep thought"},"finish_reason":"stop"}]}`)
	}))
	defer reasoner.Close()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		targetBody, _ = io.ReadAll(r.Body)
		assert.Equal(t, "ant-tok", r.Header.Get("x-api-key"))
		fmt.Fprint(w, `{"model":"claude","content":[{"type":"text","text":"forty-two"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer target.Close()

	srv := newTestGateway(t, compatConfig(reasoner.URL, target.URL))

	body := `{"model":"relay-sonnet","messages":[{"role":"user","content":"the question"}],"top_p":0.9}`
	resp := postCompletions(t, srv, body, "relay-key-1")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := gjson.ParseBytes(raw)

	assert.Equal(t, "chat.completion", out.Get("object").String())
	assert.Equal(t, "relay-sonnet", out.Get("model").String())
	assert.True(t, strings.HasPrefix(out.Get("id").String(), "chatcmpl-"))
	assert.Equal(t, "stop", out.Get("choices.0.finish_reason").String())

	content := out.Get("choices.0.message.content").String()
	assert.Contains(t, content, "deep thought")
	assert.Contains(t, content, "forty-two")
	assert.Greater(t, out.Get("usage.total_tokens").Int(), int64(0))

	// Each leg got its routed model; caller extras and route params carried.
	assert.Equal(t, "deepseek-reasoner", gjson.GetBytes(reasonerBody, "model").String())
	assert.Equal(t, "claude-3-5-sonnet-20241022", gjson.GetBytes(targetBody, "model").String())
	assert.Equal(t, 0.9, gjson.GetBytes(targetBody, "top_p").Float())
	assert.Equal(t, 0.3, gjson.GetBytes(targetBody, "temperature").Float())
}

func TestCompletionsContentPartsJoined(t *testing.T) {
	var reasonerBody []byte
	reasoner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reasonerBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"","reasoning_content":"r"},"finish_reason":"stop"}]}`)
	}))
	defer reasoner.Close()
	target := newAnthropicStub(t, "ok")
	defer target.Close()

	srv := newTestGateway(t, compatConfig(reasoner.URL, target.URL))

	body := `{"model":"relay-sonnet","messages":[{"role":"user","content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}]}]}`
	resp := postCompletions(t, srv, body, "relay-key-1")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	messages := gjson.GetBytes(reasonerBody, "messages").Array()
	last := messages[len(messages)-1]
	assert.Equal(t, "part one part two", last.Get("content").String())
}

func TestCompletionsStreaming(t *testing.T) {
	reasoner := newDeepSeekStub(t, "streamed reasoning")
	defer reasoner.Close()
	target := newAnthropicStub(t, "streamed answer")
	defer target.Close()

	srv := newTestGateway(t, compatConfig(reasoner.URL, target.URL))

	body := `{"model":"relay-sonnet","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	resp := postCompletions(t, srv, body, "relay-key-1")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(string(raw), "\n\n")

	var payloads []gjson.Result
	sawDone := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			sawDone = true
			continue
		}
		payloads = append(payloads, gjson.Parse(data))
	}
	require.True(t, sawDone)
	require.NotEmpty(t, payloads)

	// First chunk announces the assistant role.
	assert.Equal(t, "chat.completion.chunk", payloads[0].Get("object").String())
	assert.Equal(t, "assistant", payloads[0].Get("choices.0.delta.role").String())

	var content strings.Builder
	for _, p := range payloads {
		content.WriteString(p.Get("choices.0.delta.content").String())
	}
	assert.Contains(t, content.String(), "streamed reasoning")
	assert.Contains(t, content.String(), "streamed answer")

	// The final chunk carries the stop reason.
	last := payloads[len(payloads)-1]
	assert.Equal(t, "stop", last.Get("choices.0.finish_reason").String())
}

func TestCompletionsStreamingErrorFrame(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"slow down"}`)
	}))
	defer failing.Close()
	target := newAnthropicStub(t, "unused")
	defer target.Close()

	srv := newTestGateway(t, compatConfig(failing.URL, target.URL))

	body := `{"model":"relay-sonnet","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	resp := postCompletions(t, srv, body, "relay-key-1")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "[DONE]")
	assert.Contains(t, string(raw), `"type":"upstream_protocol"`)
}
