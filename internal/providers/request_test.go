package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func testCapability() Capability {
	return Capability{
		Name:               "test",
		DefaultModel:       "base-model",
		DefaultMaxTokens:   1024,
		DefaultTemperature: 0.5,
	}
}

func TestBuildBodyDefaults(t *testing.T) {
	body, err := buildBody(testCapability(), []Message{{Role: RoleUser, Content: "hi"}}, false, Config{})
	require.NoError(t, err)

	assert.Equal(t, "base-model", gjson.GetBytes(body, "model").String())
	assert.Equal(t, int64(1024), gjson.GetBytes(body, "max_tokens").Int())
	assert.Equal(t, 0.5, gjson.GetBytes(body, "temperature").Float())
	assert.False(t, gjson.GetBytes(body, "stream").Bool())
	assert.Equal(t, "hi", gjson.GetBytes(body, "messages.0.content").String())
}

func TestBuildBodyCallerOverlayWins(t *testing.T) {
	cfg := Config{Body: json.RawMessage(`{"model":"custom","temperature":0.9,"top_p":0.7}`)}
	body, err := buildBody(testCapability(), []Message{{Role: RoleUser, Content: "hi"}}, true, cfg)
	require.NoError(t, err)

	assert.Equal(t, "custom", gjson.GetBytes(body, "model").String())
	assert.Equal(t, 0.9, gjson.GetBytes(body, "temperature").Float())
	// Unknown keys survive the merge untouched.
	assert.Equal(t, 0.7, gjson.GetBytes(body, "top_p").Float())
}

func TestBuildBodyReservedKeysAdapterOwned(t *testing.T) {
	cfg := Config{Body: json.RawMessage(`{"stream":false,"messages":[{"role":"user","content":"injected"}]}`)}
	body, err := buildBody(testCapability(), []Message{{Role: RoleUser, Content: "real"}}, true, cfg)
	require.NoError(t, err)

	// The caller cannot override the adapter's stream flag or message list.
	assert.True(t, gjson.GetBytes(body, "stream").Bool())
	messages := gjson.GetBytes(body, "messages").Array()
	require.Len(t, messages, 1)
	assert.Equal(t, "real", messages[0].Get("content").String())
}

func TestBuildBodyPreambleFirst(t *testing.T) {
	cap := testCapability()
	cap.Preamble = []Message{{Role: RoleSystem, Content: "policy"}}

	body, err := buildBody(cap, []Message{{Role: RoleUser, Content: "q"}}, false, Config{})
	require.NoError(t, err)

	messages := gjson.GetBytes(body, "messages").Array()
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Get("role").String())
	assert.Equal(t, "policy", messages[0].Get("content").String())
	assert.Equal(t, "q", messages[1].Get("content").String())
}

func TestBuildBodyExtraDefaultsOverridable(t *testing.T) {
	cap := testCapability()
	cap.ExtraDefaults = map[string]json.RawMessage{
		"response_format": json.RawMessage(`{"type":"text"}`),
	}

	body, err := buildBody(cap, []Message{{Role: RoleUser, Content: "q"}}, false, Config{})
	require.NoError(t, err)
	assert.Equal(t, "text", gjson.GetBytes(body, "response_format.type").String())

	cfg := Config{Body: json.RawMessage(`{"response_format":{"type":"json_object"}}`)}
	body, err = buildBody(cap, []Message{{Role: RoleUser, Content: "q"}}, false, cfg)
	require.NoError(t, err)
	assert.Equal(t, "json_object", gjson.GetBytes(body, "response_format.type").String())
}

func TestBuildBodyKeysWithPathSyntax(t *testing.T) {
	// Literal dots in caller keys must not become nested paths.
	cfg := Config{Body: json.RawMessage(`{"metadata.trace":"abc"}`)}
	body, err := buildBody(testCapability(), []Message{{Role: RoleUser, Content: "q"}}, false, cfg)
	require.NoError(t, err)

	raw := gjson.ParseBytes(body)
	assert.Equal(t, "abc", raw.Get("metadata\\.trace").String())
	assert.False(t, raw.Get("metadata").Exists())
}

func TestBuildBodyRejectsNonObjectConfig(t *testing.T) {
	cfg := Config{Body: json.RawMessage(`[1,2,3]`)}
	_, err := buildBody(testCapability(), []Message{{Role: RoleUser, Content: "q"}}, false, cfg)
	require.Error(t, err)
	assert.Equal(t, KindBadRequest, KindOf(err))
}

func TestBuildHeadersBearerDefault(t *testing.T) {
	headers, err := buildHeaders(testCapability(), "tok-123", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", headers["Authorization"])
	assert.Equal(t, "application/json", headers["Content-Type"])
}

func TestBuildHeadersCapabilityAuth(t *testing.T) {
	cap := testCapability()
	cap.Authenticate = func(token string, headers map[string]string) {
		headers["x-api-key"] = token
	}

	headers, err := buildHeaders(cap, "tok-456", nil)
	require.NoError(t, err)
	assert.Equal(t, "tok-456", headers["x-api-key"])
	assert.Empty(t, headers["Authorization"])
}

func TestBuildHeadersCustomMerged(t *testing.T) {
	headers, err := buildHeaders(testCapability(), "tok", map[string]string{"X-Trace-Id": "t1"})
	require.NoError(t, err)
	assert.Equal(t, "t1", headers["X-Trace-Id"])
}

func TestBuildHeadersRejectsInvalidBytes(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"control byte in value", map[string]string{"X-Ok": "bad\x00value"}},
		{"newline in value", map[string]string{"X-Ok": "bad\nvalue"}},
		{"space in name", map[string]string{"X Bad": "v"}},
		{"empty name", map[string]string{"": "v"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildHeaders(testCapability(), "tok", tt.headers)
			require.Error(t, err)
			assert.Equal(t, KindBadRequest, KindOf(err))
		})
	}
}
