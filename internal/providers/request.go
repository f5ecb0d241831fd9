// Request construction: body merging and header building.
//
// DESIGN: The outgoing body is built as raw JSON with sjson patches rather
// than a typed struct, so arbitrary caller overrides (top_p, stop, vendor
// extensions) survive the merge untouched. Merge precedence is explicit:
// capability defaults < caller overlay < adapter-owned keys (stream,
// messages), set last.
package providers

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// reservedKeys are always adapter-controlled and silently dropped from the
// caller overlay.
var reservedKeys = map[string]bool{
	"stream":   true,
	"messages": true,
}

// buildBody assembles the provider request body for one call.
func buildBody(cap Capability, messages []Message, stream bool, cfg Config) ([]byte, error) {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "model", cap.DefaultModel)
	body, _ = sjson.SetBytes(body, "max_tokens", cap.DefaultMaxTokens)
	body, _ = sjson.SetBytes(body, "temperature", cap.DefaultTemperature)
	for key, raw := range cap.ExtraDefaults {
		body, _ = sjson.SetRawBytes(body, escapePath(key), []byte(raw))
	}

	if len(cfg.Body) > 0 {
		parsed := gjson.ParseBytes(cfg.Body)
		if !parsed.IsObject() {
			return nil, NewError(KindBadRequest, "provider config body must be a JSON object")
		}
		var mergeErr error
		parsed.ForEach(func(key, value gjson.Result) bool {
			if reservedKeys[key.String()] {
				return true
			}
			body, mergeErr = sjson.SetRawBytes(body, escapePath(key.String()), []byte(value.Raw))
			return mergeErr == nil
		})
		if mergeErr != nil {
			return nil, NewError(KindInternal, "merge provider config: %v", mergeErr)
		}
	}

	all := make([]Message, 0, len(cap.Preamble)+len(messages))
	all = append(all, cap.Preamble...)
	all = append(all, messages...)
	rawMessages, err := json.Marshal(all)
	if err != nil {
		return nil, NewError(KindInternal, "marshal messages: %v", err)
	}

	body, _ = sjson.SetBytes(body, "stream", stream)
	body, _ = sjson.SetRawBytes(body, "messages", rawMessages)
	return body, nil
}

// escapePath neutralizes gjson path syntax in a literal JSON key.
func escapePath(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return r.Replace(key)
}

// buildHeaders returns the full header set for one call: provider auth and
// JSON content negotiation, then caller-supplied headers merged over them.
// Invalid header bytes are a request-construction error, caught before any I/O.
func buildHeaders(cap Capability, token string, custom map[string]string) (map[string]string, error) {
	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if cap.Authenticate != nil {
		cap.Authenticate(token, headers)
	} else {
		headers["Authorization"] = "Bearer " + token
	}
	for name, value := range custom {
		if !validHeaderName(name) {
			return nil, NewError(KindBadRequest, "invalid header name: %q", name)
		}
		if !validHeaderValue(value) {
			return nil, NewError(KindBadRequest, "invalid header value for %q", name)
		}
		headers[name] = value
	}
	return headers, nil
}

// validHeaderName checks RFC 7230 token characters.
func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}

// validHeaderValue rejects control bytes other than horizontal tab.
func validHeaderValue(value string) bool {
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '\t' {
			continue
		}
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}
