package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/thinkrelay/reasoning-gateway/internal/providers"
)

// statusFor maps an error classification to the HTTP status returned to the
// caller. Upstream failures surface as 502 regardless of the upstream's own
// status; the upstream status travels in the message body instead.
func statusFor(kind providers.ErrorKind) int {
	switch kind {
	case providers.KindBadRequest, providers.KindValidationFailed:
		return http.StatusBadRequest
	case providers.KindMissingCredential:
		return http.StatusUnauthorized
	case providers.KindUpstreamTransport, providers.KindUpstreamProtocol,
		providers.KindUpstreamParse, providers.KindMissingReasoning:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the single JSON error body used by all blocking paths.
func writeError(w http.ResponseWriter, err error) {
	kind := providers.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(kind))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"type":    string(kind),
			"message": err.Error(),
		},
	})
}
