package monitoring

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// fallbackTokenRatio approximates characters per token when the encoding
// cannot be loaded (offline environments fetch encodings lazily).
const fallbackTokenRatio = 4

// TokenEstimator counts tokens in relayed text for telemetry. Estimates only;
// billing-grade counts come from provider usage fields when present.
type TokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTokenEstimator loads the cl100k_base encoding, degrading to a
// character-ratio estimate when it is unavailable.
func NewTokenEstimator() *TokenEstimator {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Debug().Err(err).Msg("tiktoken encoding unavailable, using ratio estimate")
		return &TokenEstimator{}
	}
	return &TokenEstimator{enc: enc}
}

// Count returns the estimated token count of text.
func (e *TokenEstimator) Count(text string) int {
	if e == nil || e.enc == nil {
		return len(text) / fallbackTokenRatio
	}
	return len(e.enc.Encode(text, nil, nil))
}
