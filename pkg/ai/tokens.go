package ai

import (
	"github.com/pkoukk/tiktoken-go"
)

const DefaultEncoding = "cl100k_base"

// TokenTruncator cuts texts to a token budget before they are sent to an
// embedding model.
type TokenTruncator struct {
	enc       *tiktoken.Tiktoken
	maxTokens int
}

// NewTokenTruncator loads the given tiktoken encoding. An empty encoding
// selects DefaultEncoding.
func NewTokenTruncator(encoding string, maxTokens int) (*TokenTruncator, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TokenTruncator{enc: enc, maxTokens: maxTokens}, nil
}

// Truncate returns text cut to at most maxTokens tokens.
func (t *TokenTruncator) Truncate(text string) string {
	if t == nil || t.maxTokens <= 0 {
		return text
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= t.maxTokens {
		return text
	}
	return t.enc.Decode(tokens[:t.maxTokens])
}

// Count returns the number of tokens in text.
func (t *TokenTruncator) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}
