// File: internal/services/ai/tokenizer.go
package ai

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// CountTokens approximates the token count of text with cl100k_base. Local
// models use their own vocabularies, so this is an estimate; fallback is
// returned when the codec is unavailable.
func CountTokens(text string, fallback int) int {
	c, err := getCodec()
	if err != nil {
		return fallback
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return fallback
	}
	return len(ids)
}
