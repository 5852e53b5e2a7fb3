package embedding

import (
	"strings"

	"github.com/daulet/tokenizers"
)

// Tokenizer counts and splits text into model-specific tokens. It is kept
// pluggable per spec.md's open question on the source's "simplified Qwen
// tokenizer": a dependency-free stand-in backs offline tests, while
// daulet/tokenizers backs production deployments with a real tokenizer.json.
type Tokenizer interface {
	// CountTokens returns the number of tokens text would produce.
	CountTokens(text string) int
	// Truncate returns text cut down to at most maxTokens tokens.
	Truncate(text string, maxTokens int) string
}

// whitespaceTokenizer is the dependency-free stand-in: one token per
// whitespace-delimited word. It never errors and needs no model file, so it
// backs every offline test and the fallback embedding path.
type whitespaceTokenizer struct{}

// NewWhitespaceTokenizer returns the default, dependency-free tokenizer.
func NewWhitespaceTokenizer() Tokenizer { return whitespaceTokenizer{} }

func (whitespaceTokenizer) CountTokens(text string) int {
	return len(strings.Fields(text))
}

func (whitespaceTokenizer) Truncate(text string, maxTokens int) string {
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ")
}

// HFTokenizer wraps a daulet/tokenizers Tokenizer loaded from a model's
// tokenizer.json, for use when a real model is configured.
type HFTokenizer struct {
	tk *tokenizers.Tokenizer
}

// LoadHFTokenizer loads a tokenizer.json at path.
func LoadHFTokenizer(path string) (*HFTokenizer, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, err
	}
	return &HFTokenizer{tk: tk}, nil
}

func (t *HFTokenizer) CountTokens(text string) int {
	ids, _ := t.tk.Encode(text, false)
	return len(ids)
}

func (t *HFTokenizer) Truncate(text string, maxTokens int) string {
	ids, tokens := t.tk.Encode(text, false)
	if len(ids) <= maxTokens {
		return text
	}
	return strings.Join(tokens[:maxTokens], "")
}

// Close releases the underlying tokenizer's native resources.
func (t *HFTokenizer) Close() error {
	return t.tk.Close()
}
