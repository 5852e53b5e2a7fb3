package embedding

import (
	"strings"

	"github.com/google/uuid"
)

// ChunkingConfig controls text chunking behavior ahead of embedding: a
// record whose text exceeds MaxTokens is split into overlapping windows so
// each embedded unit stays within the model's MaxLength.
type ChunkingConfig struct {
	Enabled       bool `yaml:"Enabled"`
	MaxTokens     int  `yaml:"MaxTokens"`
	OverlapTokens int  `yaml:"OverlapTokens"`
}

// DefaultChunkingConfig returns sensible defaults for a ~512-token model.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Enabled:       true,
		MaxTokens:     400,
		OverlapTokens: 40,
	}
}

// Chunk is one overlapping window of a longer record's text. All chunks
// derived from the same record share GroupID.
type Chunk struct {
	GroupID    string // shared by every chunk of one source record
	Text       string
	Index      int // 0-based position within the group
	TotalCount int
}

// Chunker splits text into overlapping chunks. The Tokenizer's count decides
// whether text needs chunking at all; the windows themselves are cut on
// whitespace-separated words, so boundaries match the provider's
// tokenization only when the Tokenizer also splits on whitespace.
type Chunker struct {
	tok           Tokenizer
	enabled       bool
	maxTokens     int
	overlapTokens int
}

// NewChunker creates a chunker that counts tokens via tok. If
// config.Enabled is false, ChunkText always returns nil (no chunking).
func NewChunker(tok Tokenizer, config ChunkingConfig) *Chunker {
	if config.MaxTokens <= 0 {
		config.MaxTokens = 400
	}
	if config.OverlapTokens <= 0 || config.OverlapTokens >= config.MaxTokens {
		config.OverlapTokens = config.MaxTokens / 10
	}
	if tok == nil {
		tok = NewWhitespaceTokenizer()
	}
	return &Chunker{tok: tok, enabled: config.Enabled, maxTokens: config.MaxTokens, overlapTokens: config.OverlapTokens}
}

// ChunkText splits text into overlapping windows. It returns nil if
// chunking is disabled or text already fits within maxTokens.
func (c *Chunker) ChunkText(text string) []Chunk {
	if !c.enabled {
		return nil
	}
	words := strings.Fields(text)
	if c.tok.CountTokens(text) <= c.maxTokens {
		return nil
	}

	groupID := uuid.New().String()
	var chunks []Chunk

	step := c.maxTokens - c.overlapTokens
	if step <= 0 {
		step = c.maxTokens / 2
	}

	for i := 0; i < len(words); i += step {
		end := i + c.maxTokens
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, Chunk{
			GroupID: groupID,
			Text:    strings.Join(words[i:end], " "),
			Index:   len(chunks),
		})
		if end == len(words) {
			break
		}
	}

	for i := range chunks {
		chunks[i].TotalCount = len(chunks)
	}
	return chunks
}
