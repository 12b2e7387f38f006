package genai

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts and truncates text in model tokens. When the encoding
// cannot be loaded it falls back to a character heuristic.
type Tokenizer struct {
	once     sync.Once
	name     string
	encoding *tiktoken.Tiktoken
}

// NewTokenizer returns a tokenizer for the named encoding, loaded on first use.
func NewTokenizer(encoding string) *Tokenizer {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &Tokenizer{name: encoding}
}

// NewHeuristicTokenizer returns a tokenizer that never loads an encoding.
func NewHeuristicTokenizer() *Tokenizer {
	t := &Tokenizer{}
	t.once.Do(func() {})
	return t
}

func (t *Tokenizer) load() *tiktoken.Tiktoken {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.name)
		if err != nil {
			slog.Warn("Tokenizer.load: encoding unavailable, using heuristic", "encoding", t.name, "error", err)
			return
		}
		t.encoding = enc
	})
	return t.encoding
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if enc := t.load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// Truncate shortens text to at most maxTokens tokens.
func (t *Tokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if enc := t.load(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return enc.Decode(tokens[:maxTokens])
	}
	runes := []rune(text)
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text
	}
	return string(runes[:limit])
}

// Split breaks text into windows of at most size tokens that overlap by
// overlap tokens.
func (t *Tokenizer) Split(text string, size, overlap int) []string {
	if strings.TrimSpace(text) == "" || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	step := size - overlap

	if enc := t.load(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		var chunks []string
		for start := 0; start < len(tokens); start += step {
			end := min(start+size, len(tokens))
			chunks = append(chunks, enc.Decode(tokens[start:end]))
			if end == len(tokens) {
				break
			}
		}
		return chunks
	}

	words := strings.Fields(text)
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// estimateTokens returns max(runes/4, words), at least 1 for non-empty text.
func estimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	return max(estimate, 1)
}
