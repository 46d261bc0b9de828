package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens estimates the token length of text. Falls back to a bytes/4
// heuristic if the encoding cannot be loaded (e.g. offline first run).
func CountTokens(text string) int {
	encOnce.Do(func() {
		enc, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// ClampTokens truncates text so it stays under maxTokens. Truncation happens
// on line boundaries from the front, keeping the tail, since the most recent
// history is the most relevant to a follow-up call.
func ClampTokens(text string, maxTokens int) string {
	if maxTokens <= 0 || CountTokens(text) <= maxTokens {
		return text
	}
	lines := strings.Split(text, "\n")
	for len(lines) > 1 {
		lines = lines[1:]
		candidate := strings.Join(lines, "\n")
		if CountTokens(candidate) <= maxTokens {
			return candidate
		}
	}
	// single oversized line: hard cut by runes
	runes := []rune(lines[0])
	for len(runes) > 0 && CountTokens(string(runes)) > maxTokens {
		cut := len(runes) / 2
		runes = runes[cut:]
	}
	return string(runes)
}
