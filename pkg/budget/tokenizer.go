package budget

import (
	"math"
	"regexp"

	"github.com/opsagent/signalops/pkg/llm"
)

// No tokenizer library is wired into this corpus's dependency set, so
// CountTokens uses a fixed word/punctuation tokenizer as the "fixed
// tokenizer" spec.md §4.5 calls for, and falls back to ceil(len/4) only
// when the pattern finds no token at all, which happens only for
// whitespace-only text (every other rune, control bytes included, matches
// the pattern) — the condition spec.md labels "unavailable". See DESIGN.md for
// why this stays on the standard library.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+|[^\s\p{L}\p{N}]`)

// CountTokens estimates the token count of a single string.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	matches := tokenPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return int(math.Ceil(float64(len(text)) / 4))
	}
	return len(matches)
}

// perMessageOverhead and primingConstant model the fixed cost a chat
// template adds beyond the raw message text (role markers, turn
// delimiters, the system preamble).
const (
	perMessageOverhead = 4
	primingConstant    = 3
)

// CountMessageTokens sums role+content tokens across a chat request plus
// per-message overhead and a priming constant (spec.md §4.5).
func CountMessageTokens(messages []llm.Message) int {
	total := primingConstant
	for _, m := range messages {
		total += CountTokens(string(m.Role)) + CountTokens(m.Content) + perMessageOverhead
	}
	return total
}
