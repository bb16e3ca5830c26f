package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizePrompt collapses whitespace and Unicode-normalizes the prompt
// text before fingerprinting, per spec.md §9's open-question resolution
// that fingerprints are computed post-normalization.
func normalizePrompt(text string) string {
	normalized, _, err := transform.String(norm.NFC, text)
	if err != nil {
		normalized = text
	}
	fields := strings.Fields(normalized)
	return strings.Join(fields, " ")
}

// Fingerprint computes the stable hash over (prompt_text, model_id,
// temperature, extra_key) described in spec.md §4.6. The temperature is
// hashed to four decimal places, so temperatures that differ there produce
// distinct fingerprints and finer differences do not.
func Fingerprint(k KeyComponents) string {
	normalized := normalizePrompt(k.PromptText)
	raw := fmt.Sprintf("%s\x00%s\x00%.4f\x00%s", normalized, k.Model, k.Temperature, k.ExtraKey)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
