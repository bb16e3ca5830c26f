package preprocessor

import (
	"strings"

	"github.com/opsagent/signalops/pkg/signal"
)

// closedClassWords are a small frequency-match set per language (spec.md
// §4.8 stage 5: "frequency match against closed-class word sets"). No
// statistical language-ID library is wired into this corpus; see
// DESIGN.md for why this stays on a hand-rolled closed-class matcher.
var closedClassWords = map[string][]string{
	"en": {"the", "and", "is", "of", "to", "in", "that", "for", "with", "on"},
	"es": {"el", "la", "de", "que", "y", "en", "los", "se", "con", "por"},
	"fr": {"le", "la", "de", "et", "les", "des", "en", "un", "une", "pour"},
	"de": {"der", "die", "und", "das", "ist", "den", "mit", "von", "zu", "ein"},
}

// detectLanguage emits the best-matching language and its confidence
// (fraction of recognized tokens matching that language's word set).
// Empty text defaults to en with confidence 0.
func detectLanguage(body string) signal.LanguageInfo {
	words := strings.Fields(strings.ToLower(body))
	if len(words) == 0 {
		return signal.LanguageInfo{Language: "en", Confidence: 0}
	}

	scores := make(map[string]int, len(closedClassWords))
	for _, w := range words {
		for lang, set := range closedClassWords {
			for _, cw := range set {
				if w == cw {
					scores[lang]++
				}
			}
		}
	}

	best, bestScore := "en", 0
	for lang, score := range scores {
		if score > bestScore {
			best, bestScore = lang, score
		}
	}
	if bestScore == 0 {
		return signal.LanguageInfo{Language: "en", Confidence: 0}
	}
	return signal.LanguageInfo{Language: best, Confidence: float64(bestScore) / float64(len(words))}
}
