package preprocessor

import (
	"regexp"
	"strings"

	"github.com/opsagent/signalops/pkg/signal"
)

var personPattern = regexp.MustCompile(`\b(Mr|Mrs|Ms|Dr|Prof)\.?\s+[A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)?\b`)
var roleTokenPattern = regexp.MustCompile(`\b(manager|engineer|director|lead|owner|admin)\b`)

var urgencyCues = []string{"please", "need to", "asap", "action item", "must", "urgent", "immediately"}
var softCues = []string{"should", "could", "might", "maybe", "consider"}
var mediumCues = []string{"let's", "we will", "to do", "follow up", "next step"}

// sentenceSplitter splits on sentence-ending punctuation followed by
// whitespace; good enough for cue-word scanning, not meant as a full
// sentence segmenter.
var sentenceSplitter = regexp.MustCompile(`(?:[.!?]+\s+)|\n`)

// extractEntities is spec.md §4.8 stage 6: people, dates/money/URLs/file
// references with surrounding context, and action items.
func extractEntities(body string, extracted signal.ExtractedData) signal.Entities {
	var people []string
	people = append(people, personPattern.FindAllString(body, -1)...)
	for _, m := range roleTokenPattern.FindAllString(body, -1) {
		people = append(people, m)
	}

	e := signal.Entities{
		People:   dedupe(people),
		Dates:    withContext(body, extracted.Dates),
		Money:    withContext(body, moneyRawStrings(extracted.MonetaryAmounts)),
		URLs:     withContext(body, extracted.URLs),
		FileRefs: withContext(body, extracted.FileRefs),
	}
	e.ActionItems = extractActionItems(body)
	return e
}

func moneyRawStrings(amounts []signal.MonetaryAmount) []string {
	out := make([]string, len(amounts))
	for i, a := range amounts {
		out[i] = a.Raw
	}
	return out
}

// withContext replaces each value with the trimmed sentence it appeared
// in, when found; otherwise it keeps the bare value.
func withContext(body string, values []string) []string {
	out := make([]string, 0, len(values))
	sentences := sentenceSplitter.Split(body, -1)
	for _, v := range values {
		context := v
		for _, s := range sentences {
			if strings.Contains(s, v) {
				context = strings.TrimSpace(s)
				break
			}
		}
		out = append(out, context)
	}
	return out
}

func extractActionItems(body string) []signal.ActionItem {
	var items []signal.ActionItem
	for _, sentence := range sentenceSplitter.Split(body, -1) {
		trimmed := strings.TrimSpace(sentence)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)

		priority := ""
		for _, cue := range urgencyCues {
			if strings.Contains(lower, cue) {
				priority = "high"
				break
			}
		}
		if priority == "" {
			for _, cue := range softCues {
				if strings.Contains(lower, cue) {
					priority = "low"
					break
				}
			}
		}
		if priority == "" {
			for _, cue := range mediumCues {
				if strings.Contains(lower, cue) {
					priority = "medium"
					break
				}
			}
		}
		if priority == "" {
			continue
		}
		items = append(items, signal.ActionItem{Text: trimmed, Priority: priority})
	}
	return items
}
