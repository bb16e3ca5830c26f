// Package preprocessor implements the Signal Preprocessor (spec.md §4.8): it
// strips quoted replies and signatures from email bodies, normalizes
// whitespace, extracts structured data, detects language, and optionally
// extracts entities, turning a raw Signal into a PreprocessedSignal.
package preprocessor

import (
	"strings"

	"go.uber.org/zap"

	"github.com/opsagent/signalops/pkg/signal"
)

// Options toggles optional pipeline stages (spec.md §4.8: "each optional via
// flags").
type Options struct {
	ExtractEntities bool
}

// Preprocessor runs the M1 pipeline.
type Preprocessor struct {
	log *zap.Logger
}

// New constructs a Preprocessor. log may be nil.
func New(log *zap.Logger) *Preprocessor {
	return &Preprocessor{log: log}
}

// Process runs every pipeline stage over s, catching any stage failure and
// falling back to the original text plus an error_fallback marker (spec.md
// §4.8 error policy).
func (p *Preprocessor) Process(s signal.Signal, opts Options) (ps signal.PreprocessedSignal) {
	ps.Signal = s

	defer func() {
		if r := recover(); r != nil {
			if p.log != nil {
				p.log.Error("preprocessor stage panicked, falling back", zap.Any("recover", r), zap.String("signal_id", s.ID))
			}
			ps = signal.PreprocessedSignal{
				Signal:         s,
				CleanedSubject: s.Subject,
				CleanedBody:    s.Body,
				Metadata: signal.PreprocessingMetadata{
					Language:       signal.LanguageInfo{Language: "en", Confidence: 0},
					HasAttachments: len(s.Attachments) > 0,
					CleaningSteps:  []signal.CleaningStep{signal.StepErrorFallback},
				},
			}
		}
	}()

	body := normalizeLineEndings(s.Body)
	var steps []signal.CleaningStep

	if s.Source == signal.SourceEmail {
		var stripped bool
		body, stripped = stripQuotedReply(body)
		if stripped {
			steps = append(steps, signal.StepQuotedReplyRemoved)
		}
	}

	var hasSignature bool
	body, hasSignature = stripSignature(body)
	if hasSignature {
		steps = append(steps, signal.StepSignatureRemoved)
	}

	cleanedBody := normalizeWhitespace(body)
	steps = append(steps, signal.StepWhitespaceNormalized)

	if s.Body != "" && cleanedBody == "" {
		// entire content was signature/quote; invariant allows empty only
		// in that case, otherwise fall back to the normalized original.
		if !hasSignature && s.Source != signal.SourceEmail {
			cleanedBody = normalizeWhitespace(normalizeLineEndings(s.Body))
		}
	}

	extracted := extractStructuredData(cleanedBody)
	lang := detectLanguage(cleanedBody)

	ps.CleanedSubject = strings.TrimSpace(s.Subject)
	ps.CleanedBody = cleanedBody
	ps.ExtractedData = extracted
	ps.Metadata = signal.PreprocessingMetadata{
		Language:       lang,
		WordCount:      countWords(cleanedBody),
		SentenceCount:  countSentences(cleanedBody),
		HasQuotedReply: contains(steps, signal.StepQuotedReplyRemoved),
		HasSignature:   hasSignature,
		HasAttachments: len(s.Attachments) > 0,
		CleaningSteps:  steps,
	}

	if opts.ExtractEntities {
		entities := extractEntities(cleanedBody, extracted)
		ps.Entities = &entities
	}

	return ps
}

func contains(steps []signal.CleaningStep, step signal.CleaningStep) bool {
	for _, s := range steps {
		if s == step {
			return true
		}
	}
	return false
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

func countSentences(s string) int {
	count := 0
	for _, r := range s {
		if r == '.' || r == '!' || r == '?' {
			count++
		}
	}
	if count == 0 && strings.TrimSpace(s) != "" {
		return 1
	}
	return count
}
