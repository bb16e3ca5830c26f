package reasoning

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/opsagent/signalops/pkg/classifier"
	"github.com/opsagent/signalops/pkg/decision"
	"github.com/opsagent/signalops/pkg/preprocessor"
	"github.com/opsagent/signalops/pkg/signal"
)

// TrustChecker reports whether a sender is on the trusted list.
type TrustChecker func(sender string) bool

// Pipeline sequences M1 -> M2 -> M3 (spec.md §4.11). It suspends only at
// the two explicit points the spec names: the LLM call inside the
// classifier and decision maker, and a response-cache miss inside the
// classifier.
type Pipeline struct {
	preprocessor *preprocessor.Preprocessor
	classifier   *classifier.Classifier
	decider      *decision.Maker
	trusted      TrustChecker
	log          *zap.Logger
}

// New constructs a Pipeline. trusted may be nil, in which case no sender is
// considered trusted.
func New(p *preprocessor.Preprocessor, c *classifier.Classifier, d *decision.Maker, trusted TrustChecker, log *zap.Logger) *Pipeline {
	if trusted == nil {
		trusted = func(string) bool { return false }
	}
	return &Pipeline{preprocessor: p, classifier: c, decider: d, trusted: trusted, log: log}
}

// Process runs the full pipeline for one Signal.
func (p *Pipeline) Process(ctx context.Context, s signal.Signal) Result {
	started := time.Now()
	result := Result{Signal: s}

	preStart := time.Now()
	ps := p.preprocessor.Process(s, preprocessor.Options{ExtractEntities: true})
	result.PreprocessingStage = &ps
	preDuration := time.Since(preStart)

	clsStart := time.Now()
	cls, err := p.classifier.Classify(ctx, ps)
	clsDuration := time.Since(clsStart)
	if err != nil {
		if p.log != nil {
			p.log.Warn("classification failed", zap.Error(err), zap.String("signal_id", s.ID))
		}
		result.Metadata = Metadata{
			ProcessingTime:      time.Since(started),
			Status:              StatusFailed,
			RequiresHumanReview: true,
			StageTimings:        StageTimings{Preprocessing: preDuration, Classification: clsDuration},
		}
		return result
	}
	result.ClassificationStage = &cls

	decStart := time.Now()
	d, decErr := p.decider.Decide(ctx, decision.Input{
		SignalID:       s.ID,
		SignalSender:   s.Sender,
		Classification: cls,
	})
	decDuration := time.Since(decStart)
	timings := StageTimings{Preprocessing: preDuration, Classification: clsDuration, Decision: decDuration}

	if decErr != nil {
		if p.log != nil {
			p.log.Warn("decision failed, falling back to ignore and review", zap.Error(decErr), zap.String("signal_id", s.ID))
		}
		fallback := safeFallbackDecision(s.ID, decErr)
		result.DecisionStage = &fallback
		result.Metadata = Metadata{
			ProcessingTime:      time.Since(started),
			Confidence:          cls.Confidence,
			Cached:              cls.Cached,
			RequiresHumanReview: true,
			Status:              StatusPartial,
			StageTimings:        timings,
		}
		return result
	}
	result.DecisionStage = &d

	requiresReview := d.RequiresApproval ||
		d.Confidence < 0.7 ||
		(cls.Category == classifier.CategorySpam && !p.trusted(s.Sender))

	result.Metadata = Metadata{
		ProcessingTime:      time.Since(started),
		Confidence:          d.Confidence,
		Cached:              cls.Cached,
		WarningCount:        len(d.Validation.Warnings),
		RequiresHumanReview: requiresReview,
		Status:              StatusSuccess,
		StageTimings:        timings,
	}
	return result
}

// safeFallbackDecision produces the spec.md §4.11 "partial" status
// fallback: a safe ignore decision that always requires review.
func safeFallbackDecision(signalID string, cause error) decision.Decision {
	return decision.Decision{
		SignalID:         signalID,
		Action:           decision.ActionIgnore,
		ActionParams:     map[string]any{},
		RequiresApproval: true,
		Reasoning:        "decision stage failed, deferring to manual review: " + cause.Error(),
		Confidence:       0,
		Timestamp:        time.Now(),
		Validation:       decision.ValidationResult{RequiresApproval: true},
	}
}

// ErrPreprocessingFailed is never returned today (the preprocessor cannot
// itself fail; it falls back internally) but is kept for callers that want
// to pattern-match on stage failures uniformly.
var ErrPreprocessingFailed = errors.New("preprocessing_failed")
