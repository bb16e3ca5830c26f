// Package reasoning implements the Reasoning Pipeline (spec.md §4.11): it
// sequences the Signal Preprocessor, Classifier, and Decision Maker and
// produces a ReasoningResult.
package reasoning

import (
	"time"

	"github.com/opsagent/signalops/pkg/classifier"
	"github.com/opsagent/signalops/pkg/decision"
	"github.com/opsagent/signalops/pkg/signal"
)

// Status is the closed ReasoningResult.metadata.status enum.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// StageTimings records how long each stage took.
type StageTimings struct {
	Preprocessing  time.Duration `json:"preprocessing"`
	Classification time.Duration `json:"classification"`
	Decision       time.Duration `json:"decision"`
}

// Metadata is the spec.md §3 ReasoningResult.metadata.
type Metadata struct {
	ProcessingTime      time.Duration `json:"processingTime"`
	Confidence          float64       `json:"confidence"`
	Cached              bool          `json:"cached"`
	WarningCount        int           `json:"warningCount"`
	RequiresHumanReview bool          `json:"requiresHumanReview"`
	Status              Status        `json:"status"`
	StageTimings        StageTimings  `json:"stageTimings"`
}

// Result is the spec.md §3 ReasoningResult.
// Invariant: Cached => ClassificationStage.Cached.
type Result struct {
	Signal               signal.Signal
	PreprocessingStage   *signal.PreprocessedSignal
	ClassificationStage  *classifier.Classification
	DecisionStage        *decision.Decision
	Metadata             Metadata
}
