// Package signal holds the immutable input type and its preprocessed
// derivative, shared by every downstream component (spec.md §3).
package signal

import "time"

// Source enumerates where a Signal originated.
type Source string

const (
	SourceEmail        Source = "email"
	SourceChat         Source = "chat"
	SourceSheet        Source = "sheet"
	SourceSheetUpdate  Source = "sheet_update"
	SourceManual       Source = "manual"
)

// Signal is the immutable input handed to the pipeline by an adapter. It is
// created once and never mutated; it is dropped once the pipeline
// completes or a review decision resolves it.
type Signal struct {
	ID          string
	Source      Source
	Subject     string
	Body        string
	Sender      string
	Timestamp   time.Time
	Attachments []byte
}

// CleaningStep names one normalization pass the preprocessor applied.
type CleaningStep string

const (
	StepQuotedReplyRemoved CleaningStep = "quoted_reply_removed"
	StepSignatureRemoved   CleaningStep = "signature_removed"
	StepWhitespaceNormalized CleaningStep = "whitespace_normalized"
	StepErrorFallback      CleaningStep = "error_fallback"
)

// MonetaryAmount is an ordered extraction of a money mention.
type MonetaryAmount struct {
	Amount   float64
	Currency string
	Raw      string
}

// ExtractedData is the structured-data bag the preprocessor fills in.
// Sets are de-duplicated; sequences preserve document order.
type ExtractedData struct {
	Emails        []string
	PhoneNumbers  []string
	URLs          []string
	FileRefs      []string
	Mentions      []string
	Dates         []string // normalized ISO-8601 (date-only)
	Times         []string
	MonetaryAmounts []MonetaryAmount
}

// LanguageInfo is the output of the closed-class language detector.
type LanguageInfo struct {
	Language   string
	Confidence float64
}

// PreprocessingMetadata carries the per-signal housekeeping the spec
// requires: word/sentence counts, detected flags, and the ordered list of
// cleaning steps actually applied.
type PreprocessingMetadata struct {
	Language        LanguageInfo
	WordCount       int
	SentenceCount   int
	HasQuotedReply  bool
	HasSignature    bool
	HasAttachments  bool
	CleaningSteps   []CleaningStep
}

// ActionItem is an M1-extracted sentence carrying an actionable cue.
type ActionItem struct {
	Text     string
	Priority string // high | medium | low
}

// Entities is the optional, richer M1 extraction pass (entity extraction).
type Entities struct {
	People       []string
	Dates        []string
	Money        []string
	URLs         []string
	FileRefs     []string
	ActionItems  []ActionItem
}

// PreprocessedSignal is derived from Signal by the preprocessor (M1).
// Invariant: len(CleanedBody) <= len(original Body); if Body is non-empty,
// CleanedBody is non-empty unless the entire content was signature/quote.
type PreprocessedSignal struct {
	Signal        Signal
	CleanedSubject string
	CleanedBody    string
	ExtractedData  ExtractedData
	Metadata       PreprocessingMetadata
	Entities       *Entities
}
