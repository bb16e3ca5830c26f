// Package config defines the agent's configuration surface as a plain,
// programmatically-constructed struct tree. Loading it from a file or the
// environment is explicitly out of scope (spec.md Non-goals); callers
// (tests, cmd/agentd, or an embedding application) build a Config value
// directly and hand it to the composition root.
package config

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the enumerated configuration surface of spec.md §6.
type Config struct {
	LLMProviderOrder []string `validate:"required,min=1"`

	MaxDailyTokens int `validate:"gt=0"`

	ConfidenceAutoExecute     float64 `validate:"gte=0,lte=1"`
	ConfidenceRequireApproval float64 `validate:"gte=0,lte=1"`
	ConfidenceReject          float64 `validate:"gte=0,lte=1"`

	CacheTTLClassification time.Duration `validate:"gt=0"`
	CacheTTLDecision       time.Duration `validate:"gt=0"`
	CacheTTLOther          time.Duration `validate:"gt=0"`

	ReviewLowExpiry    time.Duration `validate:"gt=0"`
	ReviewMediumExpiry time.Duration `validate:"gt=0"`
	ReviewHighExpiry   time.Duration `validate:"gt=0"`

	MaxConcurrentActions int           `validate:"gt=0"`
	MaxAttempts           int           `validate:"gt=0"`
	BackoffBase            time.Duration `validate:"gt=0"`
	ProcessingInterval     time.Duration `validate:"gt=0"`

	BreakerFailureThreshold int           `validate:"gt=0"`
	BreakerSuccessThreshold int           `validate:"gt=0"`
	BreakerTimeout          time.Duration `validate:"gt=0"`
	BreakerCacheTTL         time.Duration `validate:"gt=0"`

	// PlatformMinInterval is the per-platform rate-limit table (spec.md §6).
	PlatformMinInterval map[string]time.Duration

	// ForbiddenTargets feeds the OPA policy blocker check in M3.
	ForbiddenTargets []string
}

// Default returns the spec's documented defaults.
func Default() Config {
	return Config{
		LLMProviderOrder: []string{"anthropic", "bedrock", "langchain"},

		MaxDailyTokens: 500_000,

		ConfidenceAutoExecute:     0.8,
		ConfidenceRequireApproval: 0.5,
		ConfidenceReject:          0.3,

		CacheTTLClassification: time.Hour,
		CacheTTLDecision:       30 * time.Minute,
		CacheTTLOther:          10 * time.Minute,

		ReviewLowExpiry:    time.Hour,
		ReviewMediumExpiry: 4 * time.Hour,
		ReviewHighExpiry:   24 * time.Hour,

		MaxConcurrentActions: 5,
		MaxAttempts:           3,
		BackoffBase:            time.Second,
		ProcessingInterval:     2 * time.Second,

		BreakerFailureThreshold: 5,
		BreakerSuccessThreshold: 2,
		BreakerTimeout:          60 * time.Second,
		BreakerCacheTTL:         30 * time.Second,

		PlatformMinInterval: map[string]time.Duration{
			"notion": 330 * time.Millisecond,
			"trello": 100 * time.Millisecond,
			"chat":   1000 * time.Millisecond,
			"drive":  100 * time.Millisecond,
			"sheets": 100 * time.Millisecond,
		},
	}
}

var v = validator.New()

// Validate checks the struct tags above and returns the first violation.
func (c Config) Validate() error {
	return v.Struct(c)
}
