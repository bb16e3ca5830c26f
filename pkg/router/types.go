// Package router implements the Action Router (spec.md §4.14): given a
// Decision, it invokes the platform adapter selected by the decision's
// action type and an explicit platform attribute, wrapping every call in
// a per-integration circuit breaker.
package router

import (
	"context"
	"time"

	"github.com/opsagent/signalops/pkg/decision"
)

// Result is the spec.md §4.14 routeAction() return shape.
type Result struct {
	Success       bool          `json:"success"`
	Data          any           `json:"data,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"executionTime"`
}

// AdapterFunc invokes one platform integration for a decision.
type AdapterFunc func(ctx context.Context, d decision.Decision) (Result, error)

const defaultPlatform = "default"

func platformOf(d decision.Decision) string {
	if pl, ok := d.ActionParams["platform"].(string); ok && pl != "" {
		return pl
	}
	return defaultPlatform
}

func adapterKey(action decision.Action, platform string) string {
	return string(action) + "@" + platform
}
