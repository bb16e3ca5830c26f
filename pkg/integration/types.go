// Package integration implements the Integration Manager (spec.md §4.4):
// uniform lifecycle for external adapters, with scheduled auto-reconnect on
// start failure.
package integration

import "context"

// Status is an adapter's reported health.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusError        Status = "error"
	StatusUnknown      Status = "unknown"
)

// Adapter is the uniform contract every external integration registers
// under (spec.md §4.4: "{name, start?, stop?, health?}").
type Adapter struct {
	Name  string
	Start func(context.Context) error
	Stop  func(context.Context) error
	Health func(context.Context) Status
}
