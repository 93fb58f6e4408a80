// Package serverstate tracks the process lifecycle shared by every transport.
package serverstate

import "sync/atomic"

// Lifecycle states.
const (
	NotReady = "not_ready"
	Ready    = "ready"
	Draining = "draining"
)

var state atomic.Value
var draining atomic.Bool

func init() {
	state.Store(NotReady)
}

// SetState sets the server state string. It is ignored once draining started.
func SetState(s string) {
	if draining.Load() {
		return
	}
	state.Store(s)
}

// GetState returns the current server state.
func GetState() string {
	if v, ok := state.Load().(string); ok {
		return v
	}
	return "unknown"
}

// StartDrain marks the server as draining.
func StartDrain() {
	draining.Store(true)
	state.Store(Draining)
}

// IsDraining reports whether the server is draining.
func IsDraining() bool {
	return draining.Load()
}

// Reset restores the initial state.
func Reset() {
	draining.Store(false)
	state.Store(NotReady)
}
