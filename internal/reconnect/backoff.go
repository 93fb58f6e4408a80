package reconnect

import (
	"math"
	"time"
)

// Defaults for the camera stream reconnect policy.
const (
	DefaultInitial = 300 * time.Millisecond
	DefaultFactor  = 1.7
	DefaultMax     = 5 * time.Second
)

// Policy describes an exponential backoff: Initial, multiplied by Factor after
// every consecutive failure, never exceeding Max.
type Policy struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration
}

// DefaultPolicy returns the stream reconnect policy (300ms, x1.7, capped at 5s).
func DefaultPolicy() Policy {
	return Policy{Initial: DefaultInitial, Factor: DefaultFactor, Max: DefaultMax}
}

// Backoff tracks consecutive failures for a single owner. It is not safe for
// concurrent use; the goroutine that owns the connection owns its Backoff.
type Backoff struct {
	policy  Policy
	next    time.Duration
	attempt int
}

// New returns a Backoff positioned at the policy's initial delay.
func New(p Policy) *Backoff {
	if p.Initial <= 0 {
		p.Initial = DefaultInitial
	}
	if p.Factor < 1 {
		p.Factor = 1
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	return &Backoff{policy: p, next: p.Initial}
}

// Next returns the delay to wait before the next attempt and advances the
// schedule.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.attempt++
	grown := time.Duration(math.Round(float64(b.next) * b.policy.Factor))
	if grown > b.policy.Max {
		grown = b.policy.Max
	}
	b.next = grown
	return d
}

// Reset rewinds the schedule after a success.
func (b *Backoff) Reset() {
	b.next = b.policy.Initial
	b.attempt = 0
}

// Attempt reports the number of consecutive failures since the last Reset.
func (b *Backoff) Attempt() int { return b.attempt }
