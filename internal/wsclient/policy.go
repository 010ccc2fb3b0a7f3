package wsclient

import (
	"time"

	"github.com/jpillora/backoff"
)

// ReconnectPolicy is a bounded retry budget with a fixed delay between
// attempts. It is not safe for concurrent use; the Client guards it.
type ReconnectPolicy struct {
	b         backoff.Backoff
	delay     time.Duration
	max       int
	exhausted bool
}

// NewReconnectPolicy allows max retries spaced delay apart.
func NewReconnectPolicy(delay time.Duration, max int) *ReconnectPolicy {
	return &ReconnectPolicy{
		b:     backoff.Backoff{Min: delay, Max: delay, Factor: 1},
		delay: delay,
		max:   max,
	}
}

// Next consumes one attempt and returns the delay before it. ok is false
// once the budget is spent or the policy was exhausted.
func (p *ReconnectPolicy) Next() (delay time.Duration, ok bool) {
	if p.exhausted || p.Attempts() >= p.max {
		return 0, false
	}
	d := p.b.Duration()
	if p.delay <= 0 {
		// backoff substitutes its own minimum for non-positive bounds.
		return 0, true
	}
	return d, true
}

// Attempts returns how many retries were consumed since the last Reset.
func (p *ReconnectPolicy) Attempts() int {
	return int(p.b.Attempt())
}

// Max returns the retry budget.
func (p *ReconnectPolicy) Max() int { return p.max }

// Reset restores the full budget.
func (p *ReconnectPolicy) Reset() {
	p.b.Reset()
	p.exhausted = false
}

// Exhaust spends the remaining budget so no retry is granted until Reset.
func (p *ReconnectPolicy) Exhaust() {
	p.exhausted = true
}
