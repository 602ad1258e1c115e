// Package retry decides whether and when a failed job runs again.
package retry

import (
	"fmt"
	"math"
	"time"
)

// Defaults used when a field is left zero.
const (
	DefaultBaseDelay   = 30 * time.Second
	DefaultMultiplier  = 2.0
	DefaultMaxDelay    = time.Hour
	DefaultMaxAttempts = 5
)

// Policy is an exponential backoff with a cap and an attempt limit.
// Delay = min(BaseDelay * Multiplier^(attempts-1), MaxDelay).
type Policy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// WithDefaults fills zero fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

// Validate rejects policies that could never schedule a sane retry.
func (p Policy) Validate() error {
	if p.BaseDelay <= 0 {
		return fmt.Errorf("retry base delay must be positive, got %s", p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1, got %g", p.Multiplier)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("retry max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	return nil
}

// NextDelay returns the wait before the next run of a job that has been
// attempted the given number of times. It is always positive.
func (p Policy) NextDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempts-1))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d < 1 {
		return time.Nanosecond
	}
	return time.Duration(d)
}

// ShouldRetry reports whether a job with this many attempts gets another one.
func (p Policy) ShouldRetry(attempts int) bool {
	return attempts < p.MaxAttempts
}
