package retry

import (
	"fmt"
	"time"

	"github.com/vietddude/resilience/classify"
)

// Policy holds the retry, backoff, and circuit tunables for one dependency or
// error category.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter is the relative perturbation applied to each backoff delay,
	// in [0, 1]. 0.2 means each delay varies within ±20%.
	Jitter float64
	// FailureThreshold and Cooldown configure the circuit breaker guarding
	// the dependency this policy applies to.
	FailureThreshold int
	Cooldown         time.Duration
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay must not be negative, got %s", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max delay %s must be at least base delay %s", p.MaxDelay, p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %g", p.Multiplier)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("jitter must be in [0, 1], got %g", p.Jitter)
	}
	if p.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", p.FailureThreshold)
	}
	if p.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative, got %s", p.Cooldown)
	}
	return nil
}

// DefaultPolicies returns the per-category policy table. The returned map is
// a fresh copy; callers may modify it without affecting other services.
func DefaultPolicies() map[classify.Category]Policy {
	return map[classify.Category]Policy{
		classify.Transient: {
			MaxAttempts:      4,
			BaseDelay:        200 * time.Millisecond,
			MaxDelay:         5 * time.Second,
			Multiplier:       2.0,
			Jitter:           0.2,
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		classify.RateLimited: {
			// Providers shedding load need room to recover; back off hard.
			MaxAttempts:      5,
			BaseDelay:        time.Second,
			MaxDelay:         60 * time.Second,
			Multiplier:       2.0,
			Jitter:           0.3,
			FailureThreshold: 3,
			Cooldown:         60 * time.Second,
		},
		classify.Timeout: {
			MaxAttempts:      3,
			BaseDelay:        500 * time.Millisecond,
			MaxDelay:         10 * time.Second,
			Multiplier:       2.0,
			Jitter:           0.2,
			FailureThreshold: 4,
			Cooldown:         30 * time.Second,
		},
		classify.Permanent: {
			MaxAttempts:      1,
			BaseDelay:        0,
			MaxDelay:         0,
			Multiplier:       1.0,
			Jitter:           0,
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		classify.Unknown: {
			// Unrecognized failures get the smallest retry budget.
			MaxAttempts:      2,
			BaseDelay:        time.Second,
			MaxDelay:         5 * time.Second,
			Multiplier:       2.0,
			Jitter:           0.2,
			FailureThreshold: 3,
			Cooldown:         60 * time.Second,
		},
	}
}

// DatabasePolicy is the single policy used by all database adapters.
// Categories still decide whether an error is retried at all; the attempt and
// backoff numbers always come from here for database calls.
func DatabasePolicy() Policy {
	return Policy{
		MaxAttempts:      5,
		BaseDelay:        50 * time.Millisecond,
		MaxDelay:         2 * time.Second,
		Multiplier:       2.0,
		Jitter:           0.25,
		FailureThreshold: 5,
		Cooldown:         15 * time.Second,
	}
}
