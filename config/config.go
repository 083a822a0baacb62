package config

import (
	"fmt"
	"time"

	"github.com/vietddude/resilience/classify"
	"github.com/vietddude/resilience/database"
	"github.com/vietddude/resilience/retry"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Logging  LoggingConfig           `yaml:"logging"`
	Database database.Config         `yaml:"database"`
	Policies map[string]PolicyConfig `yaml:"policies"`
	// DatabasePolicy overrides the built-in database retry policy.
	DatabasePolicy *PolicyConfig `yaml:"database_policy"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// PolicyConfig is the serializable form of a retry policy. Delays are
// expressed in milliseconds.
type PolicyConfig struct {
	MaxAttempts      int     `yaml:"max_attempts"`
	BaseDelayMs      int     `yaml:"base_delay_ms"`
	MaxDelayMs       int     `yaml:"max_delay_ms"`
	Multiplier       float64 `yaml:"multiplier"`
	Jitter           float64 `yaml:"jitter"`
	FailureThreshold int     `yaml:"failure_threshold"`
	CooldownMs       int     `yaml:"cooldown_ms"`
}

func (p PolicyConfig) toPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:      p.MaxAttempts,
		BaseDelay:        time.Duration(p.BaseDelayMs) * time.Millisecond,
		MaxDelay:         time.Duration(p.MaxDelayMs) * time.Millisecond,
		Multiplier:       p.Multiplier,
		Jitter:           p.Jitter,
		FailureThreshold: p.FailureThreshold,
		Cooldown:         time.Duration(p.CooldownMs) * time.Millisecond,
	}
}

// ParseCategory maps a config key onto an error category.
func ParseCategory(name string) (classify.Category, error) {
	switch name {
	case "transient":
		return classify.Transient, nil
	case "rate_limited":
		return classify.RateLimited, nil
	case "timeout":
		return classify.Timeout, nil
	case "permanent":
		return classify.Permanent, nil
	case "unknown":
		return classify.Unknown, nil
	default:
		return classify.Unknown, fmt.Errorf("unknown error category %q", name)
	}
}

// PolicyTable builds the per-category policy table: built-in defaults with
// configured categories overridden. Every override is validated.
func (c *AppConfig) PolicyTable() (map[classify.Category]retry.Policy, error) {
	table := retry.DefaultPolicies()

	for name, pc := range c.Policies {
		cat, err := ParseCategory(name)
		if err != nil {
			return nil, err
		}
		pol := pc.toPolicy()
		if err := pol.Validate(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", name, err)
		}
		table[cat] = pol
	}

	return table, nil
}

// DatabaseRetryPolicy returns the configured database policy, or the built-in
// default when none is set.
func (c *AppConfig) DatabaseRetryPolicy() (retry.Policy, error) {
	if c.DatabasePolicy == nil {
		return retry.DatabasePolicy(), nil
	}
	pol := c.DatabasePolicy.toPolicy()
	if err := pol.Validate(); err != nil {
		return retry.Policy{}, fmt.Errorf("database policy: %w", err)
	}
	return pol, nil
}
