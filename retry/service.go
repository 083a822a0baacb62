// Package retry orchestrates bounded retries with exponential backoff, jitter,
// and per-dependency circuit breaking for fallible remote and storage calls.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/vietddude/resilience/breaker"
	"github.com/vietddude/resilience/classify"
	"github.com/vietddude/resilience/metrics"
)

// Service holds the shared state behind Execute calls: the policy table, the
// circuit breakers, and the injectable time and randomness sources. One
// service is meant to live for the process lifetime.
type Service struct {
	policies map[classify.Category]Policy
	breakers *breaker.Registry
	clock    clockwork.Clock
	randFn   func() float64
	log      *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock injects the clock used for backoff waits and elapsed times.
func WithClock(clock clockwork.Clock) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// WithRand injects the uniform [0,1) source used for jitter. Tests inject a
// fixed source to assert exact delays.
func WithRand(fn func() float64) ServiceOption {
	return func(s *Service) { s.randFn = fn }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// WithPolicies replaces the default per-category policy table.
func WithPolicies(policies map[classify.Category]Policy) ServiceOption {
	return func(s *Service) { s.policies = policies }
}

// NewService creates a Service with the default policy table, wall-clock time,
// and the shared random source.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		policies: DefaultPolicies(),
		clock:    clockwork.NewRealClock(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.randFn == nil {
		rng := newLockedRand()
		s.randFn = rng.Float64
	}
	s.breakers = breaker.NewRegistry(s.clock)
	return s
}

// Breakers exposes the circuit breaker registry for administrative reset and
// introspection.
func (s *Service) Breakers() *breaker.Registry { return s.breakers }

// Policy returns the table policy for a category.
func (s *Service) Policy(cat classify.Category) Policy {
	if p, ok := s.policies[cat]; ok {
		return p
	}
	return s.policies[classify.Unknown]
}

// callOptions resolve how a single Execute call is run.
type callOptions struct {
	policy     *Policy
	category   classify.Category
	key        string
	classifier classify.Classifier
}

// Option configures a single Execute call.
type Option func(*callOptions)

// WithPolicy overrides the table lookup with an explicit policy for this call.
// The shared table is never mutated.
func WithPolicy(p Policy) Option {
	return func(o *callOptions) { o.policy = &p }
}

// WithCategory selects the table policy for cat. The default is Unknown,
// which carries the most conservative budget.
func WithCategory(cat classify.Category) Option {
	return func(o *callOptions) { o.category = cat }
}

// WithKey names the logical dependency guarded by the circuit breaker.
// Defaults to the category name.
func WithKey(key string) Option {
	return func(o *callOptions) { o.key = key }
}

// WithClassifier replaces the general classifier for this call, e.g. with
// classify.ClassifyDatabase for storage operations.
func WithClassifier(fn classify.Classifier) Option {
	return func(o *callOptions) { o.classifier = fn }
}

// Execute runs op under the resolved retry policy. Every failure is classified
// exactly once; permanent errors abort immediately, retriable ones back off
// exponentially with jitter until the policy budget runs out. The circuit
// breaker for the call's key is consulted before each attempt and updated
// after it. All outcomes, including cancellation, land in the returned
// Result; Execute never panics across this boundary.
func Execute[T any](ctx context.Context, s *Service, op func(context.Context) (T, error), opts ...Option) (res Result[T]) {
	o := callOptions{category: classify.Unknown}
	for _, opt := range opts {
		opt(&o)
	}

	pol := s.Policy(o.category)
	if o.policy != nil {
		pol = *o.policy
	}
	if pol.MaxAttempts < 1 {
		pol.MaxAttempts = 1
	}
	key := o.key
	if key == "" {
		key = o.category.String()
	}

	br := s.breakers.Get(key, breaker.Config{
		FailureThreshold: pol.FailureThreshold,
		Cooldown:         pol.Cooldown,
	})

	res.ID = uuid.New().String()
	start := s.clock.Now()
	defer func() {
		res.Elapsed = s.clock.Since(start)
	}()

	var delay time.Duration
	for attempt := 1; attempt <= pol.MaxAttempts; attempt++ {
		if err := br.Allow(); err != nil {
			// An open circuit short-circuits the whole loop; the rejection
			// does not consume an attempt.
			metrics.BreakerRejections.WithLabelValues(key).Inc()
			metrics.ExecutionsTotal.WithLabelValues(key, "circuit_open").Inc()
			res.FinalError = err
			return res
		}

		value, err := op(ctx)
		now := s.clock.Now()

		if err == nil {
			br.OnSuccess()
			res.Attempts = append(res.Attempts, Attempt{Number: attempt, DelayBefore: delay, At: now})
			res.Succeeded = true
			res.Value = value
			metrics.AttemptsTotal.WithLabelValues(key, "success").Inc()
			metrics.ExecutionsTotal.WithLabelValues(key, "success").Inc()
			return res
		}

		if ctx.Err() != nil {
			// A cancelled attempt says nothing about dependency health.
			br.OnCancel()
			res.Attempts = append(res.Attempts, Attempt{Number: attempt, DelayBefore: delay, Err: err, At: now})
			res.FinalError = &CancelledError{Cause: ctx.Err()}
			metrics.ExecutionsTotal.WithLabelValues(key, "cancelled").Inc()
			return res
		}

		classified := classify.Wrap(err, o.classifier)
		br.OnFailure()
		res.Attempts = append(res.Attempts, Attempt{Number: attempt, DelayBefore: delay, Err: classified, At: now})
		metrics.AttemptsTotal.WithLabelValues(key, "failure").Inc()

		var pe *classify.PermanentError
		if errors.As(classified, &pe) {
			// Permanent errors abort even mid-loop.
			res.FinalError = classified
			metrics.ExecutionsTotal.WithLabelValues(key, "permanent").Inc()
			return res
		}

		if attempt == pol.MaxAttempts {
			res.FinalError = &ExhaustedError{Attempts: attempt, LastErr: classified}
			metrics.ExecutionsTotal.WithLabelValues(key, "exhausted").Inc()
			return res
		}

		delay = s.backoff(pol, attempt)
		metrics.BackoffSeconds.WithLabelValues(key).Observe(delay.Seconds())
		s.log.Debug("retrying after failure",
			"execution_id", res.ID,
			"key", key,
			"attempt", attempt,
			"category", classify.CategoryOf(classified).String(),
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			res.FinalError = &CancelledError{Cause: ctx.Err()}
			metrics.ExecutionsTotal.WithLabelValues(key, "cancelled").Inc()
			return res
		case <-s.clock.After(delay):
		}
	}

	return res
}

// Do runs a valueless operation under Execute.
func Do(ctx context.Context, s *Service, op func(context.Context) error, opts ...Option) Result[struct{}] {
	return Execute(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
}

// backoff computes the delay after a failed attempt: exponential growth capped
// at MaxDelay, then jittered within ±Jitter and clamped to zero.
func (s *Service) backoff(pol Policy, attempt int) time.Duration {
	delay := float64(pol.BaseDelay) * math.Pow(pol.Multiplier, float64(attempt-1))
	if delay > float64(pol.MaxDelay) {
		delay = float64(pol.MaxDelay)
	}

	if pol.Jitter > 0 {
		delay *= 1 + pol.Jitter*(2*s.randFn()-1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
