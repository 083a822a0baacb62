package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vietddude/resilience/breaker"
	"github.com/vietddude/resilience/classify"
)

// zeroJitter makes delays exact for assertions.
func zeroJitter() float64 { return 0.5 }

func testPolicy() Policy {
	return Policy{
		MaxAttempts:      3,
		BaseDelay:        time.Millisecond,
		MaxDelay:         10 * time.Millisecond,
		Multiplier:       2.0,
		Jitter:           0,
		FailureThreshold: 10,
		Cooldown:         time.Minute,
	}
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	s := NewService(WithRand(zeroJitter))

	res := Execute(ctxb(), s, func(context.Context) (int, error) {
		return 42, nil
	}, WithPolicy(testPolicy()), WithKey("first"))

	require.True(t, res.Succeeded)
	require.Equal(t, 42, res.Value)
	require.Len(t, res.Attempts, 1)
	require.Equal(t, 1, res.Attempts[0].Number)
	require.Zero(t, res.Attempts[0].DelayBefore)
	require.NoError(t, res.FinalError)
	require.NotEmpty(t, res.ID)
}

func TestExecuteFailsTwiceThenSucceeds(t *testing.T) {
	s := NewService(WithRand(zeroJitter))

	pol := Policy{
		MaxAttempts:      3,
		BaseDelay:        100 * time.Millisecond,
		MaxDelay:         time.Second,
		Multiplier:       2.0,
		Jitter:           0,
		FailureThreshold: 10,
		Cooldown:         time.Minute,
	}

	calls := 0
	res := Execute(ctxb(), s, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503 Service Unavailable")
		}
		return "ok", nil
	}, WithPolicy(pol), WithKey("twice"))

	require.True(t, res.Succeeded)
	require.Equal(t, "ok", res.Value)
	require.Len(t, res.Attempts, 3)

	// Delays before attempts 1..3 with zero jitter: 0, 100ms, 200ms.
	require.Equal(t, time.Duration(0), res.Attempts[0].DelayBefore)
	require.Equal(t, 100*time.Millisecond, res.Attempts[1].DelayBefore)
	require.Equal(t, 200*time.Millisecond, res.Attempts[2].DelayBefore)
	require.GreaterOrEqual(t, res.Elapsed, 300*time.Millisecond)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	s := NewService(WithRand(zeroJitter))

	calls := 0
	res := Execute(ctxb(), s, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("connection reset by peer")
	}, WithPolicy(testPolicy()), WithKey("exhaust"))

	require.False(t, res.Succeeded)
	require.Equal(t, 3, calls)
	require.Len(t, res.Attempts, 3)

	var exhausted *ExhaustedError
	require.ErrorAs(t, res.FinalError, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)

	var re *classify.RetriableError
	require.ErrorAs(t, exhausted.LastErr, &re)
	require.Equal(t, classify.Transient, re.Category)
}

func TestPermanentErrorAbortsImmediately(t *testing.T) {
	s := NewService(WithRand(zeroJitter))

	calls := 0
	res := Execute(ctxb(), s, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("401 Unauthorized")
	}, WithPolicy(testPolicy()), WithKey("perm"))

	require.False(t, res.Succeeded)
	require.Equal(t, 1, calls, "permanent errors must not be retried")
	require.Len(t, res.Attempts, 1)

	var pe *classify.PermanentError
	require.ErrorAs(t, res.FinalError, &pe)
	require.Equal(t, classify.Permanent, pe.Category)

	var exhausted *ExhaustedError
	require.False(t, errors.As(res.FinalError, &exhausted), "permanent outcome must not be reported as exhausted")
}

func TestPermanentErrorAbortsMidLoop(t *testing.T) {
	s := NewService(WithRand(zeroJitter))

	calls := 0
	res := Execute(ctxb(), s, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("503 Service Unavailable")
		}
		return 0, errors.New("404 not found")
	}, WithPolicy(testPolicy()), WithKey("midloop"))

	require.False(t, res.Succeeded)
	require.Equal(t, 2, calls, "permanent error on attempt 2 must stop the loop there")
	require.Len(t, res.Attempts, 2)

	var pe *classify.PermanentError
	require.ErrorAs(t, res.FinalError, &pe)
}

func TestAttemptsNeverExceedPolicy(t *testing.T) {
	s := NewService(WithRand(zeroJitter))

	for _, maxAttempts := range []int{1, 2, 5} {
		pol := testPolicy()
		pol.MaxAttempts = maxAttempts

		res := Execute(ctxb(), s, func(context.Context) (int, error) {
			return 0, errors.New("502 Bad Gateway")
		}, WithPolicy(pol), WithKey("bound"))

		require.LessOrEqual(t, len(res.Attempts), maxAttempts)
		require.GreaterOrEqual(t, len(res.Attempts), 1)
		s.Breakers().ResetAll()
	}
}

func TestCircuitOpenShortCircuits(t *testing.T) {
	s := NewService(WithRand(zeroJitter))

	pol := testPolicy()
	pol.MaxAttempts = 1
	pol.FailureThreshold = 3
	pol.Cooldown = time.Hour

	// Three independent failing calls trip the breaker.
	for i := 0; i < 3; i++ {
		res := Execute(ctxb(), s, func(context.Context) (int, error) {
			return 0, errors.New("503 Service Unavailable")
		}, WithPolicy(pol), WithKey("trip"))
		require.False(t, res.Succeeded)
	}

	invoked := false
	res := Execute(ctxb(), s, func(context.Context) (int, error) {
		invoked = true
		return 1, nil
	}, WithPolicy(pol), WithKey("trip"))

	require.False(t, res.Succeeded)
	require.False(t, invoked, "operation must not run while the circuit is open")
	require.Empty(t, res.Attempts, "a rejected call consumes no attempts")

	var openErr *breaker.OpenError
	require.ErrorAs(t, res.FinalError, &openErr)
	require.Equal(t, "trip", openErr.Key)
}

func TestCancellationDuringBackoff(t *testing.T) {
	s := NewService(WithRand(zeroJitter))

	pol := testPolicy()
	pol.BaseDelay = 10 * time.Second
	pol.MaxDelay = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result[int], 1)
	go func() {
		done <- Execute(ctx, s, func(context.Context) (int, error) {
			return 0, errors.New("503 Service Unavailable")
		}, WithPolicy(pol), WithKey("cancel-wait"))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	res := <-done
	require.False(t, res.Succeeded)

	var cancelled *CancelledError
	require.ErrorAs(t, res.FinalError, &cancelled)
	require.ErrorIs(t, res.FinalError, context.Canceled)
}

func TestCancelledAttemptDoesNotCountAgainstBreaker(t *testing.T) {
	s := NewService(WithRand(zeroJitter))

	pol := testPolicy()
	pol.MaxAttempts = 1
	pol.FailureThreshold = 1
	pol.Cooldown = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	res := Execute(ctx, s, func(ctx context.Context) (int, error) {
		cancel()
		return 0, ctx.Err()
	}, WithPolicy(pol), WithKey("cancel-op"))

	require.False(t, res.Succeeded)
	var cancelled *CancelledError
	require.ErrorAs(t, res.FinalError, &cancelled)

	// The breaker saw neither success nor failure, so a fresh call runs.
	invoked := false
	res2 := Execute(ctxb(), s, func(context.Context) (int, error) {
		invoked = true
		return 1, nil
	}, WithPolicy(pol), WithKey("cancel-op"))
	require.True(t, invoked)
	require.True(t, res2.Succeeded)
}

func TestCustomClassifierOption(t *testing.T) {
	s := NewService(WithRand(zeroJitter))

	sentinel := errors.New("weird storage failure")
	calls := 0
	res := Execute(ctxb(), s, func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	}, WithPolicy(testPolicy()), WithKey("custom"), WithClassifier(func(error) classify.Category {
		return classify.Permanent
	}))

	require.Equal(t, 1, calls)
	var pe *classify.PermanentError
	require.ErrorAs(t, res.FinalError, &pe)
	require.ErrorIs(t, res.FinalError, sentinel)
}

func TestCategoryResolvesTablePolicy(t *testing.T) {
	policies := DefaultPolicies()
	pol := policies[classify.Transient]
	pol.MaxAttempts = 2
	pol.BaseDelay = time.Millisecond
	pol.MaxDelay = 2 * time.Millisecond
	policies[classify.Transient] = pol

	s := NewService(WithRand(zeroJitter), WithPolicies(policies))

	calls := 0
	res := Execute(ctxb(), s, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("503 Service Unavailable")
	}, WithCategory(classify.Transient), WithKey("table"))

	require.Equal(t, 2, calls, "table policy for Transient must apply")
	require.False(t, res.Succeeded)
}

func TestDoWrapsValuelessOps(t *testing.T) {
	s := NewService(WithRand(zeroJitter))

	res := Do(ctxb(), s, func(context.Context) error {
		return nil
	}, WithPolicy(testPolicy()), WithKey("do"))

	require.True(t, res.Succeeded)
	require.Len(t, res.Attempts, 1)
}

func ctxb() context.Context { return context.Background() }
