// Package classify maps raw failures from remote and storage dependencies
// onto retry categories. Classification is pure and happens exactly once per
// error; the retry loop consumes the resulting wrapper, never the raw error.
package classify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Category describes how a failure should be treated by the retry layer.
type Category int

const (
	Unknown     Category = iota // Unrecognized; retried under the most conservative policy
	Transient                   // Expected to succeed on retry (5xx, connection reset)
	RateLimited                 // Dependency is shedding load (429, quota)
	Timeout                     // Deadline or network timeout
	Permanent                   // Will fail identically on retry (4xx, validation)
)

// String returns the category name for logging and metric labels.
func (c Category) String() string {
	switch c {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case Timeout:
		return "timeout"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Retryable reports whether errors in this category are safe to retry.
// Unknown is retried; the default policy table keeps its budget small.
func (c Category) Retryable() bool {
	return c != Permanent
}

// RetriableError marks a failure as safe to retry under a bounded policy.
type RetriableError struct {
	Category Category
	Cause    error
}

func (e *RetriableError) Error() string {
	return fmt.Sprintf("retriable (%s): %v", e.Category, e.Cause)
}

func (e *RetriableError) Unwrap() error { return e.Cause }

// PermanentError marks a failure that must never be retried.
type PermanentError struct {
	Category Category
	Cause    error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent (%s): %v", e.Category, e.Cause)
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// Retriable wraps err as retriable with the given category.
func Retriable(cat Category, err error) *RetriableError {
	return &RetriableError{Category: cat, Cause: err}
}

// NotRetriable wraps err as permanent with the given category.
func NotRetriable(cat Category, err error) *PermanentError {
	return &PermanentError{Category: cat, Cause: err}
}

// Classifier assigns a category to a raw error.
type Classifier func(err error) Category

// Wrap classifies err once and returns the matching wrapper. Already-wrapped
// errors pass through untouched so a classification decision is never revisited.
func Wrap(err error, fn Classifier) error {
	if err == nil {
		return nil
	}

	var re *RetriableError
	if errors.As(err, &re) {
		return re
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe
	}

	if fn == nil {
		fn = Classify
	}
	cat := fn(err)
	if cat.Retryable() {
		return Retriable(cat, err)
	}
	return NotRetriable(cat, err)
}

// CategoryOf extracts the category assigned to a wrapped error.
// Unwrapped errors report Unknown.
func CategoryOf(err error) Category {
	var re *RetriableError
	if errors.As(err, &re) {
		return re.Category
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return Unknown
}

// permanentSignatures are substrings of client-side failures that retrying
// cannot fix.
var permanentSignatures = []string{
	"400 bad request",
	"401", "unauthorized",
	"403", "forbidden",
	"404", "not found",
	"422", "unprocessable",
	"invalid request",
	"invalid api key",
	"validation failed",
	"context length",
}

// rateLimitSignatures mirror the throttle patterns providers actually emit.
var rateLimitSignatures = []string{
	"429",
	"too many requests",
	"rate limit",
	"quota",
	"plan limit",
	"request count exceeded",
	"overloaded",
}

var transientSignatures = []string{
	"500", "502", "503", "504",
	"internal server error",
	"bad gateway",
	"service unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"no such host",
	"eof",
}

// Classify maps a raw error from an HTTP-flavored dependency (embedding or
// concept-extraction providers) onto a category. Deterministic, no I/O.
func Classify(err error) Category {
	if err == nil {
		return Unknown
	}

	if cat, ok := classifyGRPC(err); ok {
		return cat
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return Transient
	}
	if errors.Is(err, syscall.ETIMEDOUT) {
		return Timeout
	}

	s := strings.ToLower(err.Error())

	if strings.Contains(s, "timeout") || strings.Contains(s, "timed out") ||
		strings.Contains(s, "deadline exceeded") {
		return Timeout
	}

	for _, sig := range rateLimitSignatures {
		if strings.Contains(s, sig) {
			return RateLimited
		}
	}

	for _, sig := range permanentSignatures {
		if strings.Contains(s, sig) {
			return Permanent
		}
	}

	for _, sig := range transientSignatures {
		if strings.Contains(s, sig) {
			return Transient
		}
	}

	return Unknown
}
