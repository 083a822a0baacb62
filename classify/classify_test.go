package classify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		expect Category
	}{
		{errors.New("429 Too Many Requests"), RateLimited},
		{errors.New("provider rate limit exceeded"), RateLimited},
		{errors.New("monthly quota exceeded"), RateLimited},
		{errors.New("model overloaded"), RateLimited},
		{errors.New("503 Service Unavailable"), Transient},
		{errors.New("500 Internal Server Error"), Transient},
		{errors.New("connection reset by peer"), Transient},
		{errors.New("connection refused"), Transient},
		{errors.New("401 Unauthorized"), Permanent},
		{errors.New("404 not found"), Permanent},
		{errors.New("invalid api key"), Permanent},
		{errors.New("request validation failed"), Permanent},
		{errors.New("client timeout exceeded"), Timeout},
		{errors.New("i/o timed out"), Timeout},
		{context.DeadlineExceeded, Timeout},
		{syscall.ECONNRESET, Transient},
		{syscall.ECONNREFUSED, Transient},
		{syscall.ETIMEDOUT, Timeout},
		{io.ErrUnexpectedEOF, Transient},
		{errors.New("something else entirely"), Unknown},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.expect {
			t.Errorf("Classify(%q) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

func TestClassifyWrappedChain(t *testing.T) {
	err := fmt.Errorf("embed batch: %w", syscall.ECONNRESET)
	if got := Classify(err); got != Transient {
		t.Errorf("Classify(wrapped ECONNRESET) = %v, want Transient", got)
	}
}

func TestClassifyGRPCStatus(t *testing.T) {
	tests := []struct {
		code   codes.Code
		expect Category
	}{
		{codes.Unavailable, Transient},
		{codes.Aborted, Transient},
		{codes.Internal, Transient},
		{codes.ResourceExhausted, RateLimited},
		{codes.DeadlineExceeded, Timeout},
		{codes.InvalidArgument, Permanent},
		{codes.PermissionDenied, Permanent},
		{codes.Unauthenticated, Permanent},
		{codes.NotFound, Permanent},
		{codes.DataLoss, Unknown},
	}

	for _, tt := range tests {
		err := status.Error(tt.code, "rpc failed")
		if got := Classify(err); got != tt.expect {
			t.Errorf("Classify(status %v) = %v, want %v", tt.code, got, tt.expect)
		}
	}
}

func TestWrapClassifiesOnce(t *testing.T) {
	raw := errors.New("503 Service Unavailable")

	wrapped := Wrap(raw, Classify)
	var re *RetriableError
	if !errors.As(wrapped, &re) {
		t.Fatalf("Wrap(503) = %T, want *RetriableError", wrapped)
	}
	if re.Category != Transient {
		t.Errorf("category = %v, want Transient", re.Category)
	}
	if !errors.Is(wrapped, raw) {
		t.Error("wrapped error lost its cause")
	}

	// A second pass must not reclassify, even under a classifier that would
	// disagree with the first decision.
	again := Wrap(wrapped, func(error) Category { return Permanent })
	if again != wrapped {
		t.Error("Wrap reclassified an already-wrapped error")
	}
}

func TestWrapPermanent(t *testing.T) {
	wrapped := Wrap(errors.New("401 Unauthorized"), Classify)
	var pe *PermanentError
	if !errors.As(wrapped, &pe) {
		t.Fatalf("Wrap(401) = %T, want *PermanentError", wrapped)
	}
	if CategoryOf(wrapped) != Permanent {
		t.Errorf("CategoryOf = %v, want Permanent", CategoryOf(wrapped))
	}
}

func TestWrapNil(t *testing.T) {
	if got := Wrap(nil, Classify); got != nil {
		t.Errorf("Wrap(nil) = %v, want nil", got)
	}
}

func TestUnknownIsRetryable(t *testing.T) {
	if !Unknown.Retryable() {
		t.Error("Unknown category must be retryable")
	}
	if Permanent.Retryable() {
		t.Error("Permanent category must not be retryable")
	}
}
