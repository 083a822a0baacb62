package classify

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// classifyGRPC maps gRPC status codes for providers reached over gRPC
// transports. Returns false when err carries no gRPC status.
func classifyGRPC(err error) (Category, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return Unknown, false
	}

	switch st.Code() {
	case codes.OK:
		return Unknown, false
	case codes.Unavailable, codes.Aborted, codes.Internal:
		return Transient, true
	case codes.ResourceExhausted:
		return RateLimited, true
	case codes.DeadlineExceeded:
		return Timeout, true
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists,
		codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition,
		codes.OutOfRange, codes.Unimplemented:
		return Permanent, true
	default:
		return Unknown, true
	}
}
