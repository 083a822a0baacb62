package classify

import (
	"context"
	"errors"
	"net"

	"github.com/redis/go-redis/v9"
)

// ClassifyRedis maps cache-layer failures. A missing key is not a failure the
// retry loop can fix, so redis.Nil is permanent; pool and network errors are
// worth retrying.
func ClassifyRedis(err error) Category {
	if err == nil {
		return Unknown
	}

	if errors.Is(err, redis.Nil) {
		return Permanent
	}
	if errors.Is(err, redis.ErrClosed) {
		return Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout
		}
		return Transient
	}

	return Classify(err)
}
