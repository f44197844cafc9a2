package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// WithRetry retries calls that failed before a response arrived, with exponential
// backoff: baseDelay, 2*baseDelay, 4*baseDelay, ...
//
// A call that reached the server may have run there; only wrap adapters whose callers
// can tolerate that.
func WithRetry(next Adapter, maxRetries int, baseDelay time.Duration, logger *zap.Logger) Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return AdapterFunc(func(ctx context.Context, endpoint string, meta Metadata, body []byte) ([]byte, error) {
		out, err := next.RoundTrip(ctx, endpoint, meta, body)
		for i := 0; i < maxRetries && err != nil && IsRetryable(err); i++ {
			delay := baseDelay * time.Duration(1<<i)
			logger.Info("retrying call",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", i+1),
				zap.Duration("backoff", delay),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			out, err = next.RoundTrip(ctx, endpoint, meta, body)
		}
		return out, err
	})
}

// IsRetryable reports transient network failures. Context errors and protocol errors
// are never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTransportClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusBadGateway || se.Code == http.StatusServiceUnavailable || se.Code == http.StatusGatewayTimeout
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}
