package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"xbdm-loader/message"
	"xbdm-loader/rpcerr"
)

// RetryMiddleware re-runs calls that failed with a TransportError, up to
// maxRetries more times with exponential backoff starting at baseDelay.
// Every attempt is a complete call with its own session and allocation;
// addresses from a failed attempt are never reused. Protocol errors and
// remote rejections are returned immediately.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration, logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Result, error) {
			result, err := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !rpcerr.Retryable(err) {
					return result, err
				}

				delay := baseDelay * time.Duration(1<<i) // Exponential backoff
				if maxDelay > 0 && delay > maxDelay {
					delay = maxDelay
				}
				logger.Info().
					Str("call_id", CallID(ctx)).
					Int("attempt", i+1).
					Dur("backoff", delay).
					Err(err).
					Msg("retrying remote call")

				select {
				case <-ctx.Done():
					return nil, rpcerr.Transport("retry abandoned", ctx.Err())
				case <-time.After(delay):
				}
				result, err = next(ctx, req)
			}
			if err != nil && rpcerr.Retryable(err) && maxRetries > 0 {
				return nil, fmt.Errorf("failed after %d retries: %w", maxRetries, err)
			}
			return result, err
		}
	}
}
