package middleware

import (
	"context"
	"errors"
	"time"

	"xbdm-loader/message"
	"xbdm-loader/rpcerr"
)

// TimeOutMiddleware bounds the whole call. The deadline reaches every blocking
// step through ctx; the transport aborts the session when it passes, so the
// call fails with a TransportError rather than hanging.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Result, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			result, err := next(ctx, req)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, rpcerr.ErrTransport) {
				return nil, rpcerr.Transport("call timed out after "+timeout.String(), err)
			}
			return result, err
		}
	}
}
