package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"xbdm-loader/message"
	"xbdm-loader/rpcerr"
)

// RateLimitMiddleware throttles calls toward a console with a token bucket.
// Calls wait for a token rather than being rejected; a call whose context
// ends while waiting fails with a TransportError.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Result, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, rpcerr.Transport("rate limit wait", err)
			}
			return next(ctx, req)
		}
	}
}
