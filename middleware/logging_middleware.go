package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"xbdm-loader/message"
	"xbdm-loader/rpcerr"
)

// LoggingMiddleware logs every call with its duration and outcome.
func LoggingMiddleware(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Result, error) {
			start := time.Now()
			result, err := next(ctx, req)

			event := logger.Debug()
			if err != nil {
				event = logger.Warn().Err(err).Str("kind", string(rpcerr.KindOf(err)))
			}
			event = event.
				Str("call_id", CallID(ctx)).
				Stringer("request", req).
				Dur("duration", time.Since(start))
			if v, ok := result.Value(); ok {
				event = event.Str("return", "0x"+strconv.FormatUint(v, 16))
			}
			event.Msg("remote call")
			return result, err
		}
	}
}
