// Package middleware wraps remote calls with cross-cutting behavior.
//
// Chain(A, B, C)(handler) builds A(B(C(handler))): A sees the call first and
// the result last.
package middleware

import (
	"context"

	"github.com/google/uuid"

	"xbdm-loader/message"
)

// HandlerFunc performs one remote call.
type HandlerFunc func(ctx context.Context, req *message.Request) (*message.Result, error)

// Middleware decorates a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one, applied in the order given.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type callIDKey struct{}

// EnsureCallID returns ctx carrying a call id, adding a fresh one if absent.
func EnsureCallID(ctx context.Context) context.Context {
	if CallID(ctx) != "" {
		return ctx
	}
	return context.WithValue(ctx, callIDKey{}, uuid.NewString())
}

// CallID returns the call id stored in ctx, or "".
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}
