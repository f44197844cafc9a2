// Package middleware wraps the dispatcher's envelope-level entry point.
//
// Middlewares see the decoded envelope and the caller's CallContext, never the payload
// contents, so they run the same way for Plain, Encoded and Encrypted calls.
package middleware

import (
	"context"

	"sealed-rpc/access"
	"sealed-rpc/message"
)

type HandlerFunc func(ctx context.Context, cc access.CallContext, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
