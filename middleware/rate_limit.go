package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"sealed-rpc/access"
	"sealed-rpc/message"
)

// RateLimit admits calls through a token bucket shared by all callers.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cc access.CallContext, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.NewError(req.ID, message.Errorf(message.CodeInternalError, "rate limit exceeded"))
			}
			return next(ctx, cc, req)
		}
	}
}
