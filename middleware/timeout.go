package middleware

import (
	"context"
	"time"

	"sealed-rpc/access"
	"sealed-rpc/message"
)

// Timeout bounds a call. The dispatcher does not install it by default.
//
// On expiry the caller gets an InternalError while the handler keeps running with a
// cancelled context; its late response is discarded.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cc access.CallContext, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, cc, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.NewError(req.ID, message.Errorf(message.CodeInternalError, "request timed out"))
			}
		}
	}
}
