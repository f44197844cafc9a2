package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sealed-rpc/access"
	"sealed-rpc/message"
)

// Logging records every call with its duration and, on failure, its error code.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cc access.CallContext, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, cc, req)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("id", req.ID),
				zap.Duration("duration", time.Since(start)),
				zap.Bool("local", cc.Local),
			}
			if cc.RemoteAddr != "" {
				fields = append(fields, zap.String("remote", cc.RemoteAddr))
			}
			if resp != nil && resp.Error != nil {
				fields = append(fields, zap.Int("code", resp.Error.Code), zap.String("error", resp.Error.Message))
				logger.Info("call failed", fields...)
				return resp
			}
			logger.Debug("call", fields...)
			return resp
		}
	}
}
