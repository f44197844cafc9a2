package middleware

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sealed-rpc/access"
	"sealed-rpc/message"
)

// echoHandler answers immediately with a Plain "ok".
func echoHandler(ctx context.Context, cc access.CallContext, req *message.Request) *message.Response {
	return message.NewResult(req.ID, message.Payload{Value: "ok"})
}

// slowHandler sleeps 200ms unless its context ends first.
func slowHandler(ctx context.Context, cc access.CallContext, req *message.Request) *message.Response {
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
	}
	return message.NewResult(req.ID, message.Payload{Value: "ok"})
}

func failingHandler(ctx context.Context, cc access.CallContext, req *message.Request) *message.Response {
	return message.NewError(req.ID, message.Errorf(message.CodeMethodNotFound, "method not found"))
}

func newRequest() *message.Request {
	return message.NewRequest("System.Ping", message.Payload{}, "1")
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := Logging(zap.New(core))(echoHandler)

	resp := handler(context.Background(), access.CallContext{RemoteAddr: "127.0.0.1:1"}, newRequest())
	if resp == nil || resp.Result == nil {
		t.Fatal("expect non-nil result")
	}
	entries := logs.FilterMessage("call").All()
	if len(entries) != 1 {
		t.Fatalf("expect 1 log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["method"]; got != "System.Ping" {
		t.Fatalf("method field = %v", got)
	}

	failing := Logging(zap.New(core))(failingHandler)
	failing(context.Background(), access.CallContext{}, newRequest())
	failed := logs.FilterMessage("call failed").All()
	if len(failed) != 1 {
		t.Fatalf("expect 1 failure entry, got %d", len(failed))
	}
	if got := failed[0].ContextMap()["code"]; got != int64(message.CodeMethodNotFound) {
		t.Fatalf("code field = %v", got)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := Timeout(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), access.CallContext{}, newRequest())
	if resp.Error != nil {
		t.Fatalf("expect no error, got %v", resp.Error)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := Timeout(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), access.CallContext{}, newRequest())
	if resp.Error == nil || resp.Error.Message != "request timed out" {
		t.Fatalf("expect timeout error, got %+v", resp.Error)
	}
	if resp.ID != "1" {
		t.Fatalf("timeout response must echo the request id, got %q", resp.ID)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first two pass, the third is rejected
	handler := RateLimit(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), access.CallContext{}, newRequest())
		if resp.Error != nil {
			t.Fatalf("request %d should pass, got error: %v", i, resp.Error)
		}
	}

	resp := handler(context.Background(), access.CallContext{}, newRequest())
	if resp.Error == nil || resp.Error.Message != "rate limit exceeded" {
		t.Fatalf("request 3 should be rate limited, got: %+v", resp.Error)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, cc access.CallContext, req *message.Request) *message.Response {
				order = append(order, name)
				return next(ctx, cc, req)
			}
		}
	}
	chained := Chain(mark("outer"), Logging(zap.NewNop()), Timeout(500*time.Millisecond), mark("inner"))
	resp := chained(echoHandler)(context.Background(), access.CallContext{}, newRequest())

	if resp == nil || resp.Error != nil {
		t.Fatalf("expect success, got %+v", resp)
	}
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("unexpected order %v", order)
	}
}
