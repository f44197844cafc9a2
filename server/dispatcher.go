package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"sealed-rpc/access"
	"sealed-rpc/codec"
	"sealed-rpc/message"
	"sealed-rpc/middleware"
	"sealed-rpc/seal"
	"sealed-rpc/session"
)

var ErrMalformedMethod = errors.New(`server: method must be "<Target>.<Action>"`)

// ParseMethod splits method on its first '.' into two non-empty segments.
func ParseMethod(method string) (target, action string, err error) {
	target, action, ok := strings.Cut(method, ".")
	if !ok || target == "" || action == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedMethod, method)
	}
	return target, action, nil
}

type callContextKey struct{}

func withCallContext(ctx context.Context, cc access.CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

// CallContextFrom returns the caller's context inside a handler.
func CallContextFrom(ctx context.Context) (access.CallContext, bool) {
	cc, ok := ctx.Value(callContextKey{}).(access.CallContext)
	return cc, ok
}

// Dispatcher executes one request at a time per call with no state shared across calls.
//
//	Receive → ValidateShape → ValidateAccess → RestoreParams → Invoke → BuildResult → TransformResult → Respond
//
// Every stage either passes to the next or produces a complete Error response.
type Dispatcher struct {
	reg        *Registry
	pipeline   *codec.Pipeline
	keys       session.KeyResolver
	auth       session.Authenticator
	logger     *zap.Logger
	production bool
	mws        []middleware.Middleware
	handler    middleware.HandlerFunc // mws(...(handle))
}

type DispatcherOption func(*Dispatcher)

func WithLogger(l *zap.Logger) DispatcherOption { return func(d *Dispatcher) { d.logger = l } }

// WithMiddleware appends middlewares; the first one added is the outermost.
func WithMiddleware(mws ...middleware.Middleware) DispatcherOption {
	return func(d *Dispatcher) { d.mws = append(d.mws, mws...) }
}

// WithProduction hides internal error details from callers.
func WithProduction(on bool) DispatcherOption { return func(d *Dispatcher) { d.production = on } }

func WithKeys(k session.KeyResolver) DispatcherOption { return func(d *Dispatcher) { d.keys = k } }

func WithAuthenticator(a session.Authenticator) DispatcherOption {
	return func(d *Dispatcher) { d.auth = a }
}

// NewDispatcher requires a frozen registry. Handler parameter and result types that pass
// the pipeline's allow-list are registered with it.
func NewDispatcher(reg *Registry, pipeline *codec.Pipeline, opts ...DispatcherOption) (*Dispatcher, error) {
	if reg == nil || !reg.isFrozen() {
		return nil, errors.New("server: dispatcher needs a frozen registry")
	}
	if pipeline == nil {
		return nil, errors.New("server: dispatcher needs a codec pipeline")
	}
	d := &Dispatcher{
		reg:      reg,
		pipeline: pipeline,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(d)
	}
	reg.registerTypes(pipeline.Types())
	d.handler = middleware.Chain(d.mws...)(d.handle)
	return d, nil
}

// Pipeline returns the codec the dispatcher restores and transforms payloads with.
func (d *Dispatcher) Pipeline() *codec.Pipeline { return d.pipeline }

// Handle runs a decoded request through the middleware chain and the state machine.
func (d *Dispatcher) Handle(ctx context.Context, cc access.CallContext, req *message.Request) *message.Response {
	if req == nil {
		return message.NewError("", message.Errorf(message.CodeInvalidRequest, "empty request"))
	}
	return d.handler(ctx, cc, req)
}

// Dispatch is the byte-level entry used by hosts: JSON request in, JSON response out.
func (d *Dispatcher) Dispatch(ctx context.Context, cc access.CallContext, body []byte) []byte {
	var resp *message.Response
	if len(strings.TrimSpace(string(body))) == 0 {
		resp = message.NewError("", message.Errorf(message.CodeInvalidRequest, "empty request body"))
	} else {
		var req message.Request
		if err := json.Unmarshal(body, &req); err != nil {
			resp = message.NewError("", d.errorf(message.CodeParseError, "parse error", err))
		} else {
			resp = d.Handle(ctx, cc, &req)
		}
	}

	out, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("marshal response", zap.String("id", resp.ID), zap.Error(err))
		out, _ = json.Marshal(message.NewError(resp.ID, d.errorf(message.CodeInternalError, "internal error", err)))
	}
	return out
}

func (d *Dispatcher) handle(ctx context.Context, cc access.CallContext, req *message.Request) *message.Response {
	// ValidateShape
	if req.JSONRPC != "" && req.JSONRPC != message.Version {
		return message.NewError(req.ID, message.Errorf(message.CodeInvalidRequest, "unsupported jsonrpc version %q", req.JSONRPC))
	}
	if req.Method == "" {
		return message.NewError(req.ID, message.Errorf(message.CodeInvalidRequest, "method is required"))
	}
	if _, _, err := ParseMethod(req.Method); err != nil {
		return message.NewError(req.ID, d.errorf(message.CodeInvalidRequest, "malformed method", err))
	}
	e, ok := d.reg.lookup(req.Method)
	if !ok {
		return message.NewError(req.ID, message.Errorf(message.CodeMethodNotFound, "method not found: %s", req.Method))
	}
	format := message.Plain
	if req.Params != nil {
		format = req.Params.Format
	}
	if !format.Valid() {
		return message.NewError(req.ID, message.Errorf(message.CodeInvalidRequest, "invalid payload format %d", int(format)))
	}

	// ValidateAccess
	authenticated := false
	if e.rule.Auth == access.Authenticated && d.auth != nil {
		authenticated = d.auth.Authenticate(cc)
	}
	if err := e.rule.Check(cc, format, authenticated); err != nil {
		d.logger.Info("access denied",
			zap.String("method", req.Method),
			zap.Stringer("rule", e.rule),
			zap.Stringer("format", format),
			zap.String("remote", cc.RemoteAddr))
		var denied *message.Error
		if !errors.As(err, &denied) {
			denied = message.Errorf(message.CodeUnauthorized, "%v", err)
		}
		return message.NewError(req.ID, denied)
	}

	var key *seal.KeySet
	if format == message.Encrypted {
		var err error
		if d.keys != nil {
			key, err = d.keys.ResolveKey(cc)
		}
		if err != nil {
			return message.NewError(req.ID, d.errorf(message.CodeInternalError, "internal error", err))
		}
		if key == nil {
			return message.NewError(req.ID, message.Errorf(message.CodeUnauthorized, "no session key for caller"))
		}
	}

	// RestoreParams
	var raw any
	if req.Params != nil {
		v, err := d.pipeline.Decode(*req.Params, format, key)
		if err != nil {
			return message.NewError(req.ID, d.restoreFailure(req, cc, err))
		}
		raw = v
	}
	params, err := e.restore(raw)
	if err != nil {
		return message.NewError(req.ID, d.errorf(message.CodeInvalidParams, "invalid params", err))
	}

	// Invoke and await. Only this await may suspend.
	result, err := d.invoke(withCallContext(ctx, cc), e, params).Await(ctx)
	if err != nil {
		return message.NewError(req.ID, d.invocationFailure(req, err))
	}

	// BuildResult and TransformResult
	out, err := d.pipeline.Encode(result, format, key)
	if err != nil {
		d.logger.Error("encode result", zap.String("method", req.Method), zap.Error(err))
		return message.NewError(req.ID, d.errorf(message.CodeInternalError, "internal error", err))
	}
	return message.NewResult(req.ID, out)
}

// invoke calls the handler, turning a panic in a synchronous handler into a resolved Future.
func (d *Dispatcher) invoke(ctx context.Context, e *entry, params any) (f *Future[any]) {
	defer func() {
		if p := recover(); p != nil {
			f = Resolved[any](nil, &PanicError{Value: p, Stack: debug.Stack()})
		}
	}()
	return e.call(ctx, params)
}

func (d *Dispatcher) restoreFailure(req *message.Request, cc access.CallContext, err error) *message.Error {
	switch {
	case errors.Is(err, seal.ErrIntegrity):
		d.logger.Warn("payload integrity check failed",
			zap.String("method", req.Method),
			zap.String("id", req.ID),
			zap.String("remote", cc.RemoteAddr))
		return d.errorf(message.CodeInternalError, "internal error", err)
	case errors.Is(err, codec.ErrNoSessionKey):
		return message.Errorf(message.CodeUnauthorized, "no session key for caller")
	default:
		return d.errorf(message.CodeInvalidParams, "invalid params", err)
	}
}

func (d *Dispatcher) invocationFailure(req *message.Request, err error) *message.Error {
	cause := err
	var ie *InvocationError
	if errors.As(err, &ie) {
		cause = ie.Err
	}

	var rpcErr *message.Error
	if errors.As(cause, &rpcErr) {
		out := *rpcErr
		if d.production {
			out.Data = nil
		}
		return &out
	}

	var pe *PanicError
	if errors.As(cause, &pe) {
		d.logger.Error("handler panic",
			zap.String("method", req.Method),
			zap.Any("panic", pe.Value),
			zap.ByteString("stack", pe.Stack))
	} else {
		d.logger.Info("handler failed", zap.String("method", req.Method), zap.Error(cause))
	}
	return d.errorf(message.CodeInternalError, "internal error", cause)
}

// errorf builds an Error whose Data carries cause outside production.
func (d *Dispatcher) errorf(code int, msg string, cause error) *message.Error {
	e := &message.Error{Code: code, Message: msg}
	if !d.production && cause != nil {
		e.Data = cause.Error()
	}
	return e
}
