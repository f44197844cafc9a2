package server

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"sealed-rpc/access"
	"sealed-rpc/codec"
)

var ErrFrozen = errors.New("server: registry is frozen")

// InvocationError wraps an error returned by a handler. The dispatcher reports its cause.
type InvocationError struct {
	Method string
	Err    error
}

func (e *InvocationError) Error() string { return "invoke " + e.Method + ": " + e.Err.Error() }
func (e *InvocationError) Unwrap() error { return e.Err }

// entry is one registered handler with its types erased.
type entry struct {
	method     string
	rule       access.Rule
	async      bool
	paramType  reflect.Type
	resultType reflect.Type
	restore    func(v any) (any, error)
	call       func(ctx context.Context, p any) *Future[any]
}

// Registry maps "<Target>.<Action>" to typed handler functions.
//
// It is built once at startup, validated by Freeze, and read-only afterwards. Access
// rules are registry metadata passed as options.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	errs    error
	frozen  bool
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Option attaches metadata to a handler.
type Option func(*entry)

func WithRule(r access.Rule) Option { return func(e *entry) { e.rule = r } }

func Protected(p access.Protection) Option { return func(e *entry) { e.rule.Protection = p } }

func Authenticated() Option { return func(e *entry) { e.rule.Auth = access.Authenticated } }

// Register adds a synchronous handler. Problems are returned here and again by Freeze.
func Register[P, R any](reg *Registry, method string, fn func(context.Context, P) (R, error), opts ...Option) error {
	e := newEntry[P, R](method)
	if fn != nil {
		e.call = func(ctx context.Context, p any) *Future[any] {
			pv, _ := p.(P)
			r, err := fn(ctx, pv)
			if err != nil {
				return Resolved[any](nil, &InvocationError{Method: method, Err: err})
			}
			return Resolved[any](r, nil)
		}
	}
	return reg.add(e, opts)
}

// RegisterAsync adds a handler that returns a Future, typically built with Go.
func RegisterAsync[P, R any](reg *Registry, method string, fn func(context.Context, P) *Future[R], opts ...Option) error {
	e := newEntry[P, R](method)
	e.async = true
	if fn != nil {
		wrap := func(err error) error { return &InvocationError{Method: method, Err: err} }
		e.call = func(ctx context.Context, p any) *Future[any] {
			pv, _ := p.(P)
			f := fn(ctx, pv)
			if f == nil {
				return Resolved[any](nil, wrap(errors.New("handler returned a nil future")))
			}
			return erase(f, wrap)
		}
	}
	return reg.add(e, opts)
}

func newEntry[P, R any](method string) *entry {
	return &entry{
		method:     method,
		paramType:  reflect.TypeOf((*P)(nil)).Elem(),
		resultType: reflect.TypeOf((*R)(nil)).Elem(),
		restore: func(v any) (any, error) {
			var p P
			if err := codec.Assign(&p, v); err != nil {
				return nil, err
			}
			return p, nil
		},
	}
}

func (reg *Registry) add(e *entry, opts []Option) error {
	for _, o := range opts {
		o(e)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.frozen {
		return fmt.Errorf("%w: cannot register %q", ErrFrozen, e.method)
	}

	var err error
	if _, _, perr := ParseMethod(e.method); perr != nil {
		err = multierr.Append(err, fmt.Errorf("handler %q: %w", e.method, perr))
	}
	if e.call == nil {
		err = multierr.Append(err, fmt.Errorf("handler %q: nil function", e.method))
	}
	if _, dup := reg.entries[e.method]; dup {
		err = multierr.Append(err, fmt.Errorf("handler %q: registered twice", e.method))
	}
	if e.rule.Protection < access.Public || e.rule.Protection > access.LocalOnly {
		err = multierr.Append(err, fmt.Errorf("handler %q: unknown protection %s", e.method, e.rule.Protection))
	}
	if err != nil {
		reg.errs = multierr.Append(reg.errs, err)
		return err
	}
	reg.entries[e.method] = e
	return nil
}

// Freeze validates the registry and makes it read-only. It reports every problem found
// during registration at once.
func (reg *Registry) Freeze() error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.frozen = true
	if len(reg.entries) == 0 {
		return multierr.Append(reg.errs, errors.New("server: no handlers registered"))
	}
	return reg.errs
}

// MustFreeze is Freeze for program startup.
func (reg *Registry) MustFreeze() *Registry {
	if err := reg.Freeze(); err != nil {
		panic(err)
	}
	return reg
}

func (reg *Registry) isFrozen() bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.frozen
}

// lookup is only called on a frozen registry, so it needs no lock.
func (reg *Registry) lookup(method string) (*entry, bool) {
	e, ok := reg.entries[method]
	return e, ok
}

// Methods lists registered methods in sorted order.
func (reg *Registry) Methods() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]string, 0, len(reg.entries))
	for m := range reg.entries {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Rule returns the access rule of a registered method.
func (reg *Registry) Rule(method string) (access.Rule, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.entries[method]
	if !ok {
		return access.Rule{}, false
	}
	return e.rule, true
}

// registerTypes makes every handler's parameter and result types restorable by types.
func (reg *Registry) registerTypes(types *codec.TypeRegistry) {
	for _, e := range reg.entries {
		types.RegisterType(e.paramType)
		types.RegisterType(e.resultType)
	}
}
