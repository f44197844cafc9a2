package codec

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	// ErrTypeNotAllowed is returned for type names outside the allow-list.
	// The check runs before any lookup.
	ErrTypeNotAllowed = errors.New("codec: type name not allowed")
	ErrUnknownType    = errors.New("codec: type name not registered")
)

// builtinTypes are restorable without an allow-listed prefix.
var builtinTypes = []any{
	"", false, int(0), int64(0), float64(0), []byte(nil),
	map[string]any(nil), []any(nil), []string(nil),
}

// TypeRegistry maps type names carried in payloads back to Go types.
//
// Only explicitly registered types whose names pass Allowed can be restored; there is
// no way to reconstruct an arbitrary type from its name.
type TypeRegistry struct {
	prefixes []string
	mu       sync.RWMutex
	types    map[string]reflect.Type
	builtin  map[string]bool
}

// NewTypeRegistry creates a registry that admits type names under the given prefixes,
// e.g. "sealed-rpc/system.".
func NewTypeRegistry(prefixes ...string) *TypeRegistry {
	r := &TypeRegistry{
		prefixes: append([]string(nil), prefixes...),
		types:    make(map[string]reflect.Type),
		builtin:  make(map[string]bool),
	}
	for _, v := range builtinTypes {
		t := reflect.TypeOf(v)
		name := typeName(t)
		r.builtin[name] = true
		r.types[name] = t
	}
	return r
}

// Allowed is the allow-list predicate: builtin names, or names under a known prefix.
func (r *TypeRegistry) Allowed(name string) bool {
	if name == "" {
		return false
	}
	if r.builtin[name] {
		return true
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Register adds the types of the sample values. Pointer samples register their element type.
func (r *TypeRegistry) Register(samples ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		if s == nil {
			return errors.New("codec: cannot register nil")
		}
		t := deref(reflect.TypeOf(s))
		name := typeName(t)
		if !r.Allowed(name) {
			return fmt.Errorf("%w: %s", ErrTypeNotAllowed, name)
		}
		r.types[name] = t
	}
	return nil
}

// RegisterType adds t if its name passes the allow-list and reports whether it did.
// Interface types are never registered.
func (r *TypeRegistry) RegisterType(t reflect.Type) bool {
	t = deref(t)
	if t.Kind() == reflect.Interface {
		return false
	}
	name := typeName(t)
	if !r.Allowed(name) {
		return false
	}
	r.mu.Lock()
	r.types[name] = t
	r.mu.Unlock()
	return true
}

// Lookup resolves a type name, rejecting names outside the allow-list first.
func (r *TypeRegistry) Lookup(name string) (reflect.Type, error) {
	if !r.Allowed(name) {
		return nil, fmt.Errorf("%w: %q", ErrTypeNotAllowed, name)
	}
	r.mu.RLock()
	t, ok := r.types[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return t, nil
}

// NameOf returns the fully-qualified type name recorded for v.
func NameOf(v any) (string, error) {
	if v == nil {
		return "", errors.New("codec: cannot name the type of nil")
	}
	return typeName(deref(reflect.TypeOf(v))), nil
}

func typeName(t reflect.Type) string {
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

func deref(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
