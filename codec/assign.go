package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Assign stores a restored value into dst, which must be a non-nil pointer.
//
// v may be the exact type, a pointer to it, a json.RawMessage (a Plain value that crossed
// the wire), or any other JSON-compatible shape, which is re-shaped through encoding/json.
// A nil v leaves dst untouched.
func Assign(dst any, v any) error {
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("codec: assign target must be a non-nil pointer, got %T", dst)
	}
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return json.Unmarshal(raw, dst)
	}

	ev := dv.Elem()
	vv := reflect.ValueOf(v)
	switch {
	case vv.Type().AssignableTo(ev.Type()):
		ev.Set(vv)
		return nil
	case vv.Kind() == reflect.Pointer && !vv.IsNil() && vv.Elem().Type().AssignableTo(ev.Type()):
		ev.Set(vv.Elem())
		return nil
	case ev.Kind() == reflect.Pointer && vv.Type().AssignableTo(ev.Type().Elem()):
		p := reflect.New(ev.Type().Elem())
		p.Elem().Set(vv)
		ev.Set(p)
		return nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: cannot assign %T to %s: %w", v, ev.Type(), err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("codec: cannot assign %T to %s: %w", v, ev.Type(), err)
	}
	return nil
}
