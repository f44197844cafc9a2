package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Format is the transformation state of a Payload value.
type Format int

const (
	Plain     Format = iota // Value is the original typed value
	Encoded                 // Value is serialized and compressed bytes
	Encrypted               // Value is serialized, compressed and sealed bytes
)

var formatNames = [...]string{"Plain", "Encoded", "Encrypted"}

func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatNames[f]
}

// Valid reports whether f is one of the three defined formats.
func (f Format) Valid() bool { return f >= Plain && f <= Encrypted }

// ParseFormat is the inverse of Format.String.
func ParseFormat(s string) (Format, error) {
	for i, name := range formatNames {
		if name == s {
			return Format(i), nil
		}
	}
	return Plain, fmt.Errorf("message: unknown format %q", s)
}

func (f Format) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("message: invalid format %d", int(f))
	}
	return []byte(f.String()), nil
}

func (f *Format) UnmarshalText(b []byte) error {
	v, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Payload wraps a value in transit.
//
// While Format is Plain, Value is the typed value itself (or a json.RawMessage once it has
// crossed the wire and not yet been assigned to a typed destination). For Encoded and
// Encrypted, Value is a []byte and TypeName names the type needed to restore it, or nil
// when the call carries no value but still declares the format its result must take.
type Payload struct {
	Format   Format
	Value    any
	TypeName string
}

// Bytes returns the opaque value of an Encoded or Encrypted payload.
func (p Payload) Bytes() ([]byte, error) {
	b, ok := p.Value.([]byte)
	if !ok {
		return nil, fmt.Errorf("message: %s payload holds %T, want []byte", p.Format, p.Value)
	}
	return b, nil
}

type payloadJSON struct {
	Format   Format          `json:"format"`
	Value    json.RawMessage `json:"value,omitempty"`
	TypeName string          `json:"type,omitempty"`
}

func (p Payload) MarshalJSON() ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch p.Format {
	case Plain:
		raw, err = json.Marshal(p.Value)
	case Encoded, Encrypted:
		if p.Value == nil {
			break
		}
		var b []byte
		if b, err = p.Bytes(); err == nil {
			raw, err = json.Marshal(b) // base64
		}
	default:
		err = fmt.Errorf("message: invalid format %d", int(p.Format))
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(payloadJSON{Format: p.Format, Value: raw, TypeName: p.TypeName})
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var pj payloadJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return err
	}
	p.Format = pj.Format
	p.TypeName = pj.TypeName
	p.Value = nil

	if len(pj.Value) == 0 || bytes.Equal(pj.Value, []byte("null")) {
		return nil
	}
	if p.Format == Plain {
		p.Value = json.RawMessage(bytes.Clone(pj.Value))
		return nil
	}
	var b []byte
	if err := json.Unmarshal(pj.Value, &b); err != nil {
		return fmt.Errorf("message: %s value is not base64 bytes: %w", p.Format, err)
	}
	p.Value = b
	return nil
}
