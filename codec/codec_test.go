package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sealed-rpc/message"
	"sealed-rpc/seal"
)

type point struct {
	X, Y  int
	Label string
	Tags  []string
}

func newTestPipeline(t *testing.T, s Serializer, c Compressor, a seal.AEAD) *Pipeline {
	t.Helper()
	types := NewTypeRegistry("sealed-rpc/codec.")
	if err := types.Register(point{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return NewPipeline(Options{Serializer: s, Compressor: c, AEAD: a, Types: types})
}

func TestPipelineRoundTrip(t *testing.T) {
	serializers := []Serializer{JSONSerializer{}, MsgpackSerializer{}}
	compressors := []Compressor{NoCompression{}, Gzip{}, Zstd{}}
	aeads := []seal.AEAD{seal.CBCHMAC{}, seal.XChaCha{}}

	want := point{X: 3, Y: -7, Label: "origin", Tags: []string{"a", "b"}}
	for _, s := range serializers {
		for _, c := range compressors {
			for _, a := range aeads {
				p := newTestPipeline(t, s, c, a)
				key, err := seal.GenerateKeySet(a.Algorithm())
				if err != nil {
					t.Fatalf("GenerateKeySet failed: %v", err)
				}
				for _, f := range []message.Format{message.Encoded, message.Encrypted} {
					t.Run(fmt.Sprintf("%s/%s", p, f), func(t *testing.T) {
						pl, err := p.Encode(&want, f, key)
						if err != nil {
							t.Fatalf("Encode failed: %v", err)
						}
						if pl.TypeName != "sealed-rpc/codec.point" {
							t.Errorf("TypeName = %q", pl.TypeName)
						}
						got, err := p.Decode(pl, f, key)
						if err != nil {
							t.Fatalf("Decode failed: %v", err)
						}
						if diff := cmp.Diff(want, got); diff != "" {
							t.Errorf("round trip mismatch (-want +got):\n%s", diff)
						}
					})
				}
			}
		}
	}
}

func TestPipelinePlainPassthrough(t *testing.T) {
	p := newTestPipeline(t, nil, nil, nil)
	v := map[string]any{"status": "ok"}

	pl, err := p.Encode(v, message.Plain, nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if pl.TypeName != "" {
		t.Errorf("Plain payload carries type name %q", pl.TypeName)
	}
	got, err := p.Decode(pl, message.Plain, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(v, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelineEncryptedNeedsKey(t *testing.T) {
	p := newTestPipeline(t, nil, nil, nil)
	if _, err := p.Encode(point{}, message.Encrypted, nil); !errors.Is(err, ErrNoSessionKey) {
		t.Fatalf("Encode without key: got %v, want ErrNoSessionKey", err)
	}

	key, _ := seal.GenerateKeySet(seal.AlgCBCHMAC)
	pl, err := p.Encode(point{X: 1}, message.Encrypted, key)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := p.Decode(pl, message.Encrypted, nil); !errors.Is(err, ErrNoSessionKey) {
		t.Fatalf("Decode without key: got %v, want ErrNoSessionKey", err)
	}
}

func TestPipelineWrongKey(t *testing.T) {
	p := newTestPipeline(t, nil, Gzip{}, nil)
	k1, _ := seal.GenerateKeySet(seal.AlgCBCHMAC)
	k2, _ := seal.GenerateKeySet(seal.AlgCBCHMAC)

	pl, err := p.Encode(point{X: 1}, message.Encrypted, k1)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := p.Decode(pl, message.Encrypted, k2); !errors.Is(err, seal.ErrIntegrity) {
		t.Fatalf("Decode with wrong key: got %v, want ErrIntegrity", err)
	}
}

func TestPipelineFormatMismatch(t *testing.T) {
	p := newTestPipeline(t, nil, nil, nil)
	pl, err := p.Encode(point{}, message.Encoded, nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := p.Decode(pl, message.Plain, nil); !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("got %v, want ErrFormatMismatch", err)
	}
}

func TestPipelineRejectsUnlistedTypes(t *testing.T) {
	p := newTestPipeline(t, nil, nil, nil)
	body, _ := json.Marshal(map[string]string{"Path": "/bin/sh"})

	cases := []struct {
		typeName string
		want     error
	}{
		{"os/exec.Cmd", ErrTypeNotAllowed},
		{"", ErrTypeNotAllowed},
		{"sealed-rpc/codec.neverRegistered", ErrUnknownType},
	}
	for _, c := range cases {
		pl := message.Payload{Format: message.Encoded, Value: body, TypeName: c.typeName}
		if _, err := p.Decode(pl, message.Encoded, nil); !errors.Is(err, c.want) {
			t.Errorf("Decode(%q): got %v, want %v", c.typeName, err, c.want)
		}
	}

	type local struct{ A int }
	if _, err := p.Encode(local{}, message.Encoded, nil); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Encode of unregistered type: got %v, want ErrUnknownType", err)
	}
}

func TestTypeRegistry(t *testing.T) {
	r := NewTypeRegistry("sealed-rpc/codec.")

	if err := r.Register(bytes.Buffer{}); !errors.Is(err, ErrTypeNotAllowed) {
		t.Errorf("Register outside prefix: got %v, want ErrTypeNotAllowed", err)
	}
	if err := r.Register(&point{}); err != nil {
		t.Fatalf("Register(&point{}) failed: %v", err)
	}
	if _, err := r.Lookup("sealed-rpc/codec.point"); err != nil {
		t.Errorf("Lookup failed: %v", err)
	}
	for _, name := range []string{"string", "int64", "map[string]interface {}", "[]uint8"} {
		if !r.Allowed(name) {
			t.Errorf("builtin %q not allowed", name)
		}
	}

	name, err := NameOf(&point{})
	if err != nil || name != "sealed-rpc/codec.point" {
		t.Errorf("NameOf(&point{}) = %q, %v", name, err)
	}
	if _, err := NameOf(nil); err == nil {
		t.Error("NameOf(nil) should fail")
	}
}

func TestBuiltinValuesEncode(t *testing.T) {
	p := newTestPipeline(t, MsgpackSerializer{}, Zstd{}, nil)
	pl, err := p.Encode("hello", message.Encoded, nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := p.Decode(pl, message.Encoded, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %v, want hello", got)
	}
}

func TestCompressors(t *testing.T) {
	inputs := [][]byte{
		[]byte("x"),
		bytes.Repeat([]byte("sealed-rpc "), 10000),
	}
	for _, name := range []string{CompressorNone, CompressorGzip, CompressorZstd} {
		c, err := CompressorByName(name)
		if err != nil {
			t.Fatalf("CompressorByName(%q) failed: %v", name, err)
		}
		for _, in := range inputs {
			packed, err := c.Compress(in)
			if err != nil {
				t.Fatalf("%s Compress failed: %v", name, err)
			}
			out, err := c.Decompress(packed)
			if err != nil {
				t.Fatalf("%s Decompress failed: %v", name, err)
			}
			if !bytes.Equal(in, out) {
				t.Errorf("%s round trip mismatch", name)
			}
		}
	}
	if _, err := CompressorByName("lz4"); err == nil {
		t.Error("unknown compressor should fail")
	}
	if _, err := SerializerByName("gob"); err == nil {
		t.Error("unknown serializer should fail")
	}
	if _, err := (Gzip{}).Decompress([]byte("not gzip")); err == nil {
		t.Error("Gzip.Decompress of garbage should fail")
	}
}

func TestAssign(t *testing.T) {
	want := point{X: 1, Y: 2, Label: "p"}

	var a point
	if err := Assign(&a, want); err != nil || !cmp.Equal(a, want) {
		t.Errorf("exact: got %+v, %v", a, err)
	}

	var b point
	if err := Assign(&b, &want); err != nil || !cmp.Equal(b, want) {
		t.Errorf("pointer: got %+v, %v", b, err)
	}

	var c point
	raw := json.RawMessage(`{"X":1,"Y":2,"Label":"p"}`)
	if err := Assign(&c, raw); err != nil || !cmp.Equal(c, want) {
		t.Errorf("raw: got %+v, %v", c, err)
	}

	var d point
	m := map[string]any{"X": 1, "Y": 2, "Label": "p"}
	if err := Assign(&d, m); err != nil || !cmp.Equal(d, want) {
		t.Errorf("reshape: got %+v, %v", d, err)
	}

	var e *point
	if err := Assign(&e, want); err != nil || e == nil || !cmp.Equal(*e, want) {
		t.Errorf("into pointer: got %+v, %v", e, err)
	}

	if err := Assign(a, want); err == nil {
		t.Error("non-pointer target should fail")
	}
}

func TestPipelineValuelessPayload(t *testing.T) {
	p := newTestPipeline(t, nil, nil, nil)
	key, _ := seal.GenerateKeySet(seal.AlgCBCHMAC)

	for _, f := range []message.Format{message.Encoded, message.Encrypted} {
		pl, err := p.Encode(nil, f, key)
		if err != nil {
			t.Fatalf("%s Encode(nil) failed: %v", f, err)
		}
		if pl.Format != f || pl.Value != nil || pl.TypeName != "" {
			t.Fatalf("%s Encode(nil) = %+v", f, pl)
		}
		got, err := p.Decode(pl, f, key)
		if err != nil || got != nil {
			t.Fatalf("%s Decode = %v, %v; want nil, nil", f, got, err)
		}
	}
	if _, err := p.Encode(nil, message.Encrypted, nil); !errors.Is(err, ErrNoSessionKey) {
		t.Fatalf("Encrypted Encode(nil) without key: got %v, want ErrNoSessionKey", err)
	}
}
