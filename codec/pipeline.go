package codec

import (
	"errors"
	"fmt"
	"reflect"

	"sealed-rpc/message"
	"sealed-rpc/seal"
)

var (
	ErrNoSessionKey   = errors.New("codec: Encrypted format requires a session key")
	ErrFormatMismatch = errors.New("codec: payload format does not match declared format")
)

// Options selects the pipeline stages. Nil fields fall back to JSON, no compression,
// AES-256-CBC-HMAC-SHA256 and a registry holding only builtin types.
type Options struct {
	Serializer Serializer
	Compressor Compressor
	AEAD       seal.AEAD
	Types      *TypeRegistry
}

// Pipeline is the immutable, concurrency-safe payload codec.
type Pipeline struct {
	serializer Serializer
	compressor Compressor
	aead       seal.AEAD
	types      *TypeRegistry
}

func NewPipeline(opts Options) *Pipeline {
	p := &Pipeline{
		serializer: opts.Serializer,
		compressor: opts.Compressor,
		aead:       opts.AEAD,
		types:      opts.Types,
	}
	if p.serializer == nil {
		p.serializer = JSONSerializer{}
	}
	if p.compressor == nil {
		p.compressor = NoCompression{}
	}
	if p.aead == nil {
		p.aead = seal.CBCHMAC{}
	}
	if p.types == nil {
		p.types = NewTypeRegistry()
	}
	return p
}

// Types returns the registry used to restore values.
func (p *Pipeline) Types() *TypeRegistry { return p.types }

// Algorithm is the AEAD algorithm session keys must carry.
func (p *Pipeline) Algorithm() string { return p.aead.Algorithm() }

// String describes the configured stages, e.g. "json+zstd+XChaCha20-Poly1305".
func (p *Pipeline) String() string {
	return p.serializer.Name() + "+" + p.compressor.Name() + "+" + p.aead.Algorithm()
}

// Encode moves v into the given format. Plain is a no-op. A nil v yields a payload that
// declares the format but carries no value.
func (p *Pipeline) Encode(v any, format message.Format, key *seal.KeySet) (message.Payload, error) {
	switch format {
	case message.Plain:
		return message.Payload{Format: message.Plain, Value: v}, nil
	case message.Encoded, message.Encrypted:
	default:
		return message.Payload{}, fmt.Errorf("codec: invalid format %d", int(format))
	}
	if format == message.Encrypted && key == nil {
		return message.Payload{}, ErrNoSessionKey
	}
	if v == nil {
		return message.Payload{Format: format}, nil
	}

	name, err := NameOf(v)
	if err != nil {
		return message.Payload{}, err
	}
	if _, err := p.types.Lookup(name); err != nil {
		return message.Payload{}, err
	}

	raw, err := p.serializer.Marshal(v)
	if err != nil {
		return message.Payload{}, fmt.Errorf("codec: serialize %s: %w", name, err)
	}
	b, err := p.compressor.Compress(raw)
	if err != nil {
		return message.Payload{}, fmt.Errorf("codec: compress: %w", err)
	}
	if format == message.Encrypted {
		if b, err = p.aead.Seal(b, key); err != nil {
			return message.Payload{}, fmt.Errorf("codec: seal: %w", err)
		}
	}
	return message.Payload{Format: format, Value: b, TypeName: name}, nil
}

// Decode restores the value of a payload declared to be in the given format.
// A payload without a value restores to nil.
func (p *Pipeline) Decode(pl message.Payload, format message.Format, key *seal.KeySet) (any, error) {
	if pl.Format != format {
		return nil, fmt.Errorf("%w: got %s, declared %s", ErrFormatMismatch, pl.Format, format)
	}
	switch format {
	case message.Plain:
		return pl.Value, nil
	case message.Encoded, message.Encrypted:
	default:
		return nil, fmt.Errorf("codec: invalid format %d", int(format))
	}
	if pl.Value == nil {
		return nil, nil
	}

	t, err := p.types.Lookup(pl.TypeName)
	if err != nil {
		return nil, err
	}
	b, err := pl.Bytes()
	if err != nil {
		return nil, err
	}

	if format == message.Encrypted {
		if key == nil {
			return nil, ErrNoSessionKey
		}
		if b, err = p.aead.Open(b, key); err != nil {
			return nil, fmt.Errorf("codec: open: %w", err)
		}
	}
	raw, err := p.compressor.Decompress(b)
	if err != nil {
		return nil, err
	}

	ptr := reflect.New(t)
	if err := p.serializer.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("codec: deserialize %s: %w", pl.TypeName, err)
	}
	return ptr.Elem().Interface(), nil
}
