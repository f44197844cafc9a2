package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// MaxDecompressedSize bounds decompression output to stop compression bombs.
const MaxDecompressedSize = 64 << 20

// Compressor shrinks serialized bytes before they are sealed or sent.
type Compressor interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

const (
	CompressorNone = "none"
	CompressorGzip = "gzip"
	CompressorZstd = "zstd"
)

// CompressorByName resolves a configured compressor name.
func CompressorByName(name string) (Compressor, error) {
	switch name {
	case CompressorNone, "":
		return NoCompression{}, nil
	case CompressorGzip:
		return Gzip{}, nil
	case CompressorZstd:
		return Zstd{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown compressor %q", name)
	}
}

// NoCompression passes bytes through unchanged.
type NoCompression struct{}

func (NoCompression) Name() string                          { return CompressorNone }
func (NoCompression) Compress(src []byte) ([]byte, error)   { return src, nil }
func (NoCompression) Decompress(src []byte) ([]byte, error) { return src, nil }

// Gzip compresses with a fresh writer per call; nothing is shared between calls.
type Gzip struct{}

func (Gzip) Name() string { return CompressorGzip }

func (Gzip) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Gzip) Decompress(src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("codec: gzip: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("codec: gzip: %w", err)
	}
	if len(out) > MaxDecompressedSize {
		return nil, fmt.Errorf("codec: gzip: output exceeds %d bytes", MaxDecompressedSize)
	}
	return out, nil
}

// Globally shared zstd encoder and decoder. Only EncodeAll and DecodeAll are used,
// which are allowed to be called concurrently.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	if zstdEncoder, err = zstd.NewWriter(nil); err != nil {
		panic(err) // this is impossible
	}
	if zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize)); err != nil {
		panic(err) // this is impossible
	}
}

// Zstd compresses with the shared stateless zstd encoder.
type Zstd struct{}

func (Zstd) Name() string { return CompressorZstd }

func (Zstd) Compress(src []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(src, nil), nil
}

func (Zstd) Decompress(src []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd: %w", err)
	}
	return out, nil
}
