package codec

import (
	"testing"

	"sealed-rpc/message"
	"sealed-rpc/seal"
)

// Encode and decode without the network, per serializer and compressor.
func BenchmarkPipeline(b *testing.B) {
	key, err := seal.GenerateKeySet(seal.AlgCBCHMAC)
	if err != nil {
		b.Fatal(err)
	}
	v := point{X: 1, Y: 2, Label: "bench", Tags: []string{"a", "b", "c"}}

	for _, s := range []Serializer{JSONSerializer{}, MsgpackSerializer{}} {
		for _, c := range []Compressor{NoCompression{}, Gzip{}, Zstd{}} {
			types := NewTypeRegistry("sealed-rpc/codec.")
			if err := types.Register(point{}); err != nil {
				b.Fatal(err)
			}
			p := NewPipeline(Options{Serializer: s, Compressor: c, Types: types})
			for _, f := range []message.Format{message.Encoded, message.Encrypted} {
				b.Run(p.String()+"/"+f.String(), func(b *testing.B) {
					for i := 0; i < b.N; i++ {
						pl, err := p.Encode(v, f, key)
						if err != nil {
							b.Fatal(err)
						}
						if _, err := p.Decode(pl, f, key); err != nil {
							b.Fatal(err)
						}
					}
				})
			}
		}
	}
}
