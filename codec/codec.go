// Package codec implements the payload pipeline that moves a value between its typed form
// and the opaque bytes carried by Encoded and Encrypted payloads.
//
//	Encode:  value ─► Serializer ─► Compressor ─► [AEAD.Seal] ─► Payload{Value: []byte, TypeName}
//	Decode:  Payload ─► [AEAD.Open] ─► Compressor ─► TypeRegistry.Lookup ─► Serializer ─► value
//
// Serializer, Compressor and AEAD are chosen independently at startup and never change
// afterwards. All implementations in this package are safe for concurrent use.
package codec

import "fmt"

// Serializer turns a value into bytes and back.
type Serializer interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error // v must be a non-nil pointer
}

const (
	SerializerJSON    = "json"
	SerializerMsgpack = "msgpack"
)

// SerializerByName resolves a configured serializer name.
func SerializerByName(name string) (Serializer, error) {
	switch name {
	case SerializerJSON, "":
		return JSONSerializer{}, nil
	case SerializerMsgpack:
		return MsgpackSerializer{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown serializer %q", name)
	}
}
