package codec

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// JSONSerializer uses Go's standard library encoding/json.
// Pros: human-readable, cross-language, easy to debug.
// Cons: slower due to reflection + string parsing, larger payload (field names repeated).
type JSONSerializer struct{}

func (JSONSerializer) Name() string { return SerializerJSON }

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// MsgpackSerializer encodes values as MessagePack: binary, compact, still schemaless.
type MsgpackSerializer struct{}

func (MsgpackSerializer) Name() string { return SerializerMsgpack }

func (MsgpackSerializer) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackSerializer) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
