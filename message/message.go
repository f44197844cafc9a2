// Package message defines the request/response envelope exchanged between connector and
// dispatcher.
//
// Every call is a JSON-RPC 2.0 shaped envelope whose params/result is a Payload:
//
//	Request:  { "jsonrpc": "2.0", "method": "System.Ping", "params": Payload, "id": "…" }
//	Response: { "jsonrpc": "2.0", "result": Payload, "id": "…" }
//	      or  { "jsonrpc": "2.0", "error": Error, "id": "…" }
//
// The envelope itself is always JSON; only the Payload value changes shape with its Format.
package message

import (
	"errors"
	"fmt"
)

// Version is the protocol version tag carried in every envelope.
const Version = "2.0"

// Request carries a single call.
//
//   - Method is "<Target>.<Action>", e.g. "System.Ping".
//   - ID is an opaque correlation token; empty for fire-and-forget calls.
type Request struct {
	JSONRPC string   `json:"jsonrpc"`
	Method  string   `json:"method"`
	Params  *Payload `json:"params,omitempty"`
	ID      string   `json:"id,omitempty"`
}

// NewRequest builds a request for method with the given params.
func NewRequest(method string, params Payload, id string) *Request {
	return &Request{
		JSONRPC: Version,
		Method:  method,
		Params:  &params,
		ID:      id,
	}
}

// Response carries the outcome of a call. Exactly one of Result and Error is set.
// The unset member and an empty ID are omitted on the wire; explicit nulls from a peer
// decode the same way.
type Response struct {
	JSONRPC string   `json:"jsonrpc"`
	Result  *Payload `json:"result,omitempty"`
	Error   *Error   `json:"error,omitempty"`
	ID      string   `json:"id,omitempty"`
}

// NewResult builds a successful response.
func NewResult(id string, result Payload) *Response {
	return &Response{JSONRPC: Version, Result: &result, ID: id}
}

// NewError builds a failed response.
func NewError(id string, err *Error) *Response {
	return &Response{JSONRPC: Version, Error: err, ID: id}
}

// Validate checks the result/error exclusivity of a decoded response.
func (r *Response) Validate() error {
	switch {
	case r.Result != nil && r.Error != nil:
		return errors.New("message: response has both result and error")
	case r.Result == nil && r.Error == nil:
		return errors.New("message: response has neither result nor error")
	case r.JSONRPC != Version:
		return fmt.Errorf("message: unsupported version %q", r.JSONRPC)
	}
	return nil
}
