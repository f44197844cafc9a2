package message

import (
	"fmt"

	"github.com/gorilla/rpc/v2/json2"
)

// Protocol error codes. These numbers are part of the wire contract.
const (
	CodeParseError     = int(json2.E_PARSE)       // -32700
	CodeInvalidRequest = int(json2.E_INVALID_REQ) // -32600
	CodeMethodNotFound = int(json2.E_NO_METHOD)   // -32601
	CodeInvalidParams  = int(json2.E_BAD_PARAMS)  // -32602
	CodeInternalError  = int(json2.E_SERVER)      // -32000
	CodeUnauthorized   = CodeInternalError - 1    // -32001
)

var codeNames = map[int]string{
	CodeParseError:     "ParseError",
	CodeInvalidRequest: "InvalidRequest",
	CodeMethodNotFound: "MethodNotFound",
	CodeInvalidParams:  "InvalidParams",
	CodeInternalError:  "InternalError",
	CodeUnauthorized:   "Unauthorized",
}

// CodeName returns the symbolic name of a protocol error code.
func CodeName(code int) string {
	if n, ok := codeNames[code]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", code)
}

// Error is the error object of a failed Response. It also satisfies the error interface so
// handlers can return it to pick a specific code.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"` // Diagnostic detail, never set in production
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", CodeName(e.Code), e.Code, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
