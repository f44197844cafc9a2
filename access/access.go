// Package access describes who may call a handler and over which payload format.
//
// A Rule is attached to a handler when it is registered. The hosting layer builds a
// CallContext from whatever its transport carries (frame metadata, HTTP headers, or the
// fact that the call never left the process) and the dispatcher checks one against the
// other before the handler's parameters are restored.
package access

import (
	"fmt"

	"sealed-rpc/message"
)

// Protection is the minimum payload format a handler accepts.
type Protection int

const (
	Public            Protection = iota // any format
	EncodedRequired                     // Encoded or Encrypted
	EncryptedRequired                   // Encrypted only
	LocalOnly                           // in-process callers only
)

func (p Protection) String() string {
	switch p {
	case Public:
		return "Public"
	case EncodedRequired:
		return "EncodedRequired"
	case EncryptedRequired:
		return "EncryptedRequired"
	case LocalOnly:
		return "LocalOnly"
	default:
		return fmt.Sprintf("Protection(%d)", int(p))
	}
}

// Auth says whether a caller has to prove its identity.
type Auth int

const (
	Anonymous Auth = iota
	Authenticated
)

func (a Auth) String() string {
	if a == Authenticated {
		return "Authenticated"
	}
	return "Anonymous"
}

// Rule is the access requirement attached to one handler. The zero Rule admits everyone.
type Rule struct {
	Protection Protection
	Auth       Auth
}

// CallContext is what the hosting layer knows about the caller.
type CallContext struct {
	Local       bool   // the call did not cross a transport
	AccessToken string // issued by System.Login
	APIKey      string // service-to-service credential
	RemoteAddr  string
}

// Check reports whether a call in the given inbound format may proceed. authenticated is the
// hosting layer's verdict on the CallContext credentials. Failures are Unauthorized errors.
//
// Format requirements bind only calls that crossed a transport: in-process connectors send
// Plain payloads outside debug mode.
func (r Rule) Check(cc CallContext, inbound message.Format, authenticated bool) error {
	switch r.Protection {
	case Public:
	case EncodedRequired:
		if !cc.Local && inbound != message.Encoded && inbound != message.Encrypted {
			return message.Errorf(message.CodeUnauthorized, "payload must be Encoded or Encrypted, got %s", inbound)
		}
	case EncryptedRequired:
		if !cc.Local && inbound != message.Encrypted {
			return message.Errorf(message.CodeUnauthorized, "payload must be Encrypted, got %s", inbound)
		}
	case LocalOnly:
		if !cc.Local {
			return message.Errorf(message.CodeUnauthorized, "method is only callable in-process")
		}
	default:
		return message.Errorf(message.CodeUnauthorized, "unknown protection level %s", r.Protection)
	}

	if r.Auth == Authenticated && !authenticated {
		if cc.AccessToken == "" && cc.APIKey == "" {
			return message.Errorf(message.CodeUnauthorized, "missing access token")
		}
		return message.Errorf(message.CodeUnauthorized, "invalid or expired access token")
	}
	return nil
}

func (r Rule) String() string {
	return r.Protection.String() + "/" + r.Auth.String()
}
