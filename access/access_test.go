package access

import (
	"errors"
	"testing"

	"sealed-rpc/message"
)

func TestRuleCheck(t *testing.T) {
	remote := CallContext{RemoteAddr: "10.0.0.1:5000"}
	local := CallContext{Local: true}
	withToken := CallContext{AccessToken: "tok"}

	cases := []struct {
		name   string
		rule   Rule
		cc     CallContext
		format message.Format
		authed bool
		ok     bool
	}{
		{"public plain", Rule{}, remote, message.Plain, false, true},
		{"encoded required, plain", Rule{Protection: EncodedRequired}, remote, message.Plain, false, false},
		{"encoded required, encoded", Rule{Protection: EncodedRequired}, remote, message.Encoded, false, true},
		{"encoded required, encrypted", Rule{Protection: EncodedRequired}, remote, message.Encrypted, false, true},
		{"encrypted required, plain", Rule{Protection: EncryptedRequired}, remote, message.Plain, true, false},
		{"encrypted required, encoded", Rule{Protection: EncryptedRequired}, remote, message.Encoded, true, false},
		{"encrypted required, encrypted", Rule{Protection: EncryptedRequired}, remote, message.Encrypted, true, true},
		{"encoded required, local plain", Rule{Protection: EncodedRequired}, local, message.Plain, false, true},
		{"encrypted required, local plain", Rule{Protection: EncryptedRequired}, local, message.Plain, false, true},
		{"local only, remote", Rule{Protection: LocalOnly}, remote, message.Plain, false, false},
		{"local only, local", Rule{Protection: LocalOnly}, local, message.Plain, false, true},
		{"authenticated, no token", Rule{Auth: Authenticated}, remote, message.Plain, false, false},
		{"authenticated, bad token", Rule{Auth: Authenticated}, withToken, message.Plain, false, false},
		{"authenticated, good token", Rule{Auth: Authenticated}, withToken, message.Plain, true, true},
		{"unknown protection", Rule{Protection: Protection(42)}, local, message.Encrypted, true, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.rule.Check(c.cc, c.format, c.authed)
			if c.ok {
				if err != nil {
					t.Fatalf("expected pass, got %v", err)
				}
				return
			}
			var rpcErr *message.Error
			if !errors.As(err, &rpcErr) {
				t.Fatalf("expected *message.Error, got %v", err)
			}
			if rpcErr.Code != message.CodeUnauthorized {
				t.Fatalf("code = %d, want %d", rpcErr.Code, message.CodeUnauthorized)
			}
		})
	}
}

func TestRuleString(t *testing.T) {
	r := Rule{Protection: EncryptedRequired, Auth: Authenticated}
	if got := r.String(); got != "EncryptedRequired/Authenticated" {
		t.Fatalf("String() = %q", got)
	}
}
