package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"

	"sealed-rpc/access"
)

func echo(ctx context.Context, s string) (string, error) { return s, nil }

func TestFreezeAggregatesProblems(t *testing.T) {
	reg := NewRegistry()
	Register(reg, "Echo.Say", echo)
	Register(reg, "Echo.Say", echo)
	Register(reg, "NoDot", echo)
	Register[string, string](reg, "Echo.Nil", nil)
	Register(reg, "Echo.Odd", echo, Protected(access.Protection(9)))

	err := reg.Freeze()
	if err == nil {
		t.Fatal("expected Freeze to fail")
	}
	if n := len(multierr.Errors(err)); n != 4 {
		t.Fatalf("expected 4 aggregated problems, got %d: %v", n, err)
	}
	for _, want := range []string{"registered twice", "NoDot", "nil function", "unknown protection"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Freeze error missing %q: %v", want, err)
		}
	}
}

func TestFrozenRegistryRefusesRegistration(t *testing.T) {
	reg := NewRegistry()
	Register(reg, "Echo.Say", echo)
	reg.MustFreeze()

	if err := Register(reg, "Echo.Late", echo); !errors.Is(err, ErrFrozen) {
		t.Fatalf("got %v, want ErrFrozen", err)
	}
	if got := reg.Methods(); len(got) != 1 || got[0] != "Echo.Say" {
		t.Fatalf("Methods = %v", got)
	}
}

func TestMustFreezePanicsOnEmptyRegistry(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewRegistry().MustFreeze()
}

func TestRuleOptions(t *testing.T) {
	reg := NewRegistry()
	Register(reg, "A.Rule", echo, WithRule(access.Rule{Protection: access.LocalOnly}))
	Register(reg, "A.Both", echo, Protected(access.EncryptedRequired), Authenticated())
	reg.MustFreeze()

	if r, _ := reg.Rule("A.Rule"); r.Protection != access.LocalOnly || r.Auth != access.Anonymous {
		t.Errorf("A.Rule = %v", r)
	}
	if r, _ := reg.Rule("A.Both"); r.Protection != access.EncryptedRequired || r.Auth != access.Authenticated {
		t.Errorf("A.Both = %v", r)
	}
	if _, ok := reg.Rule("A.Missing"); ok {
		t.Error("missing method should have no rule")
	}
}

func TestFuture(t *testing.T) {
	f := Go(context.Background(), func(ctx context.Context) (int, error) {
		time.Sleep(10 * time.Millisecond)
		return 42, nil
	})
	v, err := f.Await(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("Await = %d, %v", v, err)
	}

	boom := errors.New("boom")
	if _, err := Resolved(0, boom).Await(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Resolved error lost: %v", err)
	}

	p := Go(context.Background(), func(ctx context.Context) (int, error) { panic("oops") })
	var pe *PanicError
	if _, err := p.Await(context.Background()); !errors.As(err, &pe) || pe.Value != "oops" {
		t.Fatalf("expected PanicError, got %v", err)
	}

	never := Go(context.Background(), func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := never.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await should stop at ctx deadline, got %v", err)
	}
}

func TestInvocationErrorUnwraps(t *testing.T) {
	inner := errors.New("inner")
	err := error(&InvocationError{Method: "A.B", Err: inner})
	if !errors.Is(err, inner) {
		t.Fatal("InvocationError should unwrap to its cause")
	}
}
