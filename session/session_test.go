package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"sealed-rpc/access"
	"sealed-rpc/seal"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newKey(t *testing.T) *seal.KeySet {
	t.Helper()
	k, err := seal.GenerateKeySet(seal.AlgCBCHMAC)
	if err != nil {
		t.Fatalf("GenerateKeySet failed: %v", err)
	}
	return k
}

func TestStoreLifecycle(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStore(time.Hour, WithClock(clock.Now))

	key := newKey(t)
	sess := s.Create("tester", key)
	if sess.Token == "" {
		t.Fatal("expect non-empty token")
	}
	if !sess.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("ExpiresAt = %v", sess.ExpiresAt)
	}

	got, ok := s.Lookup(sess.Token)
	if !ok || !got.Key.Equal(key) {
		t.Fatal("expect live session with the same key")
	}
	if _, ok := s.Lookup("nope"); ok {
		t.Fatal("unknown token should not resolve")
	}

	clock.Advance(time.Hour)
	if _, ok := s.Lookup(sess.Token); ok {
		t.Fatal("expired token should not resolve")
	}
	if n := s.Sweep(); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d after sweep", s.Len())
	}
}

func TestStoreRevoke(t *testing.T) {
	s := NewStore(0)
	sess := s.Create("tester", newKey(t))
	if !s.Revoke(sess.Token) {
		t.Fatal("Revoke of a live token should report true")
	}
	if s.Revoke(sess.Token) {
		t.Fatal("second Revoke should report false")
	}
	if _, ok := s.Lookup(sess.Token); ok {
		t.Fatal("revoked token should not resolve")
	}
}

func TestStoreRunStopsOnCancel(t *testing.T) {
	s := NewStore(time.Millisecond)
	s.Create("a", newKey(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Len() != 0 {
		t.Fatal("Run did not sweep the expired session")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestResolvers(t *testing.T) {
	s := NewStore(time.Hour)
	key := newKey(t)
	sess := s.Create("a", key)

	got, err := s.ResolveKey(access.CallContext{AccessToken: sess.Token})
	if err != nil || !got.Equal(key) {
		t.Fatalf("ResolveKey = %v, %v", got, err)
	}
	got, err = s.ResolveKey(access.CallContext{})
	if err != nil || got != nil {
		t.Fatalf("ResolveKey without token = %v, %v", got, err)
	}

	shared := newKey(t)
	got, _ = SharedKey{Key: shared}.ResolveKey(access.CallContext{})
	if !got.Equal(shared) {
		t.Fatal("SharedKey should always resolve its key")
	}
}

func TestCredentials(t *testing.T) {
	s := NewStore(time.Hour)
	sess := s.Create("a", newKey(t))
	c := NewCredentials(s, "svc-key", "")

	cases := []struct {
		cc   access.CallContext
		want bool
	}{
		{access.CallContext{AccessToken: sess.Token}, true},
		{access.CallContext{AccessToken: "forged"}, false},
		{access.CallContext{APIKey: "svc-key"}, true},
		{access.CallContext{APIKey: "svc-kez"}, false},
		{access.CallContext{}, false},
	}
	for i, tc := range cases {
		if got := c.Authenticate(tc.cc); got != tc.want {
			t.Errorf("case %d: Authenticate = %v, want %v", i, got, tc.want)
		}
	}
}
