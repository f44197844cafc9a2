// Package session owns the server side of session keys: which KeySet belongs to which
// access token, for how long, and which credentials count as authenticated.
package session

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sealed-rpc/access"
	"sealed-rpc/seal"
)

// DefaultTTL is how long a login stays valid when no TTL is configured.
const DefaultTTL = 12 * time.Hour

// Session is immutable once created.
type Session struct {
	Token      string
	ClientName string
	Key        *seal.KeySet
	ExpiresAt  time.Time
}

// Store is an in-memory token → Session map with expiry.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.logger = l } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func NewStore(ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create issues a fresh access token bound to key.
func (s *Store) Create(clientName string, key *seal.KeySet) *Session {
	sess := &Session{
		Token:      uuid.NewString(),
		ClientName: clientName,
		Key:        key,
		ExpiresAt:  s.now().Add(s.ttl),
	}
	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()
	return sess
}

// Lookup returns the live session for token. Expired sessions are reported as missing
// and left for Sweep.
func (s *Store) Lookup(token string) (*Session, bool) {
	if token == "" {
		return nil, false
	}
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok || !s.now().Before(sess.ExpiresAt) {
		return nil, false
	}
	return sess, true
}

// Revoke forgets token. It reports whether the token was known.
func (s *Store) Revoke(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[token]
	delete(s.sessions, token)
	return ok
}

// Sweep drops expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, token)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("expired sessions swept", zap.Int("count", n))
			}
		}
	}
}

// KeyResolver finds the KeySet that protects a caller's Encrypted payloads.
// A nil key with a nil error means the caller has none.
type KeyResolver interface {
	ResolveKey(cc access.CallContext) (*seal.KeySet, error)
}

// ResolveKey implements per-session keys.
func (s *Store) ResolveKey(cc access.CallContext) (*seal.KeySet, error) {
	if sess, ok := s.Lookup(cc.AccessToken); ok {
		return sess.Key, nil
	}
	return nil, nil
}

// SharedKey is the legacy mode where every caller uses one process-wide KeySet.
type SharedKey struct {
	Key *seal.KeySet
}

func (k SharedKey) ResolveKey(access.CallContext) (*seal.KeySet, error) {
	return k.Key, nil
}

// Authenticator decides whether a CallContext carries valid credentials.
type Authenticator interface {
	Authenticate(cc access.CallContext) bool
}

// Credentials accepts live access tokens from a Store and a fixed set of API keys.
type Credentials struct {
	store   *Store
	apiKeys [][]byte
}

func NewCredentials(store *Store, apiKeys ...string) *Credentials {
	c := &Credentials{store: store}
	for _, k := range apiKeys {
		if k != "" {
			c.apiKeys = append(c.apiKeys, []byte(k))
		}
	}
	return c
}

func (c *Credentials) Authenticate(cc access.CallContext) bool {
	if c.store != nil {
		if _, ok := c.store.Lookup(cc.AccessToken); ok {
			return true
		}
	}
	if cc.APIKey == "" {
		return false
	}
	presented := []byte(cc.APIKey)
	match := 0
	for _, k := range c.apiKeys {
		match |= subtle.ConstantTimeCompare(presented, k)
	}
	return match == 1
}
