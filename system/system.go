// Package system holds the handlers every dispatcher serves under the "System" target:
// a liveness probe and the server half of the session-key bootstrap.
package system

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sealed-rpc/access"
	"sealed-rpc/bootstrap"
	"sealed-rpc/codec"
	"sealed-rpc/message"
	"sealed-rpc/seal"
	"sealed-rpc/server"
	"sealed-rpc/session"
)

const (
	MethodPing   = "System.Ping"
	MethodLogin  = "System.Login"
	MethodLogout = "System.Logout"
)

// TypePrefix admits this package's request and response types through a codec allow-list.
var TypePrefix = reflect.TypeOf(PingRequest{}).PkgPath() + "."

type PingRequest struct {
	ClientName string `json:"clientName" msgpack:"clientName"`
}

type PingResponse struct {
	Status     string    `json:"status" msgpack:"status"`
	ClientName string    `json:"clientName" msgpack:"clientName"`
	ServerTime time.Time `json:"serverTime" msgpack:"serverTime"`
}

// LoginRequest carries the client's ephemeral public key (PEM, PKIX).
type LoginRequest struct {
	PublicKey  string `json:"publicKey" msgpack:"publicKey"`
	ClientName string `json:"clientName" msgpack:"clientName"`
}

// LoginResponse carries the session KeySet encrypted to the request's public key.
type LoginResponse struct {
	Algorithm   string    `json:"algorithm" msgpack:"algorithm"`
	KeySet      string    `json:"keySet" msgpack:"keySet"` // base64 RSA-OAEP ciphertext of the combined key
	AccessToken string    `json:"accessToken" msgpack:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt" msgpack:"expiresAt"`
}

type LogoutRequest struct{}

type LogoutResponse struct {
	Revoked bool `json:"revoked" msgpack:"revoked"`
}

// RegisterTypes makes the System payload types restorable by types, which must admit
// TypePrefix. Clients call this so they can read Encoded login responses.
func RegisterTypes(types *codec.TypeRegistry) error {
	return types.Register(PingRequest{}, PingResponse{}, LoginRequest{}, LoginResponse{}, LogoutRequest{}, LogoutResponse{})
}

// Service implements the System handlers.
type Service struct {
	store     *session.Store
	shared    *seal.KeySet
	algorithm string
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Service)

// WithSharedKey switches Login to the legacy mode: every client receives the same key.
func WithSharedKey(k *seal.KeySet) Option { return func(s *Service) { s.shared = k } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New creates the service. Fresh session keys are generated for algorithm, which must
// match the dispatcher pipeline's AEAD.
func New(store *session.Store, algorithm string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("system: a session store is required")
	}
	if _, err := seal.ForAlgorithm(algorithm); err != nil {
		return nil, err
	}
	s := &Service{
		store:     store,
		algorithm: algorithm,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.shared != nil && s.shared.Algorithm != algorithm {
		return nil, fmt.Errorf("system: shared key is for %s, pipeline uses %s", s.shared.Algorithm, algorithm)
	}
	return s, nil
}

// Register adds the System handlers to reg with their access rules.
func (s *Service) Register(reg *server.Registry) error {
	return multierr.Combine(
		server.Register(reg, MethodPing, s.Ping),
		server.Register(reg, MethodLogin, s.Login, server.Protected(access.EncodedRequired)),
		server.Register(reg, MethodLogout, s.Logout, server.Authenticated()),
	)
}

func (s *Service) Ping(_ context.Context, req PingRequest) (PingResponse, error) {
	return PingResponse{Status: "ok", ClientName: req.ClientName, ServerTime: s.now().UTC()}, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	if req.PublicKey == "" {
		return LoginResponse{}, message.Errorf(message.CodeInvalidParams, "publicKey is required")
	}
	pub, err := bootstrap.ParsePublicKey(req.PublicKey)
	if err != nil {
		return LoginResponse{}, message.Errorf(message.CodeInvalidParams, "invalid public key: %v", err)
	}

	key := s.shared
	if key == nil {
		if key, err = seal.GenerateKeySet(s.algorithm); err != nil {
			return LoginResponse{}, err
		}
	}
	ciphertext, err := bootstrap.EncryptWithPublic(key.Combined(), pub)
	if err != nil {
		return LoginResponse{}, err
	}

	sess := s.store.Create(req.ClientName, key)
	fields := []zap.Field{zap.String("client", req.ClientName), zap.Bool("shared", s.shared != nil)}
	if cc, ok := server.CallContextFrom(ctx); ok {
		fields = append(fields, zap.String("remote", cc.RemoteAddr))
	}
	s.logger.Info("session created", fields...)

	return LoginResponse{
		Algorithm:   key.Algorithm,
		KeySet:      base64.StdEncoding.EncodeToString(ciphertext),
		AccessToken: sess.Token,
		ExpiresAt:   sess.ExpiresAt,
	}, nil
}

func (s *Service) Logout(ctx context.Context, _ LogoutRequest) (LogoutResponse, error) {
	cc, _ := server.CallContextFrom(ctx)
	if cc.AccessToken == "" {
		return LogoutResponse{}, nil
	}
	return LogoutResponse{Revoked: s.store.Revoke(cc.AccessToken)}, nil
}
