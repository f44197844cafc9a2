// Package client is the calling side of sealed-rpc.
//
// A Connector mirrors the dispatcher's pipeline in reverse:
//
//	BuildRequest → SelectFormat → EncodePayload → Send → inspect Error → RestorePayload
//
// It is bound to one Exchanger: Remote sends JSON envelopes over a transport.Adapter,
// Local hands envelopes to an in-process dispatcher.
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sealed-rpc/bootstrap"
	"sealed-rpc/codec"
	"sealed-rpc/message"
	"sealed-rpc/seal"
	"sealed-rpc/system"
	"sealed-rpc/transport"
)

// Session is the client's half of a login.
type Session struct {
	AccessToken string
	Key         *seal.KeySet
	ExpiresAt   time.Time
}

// CallError is a failure reported by the server in the response envelope.
type CallError struct {
	Method  string
	Code    int
	Message string
	Data    any
}

func (e *CallError) Error() string {
	return fmt.Sprintf("client: %s failed: %s (code %d)", e.Method, e.Message, e.Code)
}

// Unwrap exposes the protocol error so callers can errors.As into *message.Error.
func (e *CallError) Unwrap() error {
	return &message.Error{Code: e.Code, Message: e.Message, Data: e.Data}
}

// Connector performs calls. It is safe for concurrent use; Login and SetSession swap the
// session atomically with respect to in-flight calls.
type Connector struct {
	ex       Exchanger
	pipeline *codec.Pipeline
	debug    bool
	apiKey   string
	keyBits  int
	observer Observer
	logger   *zap.Logger

	mu   sync.RWMutex
	sess *Session
}

type Option func(*Connector)

// WithPipeline replaces the default JSON/no-compression/CBC-HMAC pipeline. Its type
// registry must admit system.TypePrefix.
func WithPipeline(p *codec.Pipeline) Option { return func(c *Connector) { c.pipeline = p } }

// WithDebug keeps the requested format on local connectors so the codec runs in-process.
func WithDebug(on bool) Option { return func(c *Connector) { c.debug = on } }

// WithAPIKey sends a service credential with every call.
func WithAPIKey(key string) Option { return func(c *Connector) { c.apiKey = key } }

// WithKeyBits sets the size of the ephemeral login key pair.
func WithKeyBits(bits int) Option { return func(c *Connector) { c.keyBits = bits } }

func WithObserver(o Observer) Option { return func(c *Connector) { c.observer = o } }

func WithLogger(l *zap.Logger) Option { return func(c *Connector) { c.logger = l } }

func New(ex Exchanger, opts ...Option) (*Connector, error) {
	if ex == nil {
		return nil, errors.New("client: an exchanger is required")
	}
	c := &Connector{
		ex:       ex,
		keyBits:  bootstrap.DefaultBits,
		observer: nopObserver{},
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.pipeline == nil {
		c.pipeline = codec.NewPipeline(codec.Options{Types: codec.NewTypeRegistry(system.TypePrefix)})
	}
	if err := system.RegisterTypes(c.pipeline.Types()); err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	return c, nil
}

// Pipeline returns the codec; register application types with its TypeRegistry.
func (c *Connector) Pipeline() *codec.Pipeline { return c.pipeline }

// SelectFormat forces Plain on local connectors outside debug mode.
func (c *Connector) SelectFormat(requested message.Format) message.Format {
	if c.ex.Local() && !c.debug {
		return message.Plain
	}
	return requested
}

// Session returns the current session, or nil before Login.
func (c *Connector) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

// SetSession installs a session directly, bypassing Login.
func (c *Connector) SetSession(s *Session) {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
}

// Call invokes method with params and stores the restored result into result, which
// must be a pointer or nil. Nil params send no payload value, but a non-Plain format is
// still declared so the result comes back in that format.
func (c *Connector) Call(ctx context.Context, method string, params, result any, format message.Format) error {
	_, err := c.call(ctx, method, params, result, format, uuid.NewString())
	return err
}

// CallTarget is Call with the method given as its two segments.
func (c *Connector) CallTarget(ctx context.Context, target, action string, params, result any, format message.Format) error {
	return c.Call(ctx, target+"."+action, params, result, format)
}

// Notify sends a request without an ID. The server runs it and sends nothing back.
func (c *Connector) Notify(ctx context.Context, method string, params any, format message.Format) error {
	_, err := c.call(ctx, method, params, nil, format, "")
	return err
}

func (c *Connector) call(ctx context.Context, method string, params, result any, requested message.Format, id string) (*message.Response, error) {
	format := c.SelectFormat(requested)
	sess := c.Session()

	var key *seal.KeySet
	meta := transport.Metadata{APIKey: c.apiKey, OneWay: id == ""}
	if sess != nil {
		key = sess.Key
		meta.AccessToken = sess.AccessToken
	}

	req := &message.Request{JSONRPC: message.Version, Method: method, ID: id}
	if params != nil || format != message.Plain {
		pl, err := c.pipeline.Encode(params, format, key)
		if err != nil {
			return nil, fmt.Errorf("client: encode %s params: %w", method, err)
		}
		req.Params = &pl
	}
	c.observer.Request(method, params, req.Params)

	resp, err := c.ex.Exchange(ctx, meta, req)
	if err != nil {
		return nil, fmt.Errorf("client: %s: %w", method, err)
	}
	if meta.OneWay {
		return nil, nil
	}
	if resp.Error != nil {
		c.observer.Response(method, nil, nil)
		return resp, &CallError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}
	}
	if resp.ID != id {
		c.logger.Warn("response id mismatch", zap.String("method", method), zap.String("sent", id), zap.String("got", resp.ID))
	}

	v, err := c.pipeline.Decode(*resp.Result, format, key)
	if err != nil {
		return resp, fmt.Errorf("client: restore %s result: %w", method, err)
	}
	c.observer.Response(method, resp.Result, v)
	if result == nil {
		return resp, nil
	}
	if err := codec.Assign(result, v); err != nil {
		return resp, fmt.Errorf("client: %s result: %w", method, err)
	}
	return resp, nil
}

// Login bootstraps a session key: an ephemeral RSA key pair is generated, its public half
// sent with System.Login in Encoded form, and the returned KeySet decrypted with the
// private half, which is then dropped. The new session replaces any previous one.
func (c *Connector) Login(ctx context.Context, clientName string) (*Session, error) {
	kp, err := bootstrap.GenerateKeyPair(c.keyBits)
	if err != nil {
		return nil, err
	}
	pub, err := bootstrap.MarshalPublicKey(kp.Public)
	if err != nil {
		return nil, err
	}

	var resp system.LoginResponse
	req := system.LoginRequest{PublicKey: pub, ClientName: clientName}
	if err := c.Call(ctx, system.MethodLogin, req, &resp, message.Encoded); err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(resp.KeySet)
	if err != nil {
		return nil, fmt.Errorf("client: login key set: %w", err)
	}
	combined, err := bootstrap.DecryptWithPrivate(ciphertext, kp.Private)
	if err != nil {
		return nil, err
	}
	key, err := seal.KeySetFromCombined(resp.Algorithm, combined)
	if err != nil {
		return nil, err
	}
	if key.Algorithm != c.pipeline.Algorithm() {
		return nil, fmt.Errorf("client: server issued a %s key, pipeline uses %s", key.Algorithm, c.pipeline.Algorithm())
	}

	sess := &Session{AccessToken: resp.AccessToken, Key: key, ExpiresAt: resp.ExpiresAt}
	c.SetSession(sess)
	c.logger.Info("logged in", zap.String("client", clientName), zap.Time("expires", sess.ExpiresAt))
	return sess, nil
}

// Logout revokes the current session on the server and forgets it locally.
func (c *Connector) Logout(ctx context.Context) error {
	var out system.LogoutResponse
	err := c.Call(ctx, system.MethodLogout, system.LogoutRequest{}, &out, message.Plain)
	c.SetSession(nil)
	return err
}

// Ping calls System.Ping in Plain form.
func (c *Connector) Ping(ctx context.Context, clientName string) (*system.PingResponse, error) {
	var out system.PingResponse
	if err := c.Call(ctx, system.MethodPing, system.PingRequest{ClientName: clientName}, &out, message.Plain); err != nil {
		return nil, err
	}
	return &out, nil
}
