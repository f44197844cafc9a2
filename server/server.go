// Package server hosts the dispatcher: it owns the handler registry, the per-request
// state machine, and the TCP and HTTP hosts that feed bytes into it.
//
// TCP request processing:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Dispatcher.Dispatch → middleware chain → state machine → write response frame
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sealed-rpc/access"
	"sealed-rpc/discovery"
	"sealed-rpc/protocol"
)

// Server is the framed TCP host for a Dispatcher.
type Server struct {
	dispatcher *Dispatcher
	logger     *zap.Logger

	mu       sync.Mutex // guards listener and advertiseAddr
	listener net.Listener
	wg       sync.WaitGroup // in-flight requests, for graceful shutdown
	admitMu  sync.Mutex     // orders wg.Add against setting shutdown
	shutdown atomic.Bool    // set before the listener closes so Accept errors are expected
	conns    sync.Map       // net.Conn → struct{}, closed on shutdown

	baseCtx context.Context
	cancel  context.CancelFunc

	registry      discovery.Registry // nil if not using discovery
	service       string
	advertiseAddr string // routable address published in the registry, not the listen address
	ttl           int64
}

type ServerOption func(*Server)

func WithServerLogger(l *zap.Logger) ServerOption { return func(s *Server) { s.logger = l } }

// WithDiscovery publishes the server under service at advertiseAddr once it is listening.
func WithDiscovery(reg discovery.Registry, service, advertiseAddr string, ttl int64) ServerOption {
	return func(s *Server) {
		s.registry = reg
		s.service = service
		s.advertiseAddr = advertiseAddr
		s.ttl = ttl
	}
}

func NewServer(d *Dispatcher, opts ...ServerOption) *Server {
	s := &Server{dispatcher: d, logger: zap.NewNop(), ttl: 10}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	for _, o := range opts {
		o(s)
	}
	return s
}

// Serve listens on address and serves until Shutdown.
func (s *Server) Serve(network, address string) error {
	l, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(l)
}

// ServeListener serves on an existing listener. It returns nil after Shutdown.
func (s *Server) ServeListener(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	if s.advertiseAddr == "" {
		s.advertiseAddr = l.Addr().String()
	}
	addr := s.advertiseAddr
	s.mu.Unlock()
	if s.shutdown.Load() {
		return l.Close()
	}

	if s.registry != nil {
		ep := discovery.Endpoint{Addr: addr, Transport: discovery.TransportTCP, Weight: 1}
		if err := s.registry.Register(s.baseCtx, s.service, ep, s.ttl); err != nil {
			l.Close()
			return fmt.Errorf("server: register %s: %w", s.service, err)
		}
		s.logger.Info("registered endpoint", zap.String("service", s.service), zap.String("addr", addr))
	}
	s.logger.Info("serving", zap.Stringer("addr", l.Addr()))

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Addr is the listener address, or nil before serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConn reads frames sequentially and dispatches each request on its own goroutine.
// Response writes share a per-connection lock so frames never interleave.
func (s *Server) handleConn(conn net.Conn) {
	s.conns.Store(conn, struct{}{})
	defer func() {
		s.conns.Delete(conn)
		conn.Close()
	}()

	writeMu := &sync.Mutex{}
	remote := conn.RemoteAddr().String()
	for {
		header, meta, body, err := protocol.Decode(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !s.shutdown.Load() {
				s.logger.Debug("connection closed", zap.String("remote", remote), zap.Error(err))
			}
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		if header.MsgType != protocol.MsgTypeRequest {
			s.logger.Warn("unexpected frame type", zap.String("remote", remote), zap.Uint8("type", uint8(header.MsgType)))
			continue
		}

		cc := access.CallContext{
			AccessToken: meta.AccessToken,
			APIKey:      meta.APIKey,
			RemoteAddr:  remote,
		}
		if !s.admit() {
			s.logger.Debug("dropping request during shutdown", zap.String("remote", remote), zap.Uint32("seq", header.Seq))
			return
		}
		go s.handleRequest(header, cc, body, conn, writeMu)
	}
}

// admit registers an in-flight request unless shutdown has begun.
func (s *Server) admit() bool {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) handleRequest(header *protocol.Header, cc access.CallContext, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer s.wg.Done()

	out := s.dispatcher.Dispatch(s.baseCtx, cc, body)
	if header.Flags&protocol.FlagOneWay != 0 {
		return
	}

	reply := protocol.Header{
		MsgType: protocol.MsgTypeResponse,
		Seq:     header.Seq, // same seq as the request, this is how multiplexing works
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.Encode(conn, &reply, protocol.Metadata{}, out); err != nil {
		s.logger.Warn("write response", zap.String("remote", cc.RemoteAddr), zap.Error(err))
	}
}

// Shutdown stops the server gracefully:
//  1. Deregister from discovery so clients stop routing here
//  2. Set the shutdown flag, then close the listener
//  3. Wait for in-flight requests (bounded by timeout)
//  4. Cancel handler contexts and close remaining connections
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	l, addr := s.listener, s.advertiseAddr
	s.mu.Unlock()

	var errs error
	if s.registry != nil && l != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		errs = multierr.Append(errs, s.registry.Deregister(ctx, s.service, addr))
		cancel()
	}

	s.admitMu.Lock()
	s.shutdown.Store(true)
	s.admitMu.Unlock()
	if l != nil {
		l.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		errs = multierr.Append(errs, errors.New("server: timeout waiting for ongoing requests to finish"))
	}

	s.cancel()
	s.conns.Range(func(k, _ any) bool {
		k.(net.Conn).Close()
		return true
	})
	return errs
}
