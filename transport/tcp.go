package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TCP is an Adapter over framed, multiplexed TCP connections. It keeps a small pool of
// ClientTransports per endpoint and spreads calls across them round-robin; a broken
// connection is redialed on its next use.
type TCP struct {
	poolSize    int
	dialTimeout time.Duration
	heartbeat   time.Duration
	logger      *zap.Logger

	mu    sync.Mutex
	pools map[string]*tcpPool
}

type tcpPool struct {
	mu    sync.Mutex
	slots []*ClientTransport
	next  atomic.Uint32
}

type TCPOption func(*TCP)

func WithPoolSize(n int) TCPOption { return func(a *TCP) { a.poolSize = n } }

func WithDialTimeout(d time.Duration) TCPOption { return func(a *TCP) { a.dialTimeout = d } }

// WithHeartbeat sets the keep-alive interval; zero disables heartbeats.
func WithHeartbeat(d time.Duration) TCPOption { return func(a *TCP) { a.heartbeat = d } }

func WithTCPLogger(l *zap.Logger) TCPOption { return func(a *TCP) { a.logger = l } }

func NewTCP(opts ...TCPOption) *TCP {
	a := &TCP{
		poolSize:    2,
		dialTimeout: 5 * time.Second,
		heartbeat:   30 * time.Second,
		logger:      zap.NewNop(),
		pools:       make(map[string]*tcpPool),
	}
	for _, o := range opts {
		o(a)
	}
	if a.poolSize < 1 {
		a.poolSize = 1
	}
	return a
}

func (a *TCP) RoundTrip(ctx context.Context, endpoint string, meta Metadata, body []byte) ([]byte, error) {
	ct, err := a.transport(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	seq, ch, err := ct.Send(meta, body)
	if err != nil {
		return nil, fmt.Errorf("transport: send to %s: %w", endpoint, err)
	}
	if meta.OneWay {
		return nil, nil
	}
	select {
	case r := <-ch:
		return r.body, r.err
	case <-ctx.Done():
		ct.Forget(seq)
		return nil, ctx.Err()
	}
}

// transport returns a live connection to addr, dialing lazily.
func (a *TCP) transport(ctx context.Context, addr string) (*ClientTransport, error) {
	a.mu.Lock()
	pool, ok := a.pools[addr]
	if !ok {
		pool = &tcpPool{slots: make([]*ClientTransport, a.poolSize)}
		a.pools[addr] = pool
	}
	a.mu.Unlock()

	i := int(pool.next.Add(1)-1) % len(pool.slots)
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if ct := pool.slots[i]; ct != nil && !ct.Closed() {
		return ct, nil
	}

	d := net.Dialer{Timeout: a.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	a.logger.Debug("connected", zap.String("addr", addr), zap.Int("slot", i))
	ct := NewClientTransport(conn, a.heartbeat)
	pool.slots[i] = ct
	return ct, nil
}

// Close closes every pooled connection.
func (a *TCP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for addr, pool := range a.pools {
		pool.mu.Lock()
		for _, ct := range pool.slots {
			if ct != nil {
				ct.Close()
			}
		}
		pool.mu.Unlock()
		delete(a.pools, addr)
	}
	return nil
}
