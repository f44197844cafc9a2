package transport

import (
	"net"
	"sync"
	"time"

	"sealed-rpc/protocol"
)

// ClientTransport multiplexes concurrent calls over a single TCP connection.
//
// Each request gets a unique sequence ID, and a background goroutine (recvLoop) reads
// responses and routes them to the waiting caller through its pending channel.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan → goroutine-2 wakes up
type ClientTransport struct {
	conn    net.Conn
	seq     uint32     // protected by sending
	pending sync.Map   // map[uint32]chan reply, one channel per outstanding call
	sending sync.Mutex // a frame must be written whole, or two calls corrupt the stream

	closed    chan struct{}
	closeOnce sync.Once
}

type reply struct {
	body []byte
	err  error
}

// NewClientTransport takes ownership of conn and starts recvLoop, plus heartbeatLoop when
// heartbeat is positive.
func NewClientTransport(conn net.Conn, heartbeat time.Duration) *ClientTransport {
	t := &ClientTransport{
		conn:   conn,
		closed: make(chan struct{}),
	}
	go t.recvLoop()
	if heartbeat > 0 {
		go t.heartbeatLoop(heartbeat)
	}
	return t
}

// Send writes one request frame. The returned channel receives exactly one reply, or
// is nil for one-way requests.
func (t *ClientTransport) Send(meta Metadata, body []byte) (uint32, <-chan reply, error) {
	t.sending.Lock()
	defer t.sending.Unlock()

	if t.Closed() {
		return 0, nil, ErrTransportClosed
	}
	t.seq++
	seq := t.seq

	header := protocol.Header{MsgType: protocol.MsgTypeRequest, Seq: seq}
	var ch chan reply
	if meta.OneWay {
		header.Flags |= protocol.FlagOneWay
	} else {
		// register before writing so recvLoop cannot miss a fast response
		ch = make(chan reply, 1)
		t.pending.Store(seq, ch)
	}

	err := protocol.Encode(t.conn, &header, protocol.Metadata{AccessToken: meta.AccessToken, APIKey: meta.APIKey}, body)
	if err != nil {
		t.pending.Delete(seq)
		t.Close()
		return 0, nil, err
	}
	return seq, ch, nil
}

// Forget drops the pending channel of an abandoned call; a late response is discarded.
func (t *ClientTransport) Forget(seq uint32) {
	t.pending.Delete(seq)
}

// recvLoop is the only reader: TCP is a byte stream, and frame boundaries can only be
// parsed sequentially.
func (t *ClientTransport) recvLoop() {
	for {
		header, _, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.Close()
			t.failAllPending(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}
		if ch, ok := t.pending.LoadAndDelete(header.Seq); ok {
			ch.(chan reply) <- reply{body: body}
		}
	}
}

// failAllPending wakes every waiting caller when the connection breaks.
func (t *ClientTransport) failAllPending(cause error) {
	t.pending.Range(func(key, value any) bool {
		if _, ok := t.pending.LoadAndDelete(key); ok {
			value.(chan reply) <- reply{err: &closedError{cause: cause}}
		}
		return true
	})
}

// heartbeatLoop keeps idle connections alive. Heartbeat frames have no body.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
		}
		t.sending.Lock()
		err := protocol.Encode(t.conn, &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}, protocol.Metadata{}, nil)
		t.sending.Unlock()
		if err != nil {
			t.Close()
			return
		}
	}
}

func (t *ClientTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

func (t *ClientTransport) Closed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// closedError reports a broken connection; it matches ErrTransportClosed.
type closedError struct{ cause error }

func (e *closedError) Error() string        { return "transport: connection closed: " + e.cause.Error() }
func (e *closedError) Unwrap() error        { return e.cause }
func (e *closedError) Is(target error) bool { return target == ErrTransportClosed }
