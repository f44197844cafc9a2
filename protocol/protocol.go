// Package protocol implements the binary frame used by the TCP host and adapter.
//
// A fixed-size 16-byte header is followed by the call metadata and a variable-length
// body. The receiver reads the header first to learn both lengths, then reads exactly
// that many bytes, which solves TCP's sticky packet problem.
//
// Frame format:
//
//	0      3  4  5  6         10    12        16
//	┌──────┬──┬──┬──┬─────────┬─────┬─────────┬──────────────┬───────────────┐
//	│magic │v │mt│fl│   seq   │mLen │ bodyLen │   metadata   │    body ...    │
//	│ srp  │01│  │  │ uint32  │u16  │ uint32  │ mLen bytes   │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────┴─────────┴──────────────┴───────────────┘
//
// The body is a JSON-RPC envelope. Metadata carries the caller's credentials outside the
// envelope, the way HTTP carries them in headers:
//
//	┌────────┬──────────────┬────────┬──────────┐
//	│ tokLen │ access token │ keyLen │ API key  │
//	│ uint16 │              │ uint16 │          │
//	└────────┴──────────────┴────────┴──────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Magic number bytes: "srp" (sealed rpc protocol).
// Used to reject non-protocol connections (e.g., HTTP clients hitting the wrong port).
const (
	MagicNumber byte = 0x73 // 's'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 16 // 3 (magic) + 1 (version) + 1 (msgType) + 1 (flags) + 4 (seq) + 2 (metaLen) + 4 (bodyLen)

	MaxBodySize = 64 << 20
)

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → Server RPC request
	MsgTypeResponse  MsgType = 1 // Server → Client RPC response
	MsgTypeHeartbeat MsgType = 2 // KeepAlive probe (no body)
)

// Flags modify how a frame is handled.
const (
	FlagOneWay byte = 1 << 0 // request without an id; the server sends no response frame
)

// HTTP header names carrying Metadata when the envelope travels over HTTP instead.
const (
	HeaderAuthorization = "Authorization" // "Bearer <access token>"
	HeaderAPIKey        = "X-Api-Key"
)

var ErrBodyTooLarge = errors.New("protocol: body exceeds maximum size")

// Header represents the fixed 16-byte frame header.
type Header struct {
	MsgType MsgType // Request, Response, or Heartbeat
	Flags   byte
	Seq     uint32 // Sequence ID, matches request ↔ response on a multiplexed connection
	MetaLen uint16 // Filled in by Encode
	BodyLen uint32 // Filled in by Encode
}

// Metadata is the per-call credential block. Both fields are optional.
type Metadata struct {
	AccessToken string
	APIKey      string
}

func (m Metadata) encode() ([]byte, error) {
	if len(m.AccessToken) > math.MaxUint16 || len(m.APIKey) > math.MaxUint16 {
		return nil, errors.New("protocol: metadata field too long")
	}
	if m.AccessToken == "" && m.APIKey == "" {
		return nil, nil
	}
	buf := make([]byte, 0, 4+len(m.AccessToken)+len(m.APIKey))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.AccessToken)))
	buf = append(buf, m.AccessToken...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.APIKey)))
	buf = append(buf, m.APIKey...)
	return buf, nil
}

func decodeMetadata(b []byte) (Metadata, error) {
	var m Metadata
	if len(b) == 0 {
		return m, nil
	}
	fields := make([]string, 2)
	for i := range fields {
		if len(b) < 2 {
			return m, errors.New("protocol: truncated metadata")
		}
		n := int(binary.BigEndian.Uint16(b))
		b = b[2:]
		if len(b) < n {
			return m, errors.New("protocol: truncated metadata")
		}
		fields[i] = string(b[:n])
		b = b[n:]
	}
	if len(b) != 0 {
		return m, errors.New("protocol: trailing metadata bytes")
	}
	m.AccessToken, m.APIKey = fields[0], fields[1]
	return m, nil
}

// Encode writes a complete frame (header + metadata + body) to w in a single Write.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different requests will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, meta Metadata, body []byte) error {
	if len(body) > MaxBodySize {
		return ErrBodyTooLarge
	}
	mb, err := meta.encode()
	if err != nil {
		return err
	}
	h.MetaLen = uint16(len(mb))
	h.BodyLen = uint32(len(body))

	buf := make([]byte, HeaderSize, HeaderSize+len(mb)+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = byte(h.MsgType)
	buf[5] = h.Flags
	// network byte order
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint16(buf[10:12], h.MetaLen)
	binary.BigEndian.PutUint32(buf[12:16], h.BodyLen)
	buf = append(buf, mb...)
	buf = append(buf, body...)

	_, err = w.Write(buf)
	return err
}

// Decode reads a complete frame from r.
// It validates the magic number, version, message type and body size before allocating.
func Decode(r io.Reader) (*Header, Metadata, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, Metadata{}, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, Metadata{}, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, Metadata{}, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	msgType := MsgType(headerBuf[4])
	if msgType != MsgTypeRequest && msgType != MsgTypeResponse && msgType != MsgTypeHeartbeat {
		return nil, Metadata{}, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	h := &Header{
		MsgType: msgType,
		Flags:   headerBuf[5],
		Seq:     binary.BigEndian.Uint32(headerBuf[6:10]),
		MetaLen: binary.BigEndian.Uint16(headerBuf[10:12]),
		BodyLen: binary.BigEndian.Uint32(headerBuf[12:16]),
	}
	if h.BodyLen > MaxBodySize {
		return nil, Metadata{}, nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, h.BodyLen)
	}

	rest := make([]byte, int(h.MetaLen)+int(h.BodyLen))
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, Metadata{}, nil, err
	}
	meta, err := decodeMetadata(rest[:h.MetaLen])
	if err != nil {
		return nil, Metadata{}, nil, err
	}
	return h, meta, rest[h.MetaLen:], nil
}
