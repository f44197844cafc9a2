// Package transport moves envelope bytes between a connector and a remote dispatcher.
//
// An Adapter only knows "given an endpoint and request bytes, return response bytes";
// everything about payload formats and errors lives in the envelope it carries.
//
//	client.Remote ──► Adapter.RoundTrip(endpoint, meta, body)
//	                     ├── TCP          multiplexed frames (protocol package)
//	                     ├── HTTP         POST with Authorization / X-Api-Key headers
//	                     ├── Retry        wraps another Adapter, retries transient failures
//	                     └── Discovered   endpoint = service name, resolved via discovery + loadbalance
package transport

import (
	"context"
	"errors"
)

// Metadata travels beside the envelope, never inside it.
type Metadata struct {
	AccessToken string
	APIKey      string
	OneWay      bool // fire-and-forget: no response is awaited and RoundTrip returns nil bytes
}

type Adapter interface {
	RoundTrip(ctx context.Context, endpoint string, meta Metadata, body []byte) ([]byte, error)
}

// AdapterFunc lets a function act as an Adapter.
type AdapterFunc func(ctx context.Context, endpoint string, meta Metadata, body []byte) ([]byte, error)

func (f AdapterFunc) RoundTrip(ctx context.Context, endpoint string, meta Metadata, body []byte) ([]byte, error) {
	return f(ctx, endpoint, meta, body)
}

var ErrTransportClosed = errors.New("transport: connection closed")
