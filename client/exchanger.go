package client

import (
	"context"
	"encoding/json"
	"fmt"

	"sealed-rpc/access"
	"sealed-rpc/message"
	"sealed-rpc/transport"
)

// Exchanger delivers one request envelope and returns its response. For one-way
// requests (meta.OneWay) the response is nil.
type Exchanger interface {
	Exchange(ctx context.Context, meta transport.Metadata, req *message.Request) (*message.Response, error)
	// Local reports whether requests stay in-process.
	Local() bool
}

// Handler is the envelope-level entry of a dispatcher.
type Handler interface {
	Handle(ctx context.Context, cc access.CallContext, req *message.Request) *message.Response
}

type remote struct {
	adapter  transport.Adapter
	endpoint string
}

// Remote sends JSON envelopes to endpoint through adapter. With a transport.Discovered
// adapter the endpoint is a service name.
func Remote(adapter transport.Adapter, endpoint string) Exchanger {
	return &remote{adapter: adapter, endpoint: endpoint}
}

func (r *remote) Local() bool { return false }

func (r *remote) Exchange(ctx context.Context, meta transport.Metadata, req *message.Request) (*message.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	out, err := r.adapter.RoundTrip(ctx, r.endpoint, meta, body)
	if err != nil || meta.OneWay {
		return nil, err
	}
	var resp message.Response
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return &resp, nil
}

type local struct {
	h Handler
}

// Local hands envelopes straight to h. Values in Plain payloads are passed by reference
// without serialization.
func Local(h Handler) Exchanger {
	return &local{h: h}
}

func (l *local) Local() bool { return true }

func (l *local) Exchange(ctx context.Context, meta transport.Metadata, req *message.Request) (*message.Response, error) {
	cc := access.CallContext{Local: true, AccessToken: meta.AccessToken, APIKey: meta.APIKey}
	resp := l.h.Handle(ctx, cc, req)
	if meta.OneWay {
		return nil, nil
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return resp, nil
}
