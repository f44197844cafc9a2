package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sealed-rpc/protocol"
)

// HTTP is an Adapter that POSTs the envelope to a URL.
type HTTP struct {
	client *http.Client
}

// StatusError is a non-2xx HTTP status. Protocol errors arrive with status 200 inside
// the envelope, so this always means the host itself failed.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("transport: received status code %d", e.Code) }

// NewHTTP uses client, or a client with a 30 second timeout when nil.
func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTP{client: client}
}

// RoundTrip posts body to endpoint. An endpoint without a scheme gets "http://".
func (a *HTTP) RoundTrip(ctx context.Context, endpoint string, meta Metadata, body []byte) ([]byte, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if meta.AccessToken != "" {
		req.Header.Set(protocol.HeaderAuthorization, "Bearer "+meta.AccessToken)
	}
	if meta.APIKey != "" {
		req.Header.Set(protocol.HeaderAPIKey, meta.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: issue request: %w", err)
	}
	defer CleanlyCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	if meta.OneWay {
		return nil, nil
	}
	out, err := io.ReadAll(io.LimitReader(resp.Body, protocol.MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("transport: read response: %w", err)
	}
	if len(out) > protocol.MaxBodySize {
		return nil, protocol.ErrBodyTooLarge
	}
	return out, nil
}

// CleanlyCloseBody drains and closes an HTTP response body so the connection can be
// reused instead of being torn down with unread data.
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}
