package server

import (
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"sealed-rpc/access"
	"sealed-rpc/protocol"
)

const bearerPrefix = "Bearer "

// HTTPHandler serves the dispatcher over HTTP POST. Protocol errors travel inside the
// JSON envelope with status 200; only transport problems use HTTP status codes.
type HTTPHandler struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewHTTPHandler(d *Dispatcher, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{dispatcher: d, logger: logger}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, protocol.MaxBodySize))
	if err != nil {
		h.logger.Info("read request body", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "request body too large or unreadable", http.StatusRequestEntityTooLarge)
		return
	}

	cc := access.CallContext{
		AccessToken: bearerToken(r.Header.Get(protocol.HeaderAuthorization)),
		APIKey:      r.Header.Get(protocol.HeaderAPIKey),
		RemoteAddr:  r.RemoteAddr,
	}
	out := h.dispatcher.Dispatch(r.Context(), cc, body)

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(out); err != nil {
		h.logger.Debug("write response", zap.String("remote", r.RemoteAddr), zap.Error(err))
	}
}

func bearerToken(v string) string {
	if len(v) > len(bearerPrefix) && strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(v[len(bearerPrefix):])
	}
	return ""
}
