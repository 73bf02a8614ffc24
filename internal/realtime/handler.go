// ABOUTME: WebSocket endpoint that attaches authenticated clients to the presence registry
// ABOUTME: Adapts coder/websocket connections to presence.Connection with per-frame write deadlines

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/presence"
)

// DefaultWriteTimeout bounds a single frame write when Options leaves it unset
const DefaultWriteTimeout = 5 * time.Second

// Options tunes the endpoint
type Options struct {
	// WriteTimeout bounds each frame write; a connection that cannot take a
	// frame in time is dropped
	WriteTimeout time.Duration
	// OriginPatterns lists cross-origin hosts allowed to connect, in
	// websocket.AcceptOptions syntax. Same-origin is always allowed.
	OriginPatterns []string
}

// Conn is a presence.Connection backed by a WebSocket
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

// NewConn wraps ws. A zero writeTimeout uses DefaultWriteTimeout.
func NewConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Conn{ws: ws, writeTimeout: writeTimeout}
}

// Send writes one text frame. The write is detached from ctx cancellation,
// since cancelling a coder/websocket write tears the connection down, and
// is bounded by the write timeout instead.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Close sends a going-away close frame
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusGoingAway, "server closing connection")
}

// CloseNow drops the connection without waiting for the peer to answer the
// close handshake
func (c *Conn) CloseNow() error {
	return c.ws.CloseNow()
}

type handler struct {
	registry *presence.Registry
	opts     Options
	logger   *slog.Logger
}

// Handler serves the updates endpoint. Callers authenticate with a bearer
// token (header or ?token=), are upgraded to a WebSocket and receive every
// event addressed to them until they disconnect. Inbound frames are read
// and discarded. Pass nil logger for default.
func Handler(registry *presence.Registry, verifier auth.TokenVerifier, opts Options, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	h := &handler{
		registry: registry,
		opts:     opts,
		logger:   logger.With("component", "realtime"),
	}
	return auth.HTTPAuthMiddleware(verifier, logger)(h)
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustFromContext(r.Context()).UserID

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		// Accept has already written the HTTP error
		h.logger.Debug("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	defer ws.CloseNow()

	ctx := r.Context()
	conn := NewConn(ws, h.opts.WriteTimeout)

	if err := h.registry.Register(ctx, userID, conn); err != nil {
		if errors.Is(err, presence.ErrClosed) {
			ws.Close(websocket.StatusTryAgainLater, "server shutting down")
			return
		}
		h.logger.Error("registering connection", "user_id", userID, "error", err)
		ws.Close(websocket.StatusInternalError, "registration failed")
		return
	}
	defer h.registry.Unregister(context.WithoutCancel(ctx), userID, conn)

	h.logger.Debug("client connected", "user_id", userID, "remote_addr", r.RemoteAddr)

	for {
		if _, _, err := ws.Read(ctx); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				h.logger.Debug("client disconnected", "user_id", userID)
			} else {
				h.logger.Debug("client read ended", "user_id", userID, "error", err)
			}
			return
		}
	}
}
