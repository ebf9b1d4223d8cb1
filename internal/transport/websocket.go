// Package transport serves the room protocol over WebSocket.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"syncboard/internal/handlers"
	"syncboard/internal/middleware"
	"syncboard/internal/object"
	"syncboard/internal/user"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Options configures the socket endpoint.
type Options struct {
	// AllowedOrigins: empty or "*" accepts any Origin
	AllowedOrigins []string
	Limits         middleware.Limits
	SendBuffer     int
	// MessageTimeout bounds the store work one message may trigger
	MessageTimeout time.Duration
}

// Handler upgrades HTTP requests and runs one read loop per connection.
type Handler struct {
	router   *handlers.MessageRouter
	ipLimit  *middleware.IPRateLimit
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*user.Session
}

func NewHandler(router *handlers.MessageRouter, ipLimit *middleware.IPRateLimit, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		router:   router,
		ipLimit:  ipLimit,
		opts:     opts,
		logger:   logger.With("component", "transport"),
		sessions: make(map[string]*user.Session),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}

	for _, allowed := range h.opts.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// GetClientIP: RemoteAddr without the port. Behind a proxy the server's
// RealIP middleware has already rewritten RemoteAddr.
func GetClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ServeHTTP upgrades the connection and runs it until the peer goes away.
// An optional ?token= carries the sign-in token the session identity is
// read from.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := GetClientIP(r)
	if h.ipLimit != nil && !h.ipLimit.Allow(clientIP) {
		h.logger.Warn("connection rate limit exceeded", "ip", clientIP)
		http.Error(w, "Too many connections", http.StatusTooManyRequests)
		return
	}

	userID, err := user.UserIDFromToken(r.URL.Query().Get("token"))
	if err != nil {
		h.logger.Debug("ignoring unreadable token", "ip", clientIP, "error", err)
		userID = ""
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request
		h.logger.Debug("upgrade failed", "ip", clientIP, "error", err)
		return
	}

	session := user.NewSession(conn, userID, h.opts.SendBuffer, h.opts.Limits.NewMessageLimiter())
	h.track(session)
	defer h.untrack(session)

	logger := h.logger.With("session", session.ID, "user", userID)
	logger.Info("connected", "ip", clientIP)

	go func() {
		if err := session.WritePump(pingPeriod, writeWait); err != nil && !errors.Is(err, user.ErrSessionClosed) {
			logger.Debug("write pump stopped", "error", err)
		}
	}()

	welcome, err := handlers.Welcome(session.ID, userID)
	if err == nil {
		session.Send(welcome)
	}

	h.run(r.Context(), conn, session, logger)

	h.router.Disconnect(session)
	session.Close()
	logger.Info("disconnected")
}

// run handles the message loop for one connection
func (h *Handler) run(ctx context.Context, conn *websocket.Conn, session *user.Session, logger *slog.Logger) {
	if limit := h.opts.Limits.MaxMessageSize; limit > 0 {
		// hard cap; anything over MaxMessageSize is dropped below
		conn.SetReadLimit(int64(limit) * 2)
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("read failed", "error", err)
			}
			return // Connection dead
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if !h.opts.Limits.ValidateMessageSize(len(msg)) {
			logger.Warn("message too large", "bytes", len(msg))
			continue
		}

		if !session.RateLimiter.Allow() {
			logger.Warn("message rate limit exceeded")
			continue
		}

		h.route(ctx, session, msg, logger)
	}
}

func (h *Handler) route(ctx context.Context, session *user.Session, msg []byte, logger *slog.Logger) {
	if h.opts.MessageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.MessageTimeout)
		defer cancel()
	}

	err := h.router.Route(ctx, session, msg)
	switch {
	case err == nil:
	case errors.Is(err, object.ErrMalformedBatch),
		errors.Is(err, handlers.ErrInvalidMessage),
		errors.Is(err, handlers.ErrUnknownMessage),
		errors.Is(err, handlers.ErrMissingRoom):
		logger.Debug("message dropped", "error", err)
	default:
		logger.Warn("message failed", "error", err)
	}
}

func (h *Handler) track(s *user.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.ID] = s
}

func (h *Handler) untrack(s *user.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s.ID)
}

// Count: live connections
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CloseAll closes every live connection; their read loops then tear down
// room membership as on any disconnect.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	sessions := make([]*user.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
