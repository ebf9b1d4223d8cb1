package user

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const defaultSendBuffer = 256

// ErrSessionClosed: the session is gone, nothing more will be written
var ErrSessionClosed = errors.New("session closed")

// Conn is the part of *websocket.Conn a Session writes through.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session represents one live connection.
// Writes are queued on send and performed by WritePump only, so a session
// receives messages in the order they were queued.
type Session struct {
	ID          string
	UserID      string // decoded from the sign-in token, "" when anonymous
	RateLimiter *rate.Limiter

	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	lastViewport time.Time
}

// NewSession: limiter may be nil (no message rate limit)
func NewSession(conn Conn, userID string, sendBuffer int, limiter *rate.Limiter) *Session {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	return &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		RateLimiter: limiter,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
}

// Send: queues msg without blocking. False means the session is closed or
// its queue is full.
func (s *Session) Send(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// WritePump: drains the queue onto the socket and pings every pingPeriod
// (0 disables pings). Returns when the session closes or a write fails.
func (s *Session) WritePump(pingPeriod, writeWait time.Duration) error {
	var ping <-chan time.Time
	if pingPeriod > 0 {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer s.Close()

	for {
		select {
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg, writeWait); err != nil {
				return err
			}
		case <-ping:
			if err := s.write(websocket.PingMessage, nil, writeWait); err != nil {
				return err
			}
		case <-s.done:
			return ErrSessionClosed
		}
	}
}

func (s *Session) write(messageType int, data []byte, writeWait time.Duration) error {
	if writeWait > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	}
	return s.conn.WriteMessage(messageType, data)
}

// Close: idempotent; closing the socket also unblocks the reader
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// AllowViewport: throttles viewport updates to one per interval
func (s *Session) AllowViewport(now time.Time, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastViewport.IsZero() && now.Sub(s.lastViewport) < interval {
		return false
	}
	s.lastViewport = now
	return true
}
