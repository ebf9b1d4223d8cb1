// Package debounce coalesces bursts of mutations into one trailing-edge
// storage write per room and artifact.
package debounce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Kind names the artifact a pending write belongs to.
type Kind string

const (
	Document   Kind = "document"
	Whiteboard Kind = "whiteboard"
)

// Key identifies one debounce timer.
type Key struct {
	Room string
	Kind Kind
}

// Flush performs the coalesced write.
type Flush func(ctx context.Context) error

type entry struct {
	timer *clock.Timer
	flush Flush
	gen   uint64
}

// Scheduler keeps one trailing-edge timer per Key. Every Schedule call
// restarts the key's quiet window and replaces its pending flush, so a burst
// of any length produces exactly one write carrying the last payload.
// Flushes for the same key never overlap.
type Scheduler struct {
	clock   clock.Clock
	window  time.Duration
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	pending  map[Key]*entry
	inflight map[Key]*sync.Mutex
	closed   bool
	running  sync.WaitGroup
}

// New: window is the quiet period before a write; timeout bounds each write
// (zero means unbounded).
func New(clk clock.Clock, window, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		clock:    clk,
		window:   window,
		timeout:  timeout,
		logger:   logger.With("component", "debounce"),
		pending:  make(map[Key]*entry),
		inflight: make(map[Key]*sync.Mutex),
	}
}

// Schedule (re)arms the timer for key with flush as its payload.
func (s *Scheduler) Schedule(key Key, flush Flush) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Warn("schedule after close dropped", "room", key.Room, "kind", key.Kind)
		return
	}

	e, ok := s.pending[key]
	if ok {
		e.timer.Stop()
	} else {
		e = &entry{}
		s.pending[key] = e
	}

	e.flush = flush
	e.gen++
	gen := e.gen
	e.timer = s.clock.AfterFunc(s.window, func() { s.fire(key, gen) })
}

// Pending reports whether key has a write waiting for its quiet window.
func (s *Scheduler) Pending(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[key]
	return ok
}

func (s *Scheduler) fire(key Key, gen uint64) {
	s.mu.Lock()
	e, ok := s.pending[key]
	// a newer Schedule superseded this timer
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	s.run(key, e.flush)
}

func (s *Scheduler) run(key Key, flush Flush) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := s.clock.Now()
	if err := flush(ctx); err != nil {
		s.logger.Warn("persist failed", "room", key.Room, "kind", key.Kind, "error", err)
		return
	}
	s.logger.Debug("persisted", "room", key.Room, "kind", key.Kind, "took", s.clock.Since(started))
}

func (s *Scheduler) keyLock(key Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.inflight[key]
	if !ok {
		lock = &sync.Mutex{}
		s.inflight[key] = lock
	}
	return lock
}

// Close stops every timer, runs each pending flush once and waits for
// in-flight writes. Later Schedule calls are dropped.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	flushes := make(map[Key]Flush, len(s.pending))
	for key, e := range s.pending {
		e.timer.Stop()
		flushes[key] = e.flush
	}
	s.pending = make(map[Key]*entry)
	s.mu.Unlock()

	for key, flush := range flushes {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.run(key, flush)
	}

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
