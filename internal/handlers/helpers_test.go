package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"syncboard/internal/debounce"
	"syncboard/internal/middleware"
	"syncboard/internal/object"
	"syncboard/internal/room"
	"syncboard/internal/store"
	"syncboard/internal/user"
)

const quiet = time.Second

// countingStore counts the debounced and immediate writes that reach the store.
type countingStore struct {
	store.Store

	mu          sync.Mutex
	saves       []string
	replaces    [][]string
	removes     [][]string
	saveGate    *gate
	replaceGate *gate
}

// gate holds a store write open until the test lets it through. Once
// opened, later writes pass straight away.
type gate struct {
	entered chan struct{}
	open    chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), open: make(chan struct{})}
}

func (g *gate) pass() {
	if g == nil {
		return
	}
	select {
	case <-g.open:
		return
	default:
	}
	select {
	case g.entered <- struct{}{}:
	case <-g.open:
		return
	}
	<-g.open
}

// wait blocks until a write is held at the gate.
func (g *gate) wait(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("no write reached the gate")
	}
}

func (g *gate) release() {
	close(g.open)
}

func (c *countingStore) gateSaves() *gate {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saveGate = newGate()
	return c.saveGate
}

func (c *countingStore) gateReplaces() *gate {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replaceGate = newGate()
	return c.replaceGate
}

func (c *countingStore) SaveDocumentContent(ctx context.Context, id, content, editorID string) error {
	c.mu.Lock()
	g := c.saveGate
	c.mu.Unlock()
	g.pass()

	if err := c.Store.SaveDocumentContent(ctx, id, content, editorID); err != nil {
		return err
	}
	c.mu.Lock()
	c.saves = append(c.saves, content)
	c.mu.Unlock()
	return nil
}

func (c *countingStore) ReplaceStrokes(ctx context.Context, id string, strokes []object.Stroke) error {
	c.mu.Lock()
	g := c.replaceGate
	c.mu.Unlock()
	g.pass()

	if err := c.Store.ReplaceStrokes(ctx, id, strokes); err != nil {
		return err
	}
	c.mu.Lock()
	c.replaces = append(c.replaces, object.IDs(strokes))
	c.mu.Unlock()
	return nil
}

func (c *countingStore) RemoveStrokes(ctx context.Context, id string, ids []string) error {
	if err := c.Store.RemoveStrokes(ctx, id, ids); err != nil {
		return err
	}
	c.mu.Lock()
	c.removes = append(c.removes, ids)
	c.mu.Unlock()
	return nil
}

func (c *countingStore) saveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.saves)
}

func (c *countingStore) replaceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replaces)
}

func (c *countingStore) removeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.removes)
}

type fixture struct {
	t      *testing.T
	store  *countingStore
	rooms  *room.Registry
	clock  *clock.Mock
	sched  *debounce.Scheduler
	router *MessageRouter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	mock := clock.NewMock()
	st := &countingStore{Store: store.NewMemoryStore()}
	rooms := room.NewRegistry(0, 0, logger)
	sched := debounce.New(mock, quiet, time.Second, logger)

	return &fixture{
		t:     t,
		store: st,
		rooms: rooms,
		clock: mock,
		sched: sched,
		router: NewMessageRouter(Deps{
			Store:     st,
			Rooms:     rooms,
			Scheduler: sched,
			Validator: object.NewValidator(100),
			Limits:    middleware.Limits{MaxDataDepth: 4, MaxDataKeys: 20},
			Logger:    logger,
		}),
	}
}

// client is a connected participant whose outbound messages are decoded
// into generic maps.
type client struct {
	t       *testing.T
	session *user.Session
	conn    *clientConn
}

type clientConn struct {
	mu   sync.Mutex
	msgs []map[string]any
}

func (c *clientConn) WriteMessage(_ int, data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	return nil
}

func (c *clientConn) SetWriteDeadline(time.Time) error { return nil }
func (c *clientConn) Close() error                     { return nil }

func (f *fixture) connect(userID string) *client {
	f.t.Helper()
	conn := &clientConn{}
	s := user.NewSession(conn, userID, 64, nil)
	go s.WritePump(0, 0)
	f.t.Cleanup(s.Close)
	return &client{t: f.t, session: s, conn: conn}
}

// send routes a message built from fields and fails the test on error.
func (f *fixture) send(c *client, fields map[string]any) {
	f.t.Helper()
	if err := f.route(c, fields); err != nil {
		f.t.Fatalf("Route(%v): %v", fields, err)
	}
}

func (f *fixture) route(c *client, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		f.t.Fatal(err)
	}
	return f.router.Route(context.Background(), c.session, raw)
}

// elapse advances the mock clock past the quiet window. Timer callbacks
// run on their own goroutines; use waitUntil to observe their writes.
func (f *fixture) elapse() {
	f.clock.Add(quiet)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (c *client) messages() []map[string]any {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()
	return append([]map[string]any(nil), c.conn.msgs...)
}

// waitFor returns the first message of type msgType, waiting for it to arrive.
func (c *client) waitFor(msgType string) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, m := range c.messages() {
			if m["type"] == msgType {
				return m
			}
		}
		time.Sleep(time.Millisecond)
	}
	c.t.Fatalf("no %q message, have %v", msgType, c.messages())
	return nil
}

// nth waits for the n-th (1-based) message of msgType and returns it.
func (c *client) nth(msgType string, n int) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		seen := 0
		for _, m := range c.messages() {
			if m["type"] == msgType {
				seen++
				if seen == n {
					return m
				}
			}
		}
		time.Sleep(time.Millisecond)
	}
	c.t.Fatalf("fewer than %d %q messages, have %v", n, msgType, c.messages())
	return nil
}

// count returns how many messages of msgType arrived, after letting the
// writer catch up.
func (c *client) count(msgType string) int {
	time.Sleep(20 * time.Millisecond)
	n := 0
	for _, m := range c.messages() {
		if m["type"] == msgType {
			n++
		}
	}
	return n
}

func strokesJSON(t *testing.T, strokes ...map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(strokes)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func freehand(id string) map[string]any {
	return map[string]any{
		"id":     id,
		"type":   "freehand",
		"points": []map[string]float64{{"x": 1, "y": 1}, {"x": 2, "y": 3}},
		"color":  "#000000",
		"width":  2,
	}
}

func erase(id string) map[string]any {
	return map[string]any{"id": id, "type": "freehand", "isDeleted": true}
}

// cached reports whether the handlers still hold state for roomID.
func (f *fixture) cached(roomID string) (doc, wb bool) {
	f.router.documents.mu.Lock()
	_, doc = f.router.documents.states[roomID]
	f.router.documents.mu.Unlock()

	f.router.whiteboards.mu.Lock()
	_, wb = f.router.whiteboards.states[roomID]
	f.router.whiteboards.mu.Unlock()
	return doc, wb
}

func debounceKey(roomID string) debounce.Key {
	return debounce.Key{Room: roomID, Kind: debounce.Whiteboard}
}
