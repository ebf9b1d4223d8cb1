package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"syncboard/internal/debounce"
	"syncboard/internal/middleware"
	"syncboard/internal/object"
	"syncboard/internal/permission"
	"syncboard/internal/store"
	"syncboard/internal/user"
)

// wbState: the live view of one room's whiteboard.
// pending is the full collection waiting for the debounced replace (nil when
// nothing is waiting); gen changes whenever pending does.
type wbState struct {
	mu       sync.Mutex
	owner    string
	viewOnly bool
	pending  []object.Stroke
	gen      uint64
}

// WhiteboardHandler: stroke batches, erasure and view-only mode
type WhiteboardHandler struct {
	store     store.Store
	rooms     Rooms
	scheduler Scheduler
	validator *object.Validator
	limits    middleware.Limits
	logger    *slog.Logger

	mu     sync.Mutex
	states map[string]*wbState
	loads  singleflight.Group
}

func NewWhiteboardHandler(st store.Store, rooms Rooms, scheduler Scheduler, validator *object.Validator, limits middleware.Limits, logger *slog.Logger) *WhiteboardHandler {
	return &WhiteboardHandler{
		store:     st,
		rooms:     rooms,
		scheduler: scheduler,
		validator: validator,
		limits:    limits,
		logger:    logger.With("channel", "whiteboard"),
		states:    make(map[string]*wbState),
	}
}

func (h *WhiteboardHandler) install(roomID string, wb *store.Whiteboard) *wbState {
	h.mu.Lock()
	defer h.mu.Unlock()

	if st, ok := h.states[roomID]; ok {
		return st
	}
	st := &wbState{owner: permission.Deref(wb.OwnerID), viewOnly: wb.ViewOnly}
	h.states[roomID] = st
	return st
}

// existing: cached state, or loaded from the store. Never creates the
// whiteboard; store.ErrNotFound when it does not exist.
func (h *WhiteboardHandler) existing(ctx context.Context, roomID string) (*wbState, error) {
	h.mu.Lock()
	st, ok := h.states[roomID]
	h.mu.Unlock()
	if ok {
		return st, nil
	}

	v, err, _ := h.loads.Do(roomID, func() (any, error) {
		wb, err := h.store.FindWhiteboard(ctx, roomID)
		if err != nil {
			return nil, err
		}
		return h.install(roomID, wb), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*wbState), nil
}

// Join: upsert-on-read with requesterID as owner of a new whiteboard, then
// send strokes, the ready flag and the view-only status to the requester.
func (h *WhiteboardHandler) Join(ctx context.Context, s *user.Session, roomID, requesterID string) error {
	wb, err := h.store.UpsertWhiteboard(ctx, roomID, requesterID)
	if err != nil {
		return fmt.Errorf("load whiteboard %s: %w", roomID, err)
	}
	st := h.install(roomID, wb)

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := h.rooms.Join(s, roomID); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}

	// a queued replace is newer than what the store holds
	strokes := wb.Strokes
	if st.pending != nil {
		strokes = st.pending
	}

	msgs := []any{
		loadWhiteboardMessage{Type: "load-whiteboard", RoomID: roomID, Strokes: strokes},
		statusMessage{Type: "receive-status", RoomID: roomID, Status: true},
		viewOnlyMessage{Type: "update-view-only", RoomID: roomID, ViewOnly: st.viewOnly, OwnerID: ownerPtr(st.owner)},
	}
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if !h.rooms.Send(s, b) {
			return nil
		}
	}
	return nil
}

// ToggleViewOnly: owner-only flip, persisted, then announced to every
// member including the requester.
func (h *WhiteboardHandler) ToggleViewOnly(ctx context.Context, s *user.Session, roomID, requesterID string) error {
	st, err := h.existing(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Debug("toggle on unknown whiteboard", "room", roomID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load whiteboard %s: %w", roomID, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !permission.CanControl(st.owner, requesterID) {
		h.logger.Debug("view-only toggle refused", "room", roomID, "requester", requesterID)
		return nil
	}

	next := !st.viewOnly
	if err := h.store.SetWhiteboardViewOnly(ctx, roomID, next); err != nil {
		return fmt.Errorf("persist view-only %s: %w", roomID, err)
	}
	st.viewOnly = next

	msg, err := json.Marshal(viewOnlyMessage{Type: "update-view-only", RoomID: roomID, ViewOnly: next, OwnerID: ownerPtr(st.owner)})
	if err != nil {
		return err
	}
	h.rooms.Broadcast(roomID, msg, nil)
	return nil
}

// SubmitStrokes applies one client batch.
//
// Strokes flagged isDeleted are erased from the stored collection right
// away (and from any queued replace); the rest become the queued full
// collection written after the room goes quiet. Other members get one
// update carrying both halves. A malformed batch changes nothing and
// returns an error wrapping object.ErrMalformedBatch.
func (h *WhiteboardHandler) SubmitStrokes(ctx context.Context, s *user.Session, roomID, editorID string, raw []byte) error {
	batch, err := h.validator.ParseBatch(raw)
	if err != nil {
		return err
	}
	for _, stroke := range batch {
		if stroke.Data == nil {
			continue
		}
		if err := h.limits.ValidateDataComplexity(stroke.Data); err != nil {
			return fmt.Errorf("%w: stroke %s: %v", object.ErrMalformedBatch, stroke.ID, err)
		}
	}
	if len(batch) == 0 {
		return nil
	}

	st, err := h.existing(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Debug("strokes for unknown whiteboard dropped", "room", roomID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load whiteboard %s: %w", roomID, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !permission.CanMutate(st.viewOnly, st.owner, editorID) {
		h.logger.Debug("strokes on view-only whiteboard dropped", "room", roomID, "editor", editorID)
		return nil
	}

	kept, erased := object.Partition(batch)
	key := debounce.Key{Room: roomID, Kind: debounce.Whiteboard}

	if len(erased) > 0 {
		if err := h.store.RemoveStrokes(ctx, roomID, erased); err != nil {
			h.logger.Warn("erase failed", "room", roomID, "error", err)
		}
		if st.pending != nil {
			st.pending = object.Without(st.pending, erased)
			st.gen++
			// re-arm so an in-flight replace cannot leave erased strokes behind
			h.scheduler.Schedule(key, h.flushStrokes(roomID, st))
		}
	}

	if len(kept) > 0 {
		st.pending = kept
		st.gen++
		h.scheduler.Schedule(key, h.flushStrokes(roomID, st))
	}

	if erased == nil {
		erased = []string{}
	}
	msg, err := json.Marshal(whiteboardUpdateMessage{Type: "update-whiteboard", RoomID: roomID, Strokes: kept, Erased: erased})
	if err != nil {
		return err
	}
	h.rooms.Broadcast(roomID, msg, s)
	return nil
}

// flushStrokes: writes whatever collection is queued when the timer fires.
// The queue is cleared only if nothing replaced it during the write.
func (h *WhiteboardHandler) flushStrokes(roomID string, st *wbState) debounce.Flush {
	return func(ctx context.Context) error {
		st.mu.Lock()
		strokes, gen := st.pending, st.gen
		st.mu.Unlock()

		if strokes == nil {
			return nil
		}
		if err := h.store.ReplaceStrokes(ctx, roomID, strokes); err != nil {
			return err
		}

		st.mu.Lock()
		if st.gen == gen {
			st.pending = nil
		}
		st.mu.Unlock()

		if len(h.rooms.Members(roomID)) == 0 {
			h.release(roomID)
		}
		return nil
	}
}

func (h *WhiteboardHandler) release(roomID string) {
	if h.scheduler.Pending(debounce.Key{Room: roomID, Kind: debounce.Whiteboard}) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if st, ok := h.states[roomID]; ok {
		st.mu.Lock()
		waiting := st.pending != nil
		st.mu.Unlock()
		if waiting {
			return
		}
	}
	delete(h.states, roomID)
}
