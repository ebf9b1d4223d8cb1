package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"syncboard/internal/debounce"
	"syncboard/internal/permission"
	"syncboard/internal/store"
	"syncboard/internal/user"
)

// docState: the live copy of one room's document. Edits, toggles and joins
// for the room are serialized on mu, and every message about the room is
// queued while holding it, so all members observe one order.
// dirty is set from an edit until the save carrying it has landed; gen
// changes with every edit.
type docState struct {
	mu       sync.Mutex
	owner    string
	readOnly bool
	content  string
	dirty    bool
	gen      uint64
}

// DocumentHandler: last-write-wins text sync
type DocumentHandler struct {
	store     store.Store
	rooms     Rooms
	scheduler Scheduler
	logger    *slog.Logger

	mu     sync.Mutex
	states map[string]*docState
	loads  singleflight.Group
}

func NewDocumentHandler(st store.Store, rooms Rooms, scheduler Scheduler, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		store:     st,
		rooms:     rooms,
		scheduler: scheduler,
		logger:    logger.With("channel", "document"),
		states:    make(map[string]*docState),
	}
}

// state: cached room state, loading it with an upsert on first use.
// ownerID only matters if this call ends up creating the document.
func (h *DocumentHandler) state(ctx context.Context, roomID, ownerID string) (*docState, error) {
	h.mu.Lock()
	st, ok := h.states[roomID]
	h.mu.Unlock()
	if ok {
		return st, nil
	}

	v, err, _ := h.loads.Do(roomID, func() (any, error) {
		doc, err := h.store.UpsertDocument(ctx, roomID, ownerID)
		if err != nil {
			return nil, err
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		if st, ok := h.states[roomID]; ok {
			return st, nil
		}
		st := &docState{
			owner:    permission.Deref(doc.OwnerID),
			readOnly: doc.IsReadOnly,
			content:  doc.Content,
		}
		h.states[roomID] = st
		return st, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", roomID, err)
	}
	return v.(*docState), nil
}

// Join: upsert-on-read, subscribe, then send the content and lock status
// to the requester only.
func (h *DocumentHandler) Join(ctx context.Context, s *user.Session, roomID, requesterID string) error {
	st, err := h.state(ctx, roomID, requesterID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := h.rooms.Join(s, roomID); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}

	load, err := json.Marshal(loadDocumentMessage{Type: "load-document", RoomID: roomID, Content: st.content})
	if err != nil {
		return err
	}
	status, err := json.Marshal(readOnlyStatusMessage{
		Type:       "receive-readonly-status",
		RoomID:     roomID,
		IsReadOnly: st.readOnly,
		OwnerID:    ownerPtr(st.owner),
	})
	if err != nil {
		return err
	}

	if h.rooms.Send(s, load) {
		h.rooms.Send(s, status)
	}
	return nil
}

// ApplyChange: full replacement text, relayed to the other members at once
// and persisted after the room goes quiet. Ignored while the document is
// read-only unless editorID is the owner.
func (h *DocumentHandler) ApplyChange(ctx context.Context, s *user.Session, roomID, content, editorID string) error {
	st, err := h.state(ctx, roomID, "")
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !permission.CanMutate(st.readOnly, st.owner, editorID) {
		h.logger.Debug("edit on read-only document ignored", "room", roomID, "editor", editorID)
		return nil
	}

	msg, err := json.Marshal(changesMessage{Type: "receive-changes", RoomID: roomID, Content: content})
	if err != nil {
		return err
	}

	st.content = content
	st.dirty = true
	st.gen++
	h.rooms.Broadcast(roomID, msg, s)
	h.scheduler.Schedule(debounce.Key{Room: roomID, Kind: debounce.Document}, h.flushContent(roomID, st, content, editorID, st.gen))
	return nil
}

// flushContent: saves one edit. The state stays dirty if a newer edit
// arrived while the save was running, or if the save failed. A room that
// emptied while its save was outstanding is released here.
func (h *DocumentHandler) flushContent(roomID string, st *docState, content, editorID string, gen uint64) debounce.Flush {
	return func(ctx context.Context) error {
		if err := h.store.SaveDocumentContent(ctx, roomID, content, editorID); err != nil {
			return err
		}

		st.mu.Lock()
		if st.gen == gen {
			st.dirty = false
		}
		st.mu.Unlock()

		if len(h.rooms.Members(roomID)) == 0 {
			h.release(roomID)
		}
		return nil
	}
}

// SetReadOnly: owner-only. Persists the flag before announcing it to the
// other members.
func (h *DocumentHandler) SetReadOnly(ctx context.Context, s *user.Session, roomID string, readOnly bool, requesterID string) error {
	st, err := h.state(ctx, roomID, "")
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !permission.CanControl(st.owner, requesterID) {
		h.logger.Debug("read-only change refused", "room", roomID, "requester", requesterID)
		return nil
	}

	if err := h.store.SetDocumentReadOnly(ctx, roomID, readOnly); err != nil {
		return fmt.Errorf("persist read-only %s: %w", roomID, err)
	}
	st.readOnly = readOnly

	msg, err := json.Marshal(readOnlyStatusMessage{
		Type:       "receive-readonly-status",
		RoomID:     roomID,
		IsReadOnly: readOnly,
		OwnerID:    ownerPtr(st.owner),
	})
	if err != nil {
		return err
	}
	h.rooms.Broadcast(roomID, msg, s)
	return nil
}

// release: drops the cached state of a room nobody is in and whose last
// edit has been saved. The cached content is newer than the store until then.
func (h *DocumentHandler) release(roomID string) {
	if h.scheduler.Pending(debounce.Key{Room: roomID, Kind: debounce.Document}) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if st, ok := h.states[roomID]; ok {
		st.mu.Lock()
		dirty := st.dirty
		st.mu.Unlock()
		if dirty {
			return
		}
	}
	delete(h.states, roomID)
}
