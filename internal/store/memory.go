package store

import (
	"context"
	"sync"

	"syncboard/internal/object"
)

// MemoryStore keeps records in process memory. Nothing survives a restart.
type MemoryStore struct {
	documents   map[string]*Document
	whiteboards map[string]*Whiteboard
	mu          sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:   make(map[string]*Document),
		whiteboards: make(map[string]*Whiteboard),
	}
}

func (m *MemoryStore) UpsertDocument(_ context.Context, id, ownerID string) (*Document, error) {
	if id == "" {
		return nil, ErrMissingID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[id]
	if !ok {
		doc = &Document{ID: id, OwnerID: optional(ownerID)}
		m.documents[id] = doc
	}
	return copyDocument(doc), nil
}

func (m *MemoryStore) FindDocument(_ context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(doc), nil
}

func (m *MemoryStore) SaveDocumentContent(_ context.Context, id, content, editorID string) error {
	if id == "" {
		return ErrMissingID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[id]
	if !ok {
		doc = &Document{ID: id}
		m.documents[id] = doc
	}
	doc.Content = content
	doc.LastEditorID = optional(editorID)
	return nil
}

func (m *MemoryStore) SetDocumentReadOnly(_ context.Context, id string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.IsReadOnly = readOnly
	return nil
}

func (m *MemoryStore) UpsertWhiteboard(_ context.Context, id, ownerID string) (*Whiteboard, error) {
	if id == "" {
		return nil, ErrMissingID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	wb, ok := m.whiteboards[id]
	if !ok {
		wb = &Whiteboard{ID: id, Strokes: []object.Stroke{}, OwnerID: optional(ownerID)}
		m.whiteboards[id] = wb
	}
	return copyWhiteboard(wb), nil
}

func (m *MemoryStore) FindWhiteboard(_ context.Context, id string) (*Whiteboard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wb, ok := m.whiteboards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyWhiteboard(wb), nil
}

func (m *MemoryStore) ReplaceStrokes(_ context.Context, id string, strokes []object.Stroke) error {
	if id == "" {
		return ErrMissingID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	wb, ok := m.whiteboards[id]
	if !ok {
		wb = &Whiteboard{ID: id}
		m.whiteboards[id] = wb
	}
	wb.Strokes = cloneStrokes(strokes)
	return nil
}

func (m *MemoryStore) RemoveStrokes(_ context.Context, id string, strokeIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wb, ok := m.whiteboards[id]
	if !ok {
		return nil
	}
	wb.Strokes = object.Without(wb.Strokes, strokeIDs)
	return nil
}

func (m *MemoryStore) SetWhiteboardViewOnly(_ context.Context, id string, viewOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wb, ok := m.whiteboards[id]
	if !ok {
		return ErrNotFound
	}
	wb.ViewOnly = viewOnly
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func copyDocument(d *Document) *Document {
	c := *d
	return &c
}

func copyWhiteboard(w *Whiteboard) *Whiteboard {
	c := *w
	c.Strokes = cloneStrokes(w.Strokes)
	return &c
}
