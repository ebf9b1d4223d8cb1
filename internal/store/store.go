// Package store persists room documents and whiteboards.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"syncboard/internal/object"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrMissingID     = errors.New("room id missing")
	ErrUnknownDriver = errors.New("unknown store driver")
)

// Document is the persisted text artifact of a room.
// OwnerID is written once, on creation; LastEditorID tracks whoever made the
// most recent persisted edit and never grants anything.
type Document struct {
	ID           string  `json:"id"`
	OwnerID      *string `json:"ownerId"`
	LastEditorID *string `json:"lastEditorId"`
	Content      string  `json:"content"`
	IsReadOnly   bool    `json:"isReadOnly"`
}

// Whiteboard is the persisted drawing surface of a room.
type Whiteboard struct {
	ID       string          `json:"id"`
	Strokes  []object.Stroke `json:"strokes"`
	OwnerID  *string         `json:"ownerId"`
	ViewOnly bool            `json:"viewOnly"`
}

// Store is the durable key-value-per-room collaborator.
//
// Upsert* return the existing record, or create it with defaults when
// absent; ownerID is only applied on creation and an empty ownerID leaves
// the owner unset.
type Store interface {
	UpsertDocument(ctx context.Context, id, ownerID string) (*Document, error)
	FindDocument(ctx context.Context, id string) (*Document, error)
	// SaveDocumentContent creates the document when absent.
	SaveDocumentContent(ctx context.Context, id, content, editorID string) error
	SetDocumentReadOnly(ctx context.Context, id string, readOnly bool) error

	UpsertWhiteboard(ctx context.Context, id, ownerID string) (*Whiteboard, error)
	FindWhiteboard(ctx context.Context, id string) (*Whiteboard, error)
	// ReplaceStrokes overwrites the whole collection, creating the whiteboard when absent.
	ReplaceStrokes(ctx context.Context, id string, strokes []object.Stroke) error
	// RemoveStrokes deletes strokes by id; absent ids are ignored.
	RemoveStrokes(ctx context.Context, id string, strokeIDs []string) error
	SetWhiteboardViewOnly(ctx context.Context, id string, viewOnly bool) error

	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver        string
	DatabaseURL   string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open builds the Store named by opts.Driver.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return wrap(OpenPostgres(opts.DatabaseURL, logger))
	case "sqlite":
		return wrap(OpenSQLite(opts.SQLitePath, logger))
	case "redis":
		return wrap(OpenRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, logger))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

// wrap keeps a typed nil backend out of the Store interface.
func wrap[T Store](s T, err error) (Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cloneStrokes(strokes []object.Stroke) []object.Stroke {
	out := make([]object.Stroke, len(strokes))
	copy(out, strokes)
	return out
}
