// Package handlers turns client messages into room state changes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"syncboard/internal/middleware"
	"syncboard/internal/object"
	"syncboard/internal/store"
	"syncboard/internal/user"
)

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrMissingRoom    = errors.New("message has no roomId")
	ErrInvalidMessage = errors.New("invalid message")
)

// Deps: everything the router's handlers are built from
type Deps struct {
	Store            store.Store
	Rooms            Rooms
	Scheduler        Scheduler
	Validator        *object.Validator
	Limits           middleware.Limits
	ViewportInterval time.Duration
	Logger           *slog.Logger
}

// MessageRouter routes incoming messages to the handler for their type
type MessageRouter struct {
	documents   *DocumentHandler
	whiteboards *WhiteboardHandler
	viewport    *ViewportHandler
	users       *UserHandler
	rooms       Rooms
}

func NewMessageRouter(deps Deps) *MessageRouter {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	validator := deps.Validator
	if validator == nil {
		validator = object.NewValidator(deps.Limits.MaxStrokesPerBatch)
	}

	return &MessageRouter{
		documents:   NewDocumentHandler(deps.Store, deps.Rooms, deps.Scheduler, logger),
		whiteboards: NewWhiteboardHandler(deps.Store, deps.Rooms, deps.Scheduler, validator, deps.Limits, logger),
		viewport:    NewViewportHandler(deps.Rooms, deps.ViewportInterval),
		users:       NewUserHandler(deps.Rooms),
		rooms:       deps.Rooms,
	}
}

// Route: process one raw client message on behalf of s
func (mr *MessageRouter) Route(ctx context.Context, s *user.Session, raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if env.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}

	msgType := canonicalType(env.Type)
	if msgType == TypeGetUserID {
		return mr.users.HandleGetUserID(s)
	}
	if env.RoomID == "" {
		return fmt.Errorf("%w: %s", ErrMissingRoom, env.Type)
	}

	switch msgType {
	case TypeJoinDocument:
		return mr.documents.Join(ctx, s, env.RoomID, env.actor(env.RequesterID, s.UserID))
	case TypeEditDocument:
		return mr.documents.ApplyChange(ctx, s, env.RoomID, env.Content, env.actor(env.EditorID, s.UserID))
	case TypeSetDocumentReadOnly:
		if env.Status == nil {
			return fmt.Errorf("%w: %s without status", ErrInvalidMessage, env.Type)
		}
		return mr.documents.SetReadOnly(ctx, s, env.RoomID, *env.Status, env.actor(env.RequesterID, s.UserID))
	case TypeJoinWhiteboard:
		return mr.whiteboards.Join(ctx, s, env.RoomID, env.actor(env.RequesterID, s.UserID))
	case TypeToggleViewOnly:
		return mr.whiteboards.ToggleViewOnly(ctx, s, env.RoomID, env.actor(env.RequesterID, s.UserID))
	case TypeSubmitStrokes:
		batch, err := env.strokeBatch()
		if err != nil {
			return err
		}
		return mr.whiteboards.SubmitStrokes(ctx, s, env.RoomID, env.actor(env.EditorID, s.UserID), batch)
	case TypeViewportMove:
		return mr.viewport.Handle(s, env.RoomID, "update-move", env.Value)
	case TypeViewportZoom:
		return mr.viewport.Handle(s, env.RoomID, "zoom-change", env.Value)
	case TypeLeaveRoom:
		mr.rooms.LeaveRoom(s, env.RoomID)
		mr.releaseIfEmpty(env.RoomID)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMessage, env.Type)
	}
}

// Disconnect: removes s from every room. Debounced writes already queued
// for those rooms still happen.
func (mr *MessageRouter) Disconnect(s *user.Session) {
	for _, roomID := range mr.rooms.Leave(s) {
		mr.releaseIfEmpty(roomID)
	}
}

func (mr *MessageRouter) releaseIfEmpty(roomID string) {
	if len(mr.rooms.Members(roomID)) > 0 {
		return
	}
	mr.documents.release(roomID)
	mr.whiteboards.release(roomID)
}
