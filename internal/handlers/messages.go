package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"syncboard/internal/object"
)

// Inbound message types. The event names older web clients emit are
// accepted as aliases.
const (
	TypeJoinDocument        = "join-document"
	TypeEditDocument        = "edit-document"
	TypeSetDocumentReadOnly = "set-document-readonly"
	TypeJoinWhiteboard      = "join-whiteboard"
	TypeToggleViewOnly      = "toggle-whiteboard-viewonly"
	TypeSubmitStrokes       = "submit-strokes"
	TypeViewportMove        = "viewport-move"
	TypeViewportZoom        = "viewport-zoom"
	TypeLeaveRoom           = "leave-room"
	TypeGetUserID           = "get-user-id"
)

var aliases = map[string]string{
	"get-document":           TypeJoinDocument,
	"send-changes":           TypeEditDocument,
	"update-readonly-status": TypeSetDocumentReadOnly,
	"get-whiteboard":         TypeJoinWhiteboard,
	"toggle-view-only":       TypeToggleViewOnly,
	"draw":                   TypeSubmitStrokes,
	"update-move":            TypeViewportMove,
	"zoom-change":            TypeViewportZoom,
	"getUserId":              TypeGetUserID,
}

func canonicalType(t string) string {
	if c, ok := aliases[t]; ok {
		return c
	}
	return t
}

// Envelope is every client message. Fields a type does not use are ignored.
type Envelope struct {
	Type        string          `json:"type"`
	RoomID      string          `json:"roomId"`
	Content     string          `json:"content"`
	EditorID    string          `json:"editorId"`
	RequesterID string          `json:"requesterId"`
	UserID      string          `json:"userId"`
	Status      *bool           `json:"status"`
	Strokes     json.RawMessage `json:"strokes"`
	Value       json.RawMessage `json:"value"`
}

// actor: the identifier a message claims to act as. Explicit fields win,
// then the generic userId, then whatever the session's token said.
func (e *Envelope) actor(explicit, sessionUserID string) string {
	switch {
	case explicit != "":
		return explicit
	case e.UserID != "":
		return e.UserID
	default:
		return sessionUserID
	}
}

// strokeBatch: the batch as raw JSON. Clients that send it pre-serialized as
// a JSON string are unwrapped.
func (e *Envelope) strokeBatch() ([]byte, error) {
	raw := bytes.TrimSpace(e.Strokes)
	if len(raw) == 0 || raw[0] != '"' {
		return raw, nil
	}

	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, fmt.Errorf("%w: %v", object.ErrMalformedBatch, err)
	}
	return []byte(inner), nil
}

// Outbound messages.

type welcomeMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type loadDocumentMessage struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

type readOnlyStatusMessage struct {
	Type       string  `json:"type"`
	RoomID     string  `json:"roomId"`
	IsReadOnly bool    `json:"isReadOnly"`
	OwnerID    *string `json:"ownerId"`
}

type changesMessage struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

type loadWhiteboardMessage struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId"`
	Strokes []object.Stroke `json:"strokes"`
}

type statusMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Status bool   `json:"status"`
}

type viewOnlyMessage struct {
	Type     string  `json:"type"`
	RoomID   string  `json:"roomId"`
	ViewOnly bool    `json:"viewOnly"`
	OwnerID  *string `json:"ownerId"`
}

type whiteboardUpdateMessage struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId"`
	Strokes []object.Stroke `json:"strokes"`
	Erased  []string        `json:"erased"`
}

type viewportMessage struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId"`
	Value     json.RawMessage `json:"value"`
	SessionID string          `json:"sessionId"`
	Color     string          `json:"color"`
}

type userIDMessage struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// Welcome: the first message on every connection
func Welcome(sessionID, userID string) ([]byte, error) {
	return json.Marshal(welcomeMessage{Type: "welcome", SessionID: sessionID, UserID: userID})
}

func ownerPtr(owner string) *string {
	if owner == "" {
		return nil
	}
	return &owner
}
