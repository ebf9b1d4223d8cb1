package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"syncboard/internal/user"
)

// ViewportHandler relays pan and zoom to the other members, stamped with
// the sender's session and presence color. Nothing is stored.
type ViewportHandler struct {
	rooms    Rooms
	interval time.Duration
	now      func() time.Time
}

// NewViewportHandler: moves from one session closer together than interval are dropped
func NewViewportHandler(rooms Rooms, interval time.Duration) *ViewportHandler {
	return &ViewportHandler{
		rooms:    rooms,
		interval: interval,
		now:      time.Now,
	}
}

// Handle: msgType is "update-move" or "zoom-change"
func (h *ViewportHandler) Handle(s *user.Session, roomID, msgType string, value json.RawMessage) error {
	if len(value) == 0 {
		return fmt.Errorf("%w: %s without value", ErrInvalidMessage, msgType)
	}

	// Throttle moves (~30fps); zoom steps are discrete and always pass
	if msgType == "update-move" && h.interval > 0 && !s.AllowViewport(h.now(), h.interval) {
		return nil
	}

	msg, err := json.Marshal(viewportMessage{
		Type:      msgType,
		RoomID:    roomID,
		Value:     value,
		SessionID: s.ID,
		Color:     h.rooms.Color(roomID, s),
	})
	if err != nil {
		return fmt.Errorf("marshal viewport message: %w", err)
	}

	h.rooms.Broadcast(roomID, msg, s)
	return nil
}
