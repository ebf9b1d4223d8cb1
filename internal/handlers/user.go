package handlers

import (
	"encoding/json"
	"fmt"

	"syncboard/internal/user"
)

type UserHandler struct {
	rooms Rooms
}

func NewUserHandler(rooms Rooms) *UserHandler {
	return &UserHandler{rooms: rooms}
}

// HandleGetUserID: tells the client which identity and session the server sees
func (h *UserHandler) HandleGetUserID(s *user.Session) error {
	msg, err := json.Marshal(userIDMessage{Type: "userId", UserID: s.UserID, SessionID: s.ID})
	if err != nil {
		return fmt.Errorf("marshal user ID response: %w", err)
	}

	h.rooms.Send(s, msg)
	return nil
}
