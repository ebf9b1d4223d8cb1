package handlers

import (
	"syncboard/internal/debounce"
	"syncboard/internal/user"
)

// Rooms defines the membership and fan-out operations handlers need
// (implemented by room.Registry)
type Rooms interface {
	Join(s *user.Session, roomID string) (string, error)
	LeaveRoom(s *user.Session, roomID string)
	Leave(s *user.Session) []string
	Members(roomID string) []*user.Session
	Color(roomID string, s *user.Session) string
	Broadcast(roomID string, msg []byte, exclude *user.Session) int
	Send(s *user.Session, msg []byte) bool
}

// Scheduler defines the debounced write operations (implemented by debounce.Scheduler)
type Scheduler interface {
	Schedule(key debounce.Key, flush debounce.Flush)
	Pending(key debounce.Key) bool
}
