package room

import (
	"syncboard/internal/user"
)

// Broadcast: queues msg for every member of roomID except exclude (which may
// be nil) and returns how many sessions took it. Delivery is fire-and-forget;
// a member that cannot take the message is evicted from all rooms and closed.
func (r *Registry) Broadcast(roomID string, msg []byte, exclude *user.Session) int {
	members := r.Members(roomID)

	var failed []*user.Session
	sent := 0
	for _, s := range members {
		if exclude != nil && s.ID == exclude.ID {
			continue
		}
		if s.Send(msg) {
			sent++
			continue
		}
		failed = append(failed, s)
	}

	// Clean up failed sessions
	for _, s := range failed {
		r.logger.Warn("dropping unresponsive session", "room", roomID, "session", s.ID)
		r.evict(s)
	}

	return sent
}

// Send: queues msg for one session, evicting it the same way Broadcast does
func (r *Registry) Send(s *user.Session, msg []byte) bool {
	if s.Send(msg) {
		return true
	}
	r.logger.Warn("dropping unresponsive session", "session", s.ID)
	r.evict(s)
	return false
}
