package room

import (
	"time"

	"syncboard/internal/user"
)

// Room: live membership of one room id. Guarded by Registry.mu.
type Room struct {
	ID             string
	Connections    map[string]*user.Session // session id -> session
	UserColors     map[string]string        // participant key -> color (room-specific)
	colorGenerator *user.ColorGenerator
	LastActive     time.Time
	CreatedAt      time.Time
}

func newRoom(id string, now time.Time) *Room {
	return &Room{
		ID:             id,
		Connections:    make(map[string]*user.Session),
		UserColors:     make(map[string]string),
		colorGenerator: user.NewColorGenerator(id),
		LastActive:     now,
		CreatedAt:      now,
	}
}

// colorKey: signed-in participants keep their color across reconnects
func colorKey(s *user.Session) string {
	if s.UserID != "" {
		return "user:" + s.UserID
	}
	return "session:" + s.ID
}

// join: adds the session and assigns a color if it has none in this room
func (r *Room) join(s *user.Session, now time.Time) string {
	r.Connections[s.ID] = s
	r.LastActive = now

	key := colorKey(s)
	color, ok := r.UserColors[key]
	if !ok {
		color = r.colorGenerator.NextColor()
		r.UserColors[key] = color
	}
	return color
}

func (r *Room) leave(s *user.Session, now time.Time) {
	delete(r.Connections, s.ID)
	r.LastActive = now
}

func (r *Room) has(s *user.Session) bool {
	_, ok := r.Connections[s.ID]
	return ok
}

func (r *Room) empty() bool {
	return len(r.Connections) == 0
}

// snapshot: copy of current connections for broadcasting outside the lock
func (r *Room) snapshot() []*user.Session {
	out := make([]*user.Session, 0, len(r.Connections))
	for _, s := range r.Connections {
		out = append(out, s)
	}
	return out
}
