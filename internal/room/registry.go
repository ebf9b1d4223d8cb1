// Package room tracks which sessions are in which rooms and fans messages
// out to them.
package room

import (
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"syncboard/internal/user"
)

var (
	ErrRoomMissing  = errors.New("room id missing")
	ErrRoomFull     = errors.New("room is full")
	ErrTooManyRooms = errors.New("server at maximum room capacity")
)

// Registry: room id -> members, plus the reverse index used on disconnect.
// Rooms exist while they have members; joining an unknown id creates it.
type Registry struct {
	rooms       map[string]*Room
	sessions    map[string]map[string]struct{} // session id -> room ids
	evicted     map[string][]string            // session id -> rooms it was evicted from
	maxRooms    int
	maxRoomSize int
	logger      *slog.Logger
	mu          sync.RWMutex
}

// NewRegistry: zero limits mean unlimited
func NewRegistry(maxRooms, maxRoomSize int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:       make(map[string]*Room),
		sessions:    make(map[string]map[string]struct{}),
		evicted:     make(map[string][]string),
		maxRooms:    maxRooms,
		maxRoomSize: maxRoomSize,
		logger:      logger.With("component", "registry"),
	}
}

// Join: idempotent. Returns the session's presence color in the room.
func (r *Registry) Join(s *user.Session, roomID string) (string, error) {
	if roomID == "" {
		return "", ErrRoomMissing
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	rm, ok := r.rooms[roomID]
	if !ok {
		if r.maxRooms > 0 && len(r.rooms) >= r.maxRooms {
			return "", ErrTooManyRooms
		}
		rm = newRoom(roomID, now)
		r.rooms[roomID] = rm
	}

	if !rm.has(s) && r.maxRoomSize > 0 && len(rm.Connections) >= r.maxRoomSize {
		if rm.empty() {
			delete(r.rooms, roomID)
		}
		return "", ErrRoomFull
	}

	color := rm.join(s, now)

	joined, ok := r.sessions[s.ID]
	if !ok {
		joined = make(map[string]struct{})
		r.sessions[s.ID] = joined
	}
	joined[roomID] = struct{}{}

	return color, nil
}

// LeaveRoom: removes the session from one room
func (r *Registry) LeaveRoom(s *user.Session, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(s, roomID, time.Now())
}

// Leave: removes the session from every room it joined; returns those room
// ids, plus any the session was evicted from since its last Leave.
func (r *Registry) Leave(s *user.Session) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	left := r.leaveAllLocked(s)
	for _, roomID := range r.evicted[s.ID] {
		if !slices.Contains(left, roomID) {
			left = append(left, roomID)
		}
	}
	delete(r.evicted, s.ID)

	sort.Strings(left)
	return left
}

// evict: drops an unresponsive session from all its rooms and closes it.
// Its rooms are handed back by the Leave its connection makes on the way out.
func (r *Registry) evict(s *user.Session) {
	r.mu.Lock()
	if left := r.leaveAllLocked(s); len(left) > 0 {
		r.evicted[s.ID] = append(r.evicted[s.ID], left...)
	}
	r.mu.Unlock()

	s.Close()
}

func (r *Registry) leaveAllLocked(s *user.Session) []string {
	now := time.Now()
	left := make([]string, 0, len(r.sessions[s.ID]))
	for roomID := range r.sessions[s.ID] {
		left = append(left, roomID)
		r.leaveLocked(s, roomID, now)
	}
	return left
}

func (r *Registry) leaveLocked(s *user.Session, roomID string, now time.Time) {
	if rm, ok := r.rooms[roomID]; ok {
		rm.leave(s, now)
		if rm.empty() {
			delete(r.rooms, roomID)
			r.logger.Debug("room emptied", "room", roomID)
		}
	}

	if joined, ok := r.sessions[s.ID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(r.sessions, s.ID)
		}
	}
}

// Members: snapshot of the sessions in roomID
func (r *Registry) Members(roomID string) []*user.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return rm.snapshot()
}

// IsMember reports whether s has joined roomID.
func (r *Registry) IsMember(s *user.Session, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	return ok && rm.has(s)
}

// RoomsOf: sorted ids of the rooms s is in
func (r *Registry) RoomsOf(s *user.Session) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sessions[s.ID]))
	for roomID := range r.sessions[s.ID] {
		out = append(out, roomID)
	}
	sort.Strings(out)
	return out
}

// Color: the session's color in roomID, "" when it is not a member
func (r *Registry) Color(roomID string, s *user.Session) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok || !rm.has(s) {
		return ""
	}
	return rm.UserColors[colorKey(s)]
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}
