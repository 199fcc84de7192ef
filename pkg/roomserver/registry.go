package roomserver

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Registry owns the rooms of one server. A room with no stream attached for
// the idle timeout is evicted together with its joined-but-silent members.
type Registry struct {
	mu          sync.Mutex
	rooms       map[string]*Room
	idleTimeout time.Duration
}

func NewRegistry(idleTimeout time.Duration) *Registry {
	return &Registry{rooms: map[string]*Room{}, idleTimeout: idleTimeout}
}

func (r *Registry) GetOrCreate(roomID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[roomID]; ok {
		return room
	}
	var room *Room
	room = NewRoom(roomID, r.idleTimeout, func() { r.evict(room) })
	r.rooms[roomID] = room
	return room
}

func (r *Registry) Get(roomID string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) evict(room *Room) {
	r.mu.Lock()
	if cur, ok := r.rooms[room.ID()]; !ok || cur != room || room.Streams() != 0 {
		r.mu.Unlock()
		return
	}
	delete(r.rooms, room.ID())
	r.mu.Unlock()

	room.CloseAll()
	log.Info().Str("component", "roomserver").Str("room_id", room.ID()).Msg("evicted idle room")
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for id, room := range r.rooms {
		rooms = append(rooms, room)
		delete(r.rooms, id)
	}
	r.mu.Unlock()
	for _, room := range rooms {
		room.CloseAll()
	}
}
