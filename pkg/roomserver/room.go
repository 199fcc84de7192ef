package roomserver

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownSession  = errors.New("session has not joined the room")
	ErrAlreadyAttached = errors.New("session already has a stream")
	ErrRoomClosed      = errors.New("room is closed")
)

type member struct {
	sessionID string
	// close tears down the member's stream; nil until a stream attaches.
	close func()
}

// Room tracks the sessions that joined one room and which of them have a
// live stream. When no stream is attached for idleTimeout, onIdle fires.
type Room struct {
	id          string
	mu          sync.Mutex
	members     map[string]*member
	streams     int
	closed      bool
	idleTimer   *time.Timer
	idleTimeout time.Duration
	onIdle      func()
}

func NewRoom(id string, idleTimeout time.Duration, onIdle func()) *Room {
	return &Room{
		id:          id,
		members:     map[string]*member{},
		idleTimeout: idleTimeout,
		onIdle:      onIdle,
	}
}

func (r *Room) ID() string {
	return r.id
}

// Join registers sessionID. Joining twice is not an error.
func (r *Room) Join(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	if _, ok := r.members[sessionID]; !ok {
		r.members[sessionID] = &member{sessionID: sessionID}
	}
	r.scheduleIdleTimerLocked()
	return nil
}

func (r *Room) IsMember(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[sessionID]
	return ok
}

// Attach marks sessionID as streaming. closeFn is called by CloseAll. The
// returned detach func removes the member from the room.
func (r *Room) Attach(sessionID string, closeFn func()) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRoomClosed
	}
	m, ok := r.members[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	if m.close != nil {
		return nil, ErrAlreadyAttached
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	m.close = closeFn
	r.streams++
	r.stopIdleTimerLocked()

	var once sync.Once
	return func() { once.Do(func() { r.detach(m) }) }, nil
}

func (r *Room) detach(m *member) {
	r.mu.Lock()
	if cur, ok := r.members[m.sessionID]; ok && cur == m {
		delete(r.members, m.sessionID)
		r.streams--
	}
	r.scheduleIdleTimerLocked()
	r.mu.Unlock()
	log.Debug().Str("component", "roomserver").Str("room_id", r.id).Str("session_id", m.sessionID).Msg("member left")
}

// Count is the number of joined sessions, streaming or not.
func (r *Room) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Room) Streams() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams
}

// CloseAll ends every attached stream and refuses further joins.
func (r *Room) CloseAll() {
	r.mu.Lock()
	r.closed = true
	closers := make([]func(), 0, r.streams)
	for _, m := range r.members {
		if m.close != nil {
			closers = append(closers, m.close)
		}
	}
	r.stopIdleTimerLocked()
	r.mu.Unlock()
	for _, c := range closers {
		c()
	}
}

func (r *Room) stopIdleTimerLocked() {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
}

func (r *Room) scheduleIdleTimerLocked() {
	r.stopIdleTimerLocked()
	if r.streams != 0 || r.closed || r.idleTimeout <= 0 || r.onIdle == nil {
		return
	}
	r.idleTimer = time.AfterFunc(r.idleTimeout, r.triggerIdle)
}

func (r *Room) triggerIdle() {
	var callback func()
	r.mu.Lock()
	if r.streams == 0 && !r.closed {
		callback = r.onIdle
	}
	r.idleTimer = nil
	r.mu.Unlock()
	if callback != nil {
		callback()
	}
}
