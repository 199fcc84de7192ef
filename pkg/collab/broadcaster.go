package collab

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/scenesync/pkg/protocol"
	"github.com/go-go-golems/scenesync/pkg/scene"
)

// LocalChangeBroadcaster turns local scene change notifications into
// UPDATE_SCENE broadcasts. Notifications are debounced; a broadcast only
// happens if some element's version differs from the version cache, and it
// always carries the full element list.
type LocalChangeBroadcaster struct {
	roomID    string
	transport RoomTransport
	state     *roomState
	debouncer *Debouncer
	logger    zerolog.Logger

	// sendMu keeps at most one PUT in flight so the room sees updates in
	// the order they were decided.
	sendMu sync.Mutex
}

// OnChange schedules a broadcast of elements. Within one debounce window only
// the last call counts. appState is accepted for signature compatibility with
// scene listeners and ignored.
func (b *LocalChangeBroadcaster) OnChange(elements []scene.Element, _ scene.AppState) {
	snapshot := scene.Clone(elements)
	b.debouncer.Trigger(func() {
		_ = b.Broadcast(context.Background(), snapshot)
	})
}

// Flush runs a pending broadcast immediately. It must not be called from
// inside a scene change listener.
func (b *LocalChangeBroadcaster) Flush() bool {
	return b.debouncer.Flush()
}

// Cancel drops a pending broadcast.
func (b *LocalChangeBroadcaster) Cancel() bool {
	return b.debouncer.Cancel()
}

func (b *LocalChangeBroadcaster) Pending() bool {
	return b.debouncer.Pending()
}

// Broadcast sends elements now, without debouncing. It returns ErrNoSession
// when no session is active and nil when every version is already known to
// the room.
func (b *LocalChangeBroadcaster) Broadcast(ctx context.Context, elements []scene.Element) error {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.state.mu.Lock()
	sessionID, ok := b.state.activeSessionLocked()
	if !ok {
		b.state.mu.Unlock()
		return ErrNoSession
	}
	if b.state.cache.Matches(elements) {
		b.state.mu.Unlock()
		b.logger.Trace().Int("elements", len(elements)).Msg("versions unchanged, not broadcasting")
		return nil
	}
	generation := b.state.generation
	b.state.mu.Unlock()

	logger := b.logger.With().Str("session_id", sessionID).Int("elements", len(elements)).Logger()

	env, err := protocol.NewEnvelope(sessionID, protocol.UpdateScene(elements))
	if err != nil {
		logger.Error().Err(err).Msg("could not encode scene update")
		return errors.Wrap(err, "encode scene update")
	}
	if err := b.transport.Put(ctx, b.roomID, env); err != nil {
		logger.Error().Err(err).Msg("scene update was not accepted")
		return errors.Wrap(ErrBroadcastRejected, err.Error())
	}

	b.state.mu.Lock()
	// a snapshot applied while the request was in flight is newer than ours
	if b.state.generation == generation && b.state.sessionID == sessionID {
		b.state.replaceCacheLocked(VersionsOf(elements))
	}
	b.state.mu.Unlock()

	logger.Debug().Msg("broadcast scene update")
	return nil
}
