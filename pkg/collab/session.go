package collab

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/scenesync/pkg/protocol"
	"github.com/go-go-golems/scenesync/pkg/scene"
	"github.com/go-go-golems/scenesync/pkg/transport"
)

// RoomTransport is the room service as seen by a client: JOIN goes through
// Post, snapshots through Put, and peer updates arrive on the stream returned
// by Subscribe.
type RoomTransport interface {
	Post(ctx context.Context, roomID string, env protocol.Envelope) error
	Put(ctx context.Context, roomID string, env protocol.Envelope) error
	Subscribe(ctx context.Context, roomID, sessionID string) (transport.EventStream, error)
}

// SessionController owns the join handshake and the lifetime of a session:
// Idle -> Joining -> Active -> Closed.
type SessionController struct {
	roomID    string
	scene     scene.Scene
	transport RoomTransport
	state     *roomState
	handler   *RemoteUpdateHandler
	newID     func() string
	logger    zerolog.Logger

	// guarded by state.mu
	cancelJoin   context.CancelFunc
	stream       transport.EventStream
	cancelStream context.CancelFunc
	done         chan struct{}
}

// StartSession joins the room under a fresh session id and returns once the
// inbound stream is open. On any failure the controller is back in Idle and
// no session id is exposed.
func (c *SessionController) StartSession(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !c.scene.Ready() {
		c.logger.Info().Msg("scene not ready, not joining")
		return ErrSceneNotReady
	}

	joinCtx, cancelJoin := context.WithCancel(ctx)
	defer cancelJoin()

	c.state.mu.Lock()
	if st := c.state.status; st == StateJoining || st == StateActive {
		c.state.mu.Unlock()
		return ErrSessionInProgress
	}
	c.state.status = StateJoining
	c.state.sessionID = ""
	c.cancelJoin = cancelJoin
	c.state.mu.Unlock()

	sessionID := c.newID()
	logger := c.logger.With().Str("session_id", sessionID).Logger()

	env, err := protocol.NewEnvelope(sessionID, protocol.Join())
	if err != nil {
		c.abortJoin()
		return errors.Wrap(err, "encode join")
	}
	if err := c.transport.Post(joinCtx, c.roomID, env); err != nil {
		logger.Error().Err(err).Msg("session could not be created")
		c.abortJoin()
		if joinCtx.Err() != nil {
			return joinCtx.Err()
		}
		return errors.Wrap(ErrJoinRejected, err.Error())
	}

	streamCtx, cancelStream := context.WithCancel(context.Background())
	stream, err := c.transport.Subscribe(streamCtx, c.roomID, sessionID)
	if err != nil {
		cancelStream()
		logger.Error().Err(err).Msg("could not open session stream")
		c.abortJoin()
		return streamFailure(err)
	}

	if err := waitForOpen(joinCtx, stream); err != nil {
		cancelStream()
		_ = stream.Close()
		logger.Error().Err(err).Msg("session stream did not open")
		c.abortJoin()
		return err
	}

	done := make(chan struct{})
	c.state.mu.Lock()
	if joinCtx.Err() != nil {
		c.state.mu.Unlock()
		cancelStream()
		_ = stream.Close()
		c.abortJoin()
		return joinCtx.Err()
	}
	c.state.status = StateActive
	c.state.sessionID = sessionID
	c.cancelJoin = nil
	c.stream = stream
	c.cancelStream = cancelStream
	c.done = done
	c.state.mu.Unlock()

	go c.pump(streamCtx, stream, sessionID, done, logger)

	logger.Info().Msg("session created")
	return nil
}

// Close tears down the active session, or aborts a join in progress. Once it
// returns no further stream events are applied.
func (c *SessionController) Close() error {
	c.state.mu.Lock()
	switch c.state.status {
	case StateJoining:
		cancel := c.cancelJoin
		c.state.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	case StateActive:
		sessionID := c.state.sessionID
		stream, cancel, done := c.detachLocked()
		c.state.mu.Unlock()

		cancel()
		err := stream.Close()
		<-done
		c.logger.Info().Str("session_id", sessionID).Msg("session closed")
		return err
	default:
		c.state.mu.Unlock()
		return nil
	}
}

func (c *SessionController) State() SessionState {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return c.state.status
}

// SessionID is empty unless the session is active.
func (c *SessionController) SessionID() string {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	id, _ := c.state.activeSessionLocked()
	return id
}

// Done is closed when the current session's stream stops delivering. It is
// nil when no session has been active yet.
func (c *SessionController) Done() <-chan struct{} {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return c.done
}

func (c *SessionController) pump(ctx context.Context, stream transport.EventStream, sessionID string, done chan struct{}, logger zerolog.Logger) {
	defer close(done)

	current := func() bool {
		return c.state.status == StateActive && c.state.sessionID == sessionID
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream.Events():
			if !ok {
				c.fail(sessionID, errors.New("stream ended"), logger)
				return
			}
			switch ev.Kind {
			case transport.StreamClient:
				err := c.handler.handle(ev.Data, current)
				if errors.Is(err, ErrNoSession) {
					return
				}
				if err != nil {
					logger.Debug().Err(err).Msg("peer update not applied")
				}
			case transport.StreamError:
				c.fail(sessionID, ev.Err, logger)
				return
			case transport.StreamOpen:
			}
		}
	}
}

// fail ends the session after a stream error. There is no reconnect.
func (c *SessionController) fail(sessionID string, cause error, logger zerolog.Logger) {
	c.state.mu.Lock()
	if c.state.status != StateActive || c.state.sessionID != sessionID {
		c.state.mu.Unlock()
		return
	}
	stream, cancel, _ := c.detachLocked()
	c.state.mu.Unlock()

	cancel()
	_ = stream.Close()
	logger.Error().Err(streamFailure(cause)).Msg("session stream failed, session closed")
}

func (c *SessionController) detachLocked() (transport.EventStream, context.CancelFunc, chan struct{}) {
	c.state.status = StateClosed
	c.state.sessionID = ""
	stream, cancel, done := c.stream, c.cancelStream, c.done
	c.stream = nil
	c.cancelStream = nil
	return stream, cancel, done
}

func (c *SessionController) abortJoin() {
	c.state.mu.Lock()
	c.state.status = StateIdle
	c.state.sessionID = ""
	c.cancelJoin = nil
	c.state.mu.Unlock()
}

func waitForOpen(ctx context.Context, stream transport.EventStream) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				return streamFailure(errors.New("stream closed before open"))
			}
			switch ev.Kind {
			case transport.StreamOpen:
				return nil
			case transport.StreamError:
				return streamFailure(ev.Err)
			case transport.StreamClient:
				// nothing is delivered before the session is active
			}
		}
	}
}

func streamFailure(cause error) error {
	if cause == nil {
		return ErrStreamFailed
	}
	return errors.Wrap(ErrStreamFailed, cause.Error())
}
