// Package collab keeps a local scene in sync with the other members of a
// room.
//
// A Client joins a room (SessionController), applies snapshots pushed by
// peers (RemoteUpdateHandler) and broadcasts local edits (LocalChangeBroadcaster).
// Echo suppression relies only on element versions: a change notification
// whose versions all match the VersionCache is never sent, whether it
// originated locally or came from a peer.
//
// Typical wiring with a MemoryScene:
//
//	client, _ := collab.NewClient("r1", sc, transportClient)
//	sc.OnChange(client.OnChange)
//	if err := client.StartSession(ctx); err != nil { ... }
package collab

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/scenesync/pkg/scene"
)

const DefaultDebounce = 300 * time.Millisecond

type clientConfig struct {
	debounce  time.Duration
	logger    *zerolog.Logger
	sessionID func() string
}

type ClientOption func(*clientConfig) error

// WithDebounce sets the quiet period before a local change is broadcast.
func WithDebounce(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if d < 0 {
			return errors.Errorf("negative debounce %s", d)
		}
		c.debounce = d
		return nil
	}
}

func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *clientConfig) error {
		c.logger = &l
		return nil
	}
}

// WithSessionIDGenerator replaces the random session id source.
func WithSessionIDGenerator(gen func() string) ClientOption {
	return func(c *clientConfig) error {
		if gen == nil {
			return errors.New("session id generator is nil")
		}
		c.sessionID = gen
		return nil
	}
}

// Client is one member of one room.
type Client struct {
	roomID string
	state  *roomState

	session     *SessionController
	remote      *RemoteUpdateHandler
	broadcaster *LocalChangeBroadcaster
}

func NewClient(roomID string, sc scene.Scene, t RoomTransport, opts ...ClientOption) (*Client, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, errors.New("room id is empty")
	}
	if sc == nil {
		return nil, errors.New("scene is nil")
	}
	if t == nil {
		return nil, errors.New("room transport is nil")
	}
	cfg := clientConfig{
		debounce:  DefaultDebounce,
		sessionID: uuid.NewString,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	base := log.Logger
	if cfg.logger != nil {
		base = *cfg.logger
	}
	logger := base.With().Str("component", "collab").Str("room_id", roomID).Logger()

	state := newRoomState()
	remote := newRemoteUpdateHandler(sc, state, logger)
	return &Client{
		roomID: roomID,
		state:  state,
		remote: remote,
		session: &SessionController{
			roomID:    roomID,
			scene:     sc,
			transport: t,
			state:     state,
			handler:   remote,
			newID:     cfg.sessionID,
			logger:    logger,
		},
		broadcaster: &LocalChangeBroadcaster{
			roomID:    roomID,
			transport: t,
			state:     state,
			debouncer: NewDebouncer(cfg.debounce),
			logger:    logger,
		},
	}, nil
}

func (c *Client) RoomID() string {
	return c.roomID
}

func (c *Client) StartSession(ctx context.Context) error {
	return c.session.StartSession(ctx)
}

// Close ends the session. A broadcast still pending in the debounce window
// is left to hit the no-session guard.
func (c *Client) Close() error {
	return c.session.Close()
}

// OnChange is the scene change listener. It has the scene.ChangeListener
// signature so it can be registered directly.
func (c *Client) OnChange(elements []scene.Element, appState scene.AppState) {
	c.broadcaster.OnChange(elements, appState)
}

func (c *Client) Flush() bool {
	return c.broadcaster.Flush()
}

func (c *Client) CancelPending() bool {
	return c.broadcaster.Cancel()
}

// HandleMessage applies one raw room message as if it arrived on the stream.
func (c *Client) HandleMessage(data []byte) error {
	return c.remote.HandleMessage(data)
}

func (c *Client) State() SessionState {
	return c.session.State()
}

func (c *Client) SessionID() string {
	return c.session.SessionID()
}

func (c *Client) Done() <-chan struct{} {
	return c.session.Done()
}

func (c *Client) Session() *SessionController {
	return c.session
}

func (c *Client) Broadcaster() *LocalChangeBroadcaster {
	return c.broadcaster
}

func (c *Client) RemoteUpdates() *RemoteUpdateHandler {
	return c.remote
}

func (c *Client) CachedVersion(id string) (int64, bool) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return c.state.cache.Get(id)
}

func (c *Client) CachedVersions() map[string]int64 {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return c.state.cache.Snapshot()
}
