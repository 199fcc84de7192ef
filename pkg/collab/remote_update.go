package collab

import (
	"github.com/rs/zerolog"

	"github.com/go-go-golems/scenesync/pkg/protocol"
	"github.com/go-go-golems/scenesync/pkg/scene"
)

// RemoteUpdateHandler applies inbound room messages to the local scene.
type RemoteUpdateHandler struct {
	scene  scene.Scene
	state  *roomState
	logger zerolog.Logger
}

func newRemoteUpdateHandler(sc scene.Scene, state *roomState, logger zerolog.Logger) *RemoteUpdateHandler {
	return &RemoteUpdateHandler{scene: sc, state: state, logger: logger}
}

// HandleMessage decodes and applies one raw message body. Malformed input is
// logged and returned as a protocol.ErrDecode error; nothing is mutated.
func (h *RemoteUpdateHandler) HandleMessage(data []byte) error {
	return h.handle(data, nil)
}

// handle applies data only while current reports true, checked under the
// state lock so a torn-down session never mutates the scene.
func (h *RemoteUpdateHandler) handle(data []byte, current func() bool) error {
	msg, err := protocol.Decode(data)
	if err != nil {
		h.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed room message")
		return err
	}
	switch msg.Type {
	case protocol.MessageTypeUpdateScene:
		return h.applySnapshot(msg.Elements, current)
	default:
		h.logger.Debug().Str("type", string(msg.Type)).Msg("ignoring room message")
		return nil
	}
}

func (h *RemoteUpdateHandler) applySnapshot(elements []scene.Element, current func() bool) error {
	// applyMu keeps the cache and scene replacements of two snapshots from
	// interleaving; state.mu is released before the scene runs its listeners
	// so they may call back into the client.
	h.state.applyMu.Lock()
	defer h.state.applyMu.Unlock()

	h.state.mu.Lock()
	if current != nil && !current() {
		h.state.mu.Unlock()
		return ErrNoSession
	}
	if !h.scene.Ready() {
		h.state.mu.Unlock()
		h.logger.Debug().Int("elements", len(elements)).Msg("scene not ready, dropping snapshot")
		return ErrSceneNotReady
	}
	h.state.replaceCacheLocked(VersionsOf(elements))
	h.state.mu.Unlock()

	h.scene.ReplaceElements(elements)

	h.logger.Debug().Int("elements", len(elements)).Msg("applied remote snapshot")
	return nil
}
