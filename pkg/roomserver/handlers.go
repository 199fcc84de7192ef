package roomserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/scenesync/pkg/protocol"
)

type roomInfo struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) readEnvelope(w http.ResponseWriter, r *http.Request) (protocol.Envelope, protocol.RoomMessage, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return protocol.Envelope{}, protocol.RoomMessage{}, false
	}
	env, msg, err := protocol.DecodeEnvelope(body)
	if err != nil {
		s.logger.Debug().Err(err).Str("room_id", r.PathValue("room")).Msg("rejecting malformed envelope")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return protocol.Envelope{}, protocol.RoomMessage{}, false
	}
	return env, msg, true
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	env, msg, ok := s.readEnvelope(w, r)
	if !ok {
		return
	}
	if msg.Type == protocol.MessageTypeUpdateScene {
		s.publish(w, roomID, env, msg)
		return
	}

	room := s.registry.GetOrCreate(roomID)
	err := room.Join(env.SessionID)
	if errors.Is(err, ErrRoomClosed) {
		// evicted between lookup and join
		room = s.registry.GetOrCreate(roomID)
		err = room.Join(env.SessionID)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	s.logger.Info().Str("room_id", roomID).Str("session_id", env.SessionID).Msg("session joined")
	writeJSON(w, http.StatusOK, roomInfo{Room: roomID, Members: room.Count()})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	env, msg, ok := s.readEnvelope(w, r)
	if !ok {
		return
	}
	if msg.Type != protocol.MessageTypeUpdateScene {
		http.Error(w, fmt.Sprintf("expected %s, got %s", protocol.MessageTypeUpdateScene, msg.Type), http.StatusBadRequest)
		return
	}
	s.publish(w, roomID, env, msg)
}

// publish fans an UPDATE_SCENE out to the other members of the room.
func (s *Server) publish(w http.ResponseWriter, roomID string, env protocol.Envelope, msg protocol.RoomMessage) {
	room, ok := s.registry.Get(roomID)
	if !ok || !room.IsMember(env.SessionID) {
		http.Error(w, ErrUnknownSession.Error(), http.StatusNotFound)
		return
	}

	out := message.NewMessage(watermill.NewUUID(), []byte(env.Payload))
	out.Metadata.Set(MetadataSessionID, env.SessionID)
	if err := s.backend.Publish(s.backend.Topic(roomID), out); err != nil {
		s.logger.Error().Err(err).Str("room_id", roomID).Msg("publish failed")
		http.Error(w, "could not publish", http.StatusInternalServerError)
		return
	}

	s.logger.Debug().Str("room_id", roomID).Str("session_id", env.SessionID).Int("elements", len(msg.Elements)).Msg("scene update published")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRoomInfo(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	info := roomInfo{Room: roomID}
	if room, ok := s.registry.Get(roomID); ok {
		info.Members = room.Count()
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	roomID, sessionID := r.PathValue("room"), r.PathValue("session")
	logger := s.logger.With().Str("room_id", roomID).Str("session_id", sessionID).Logger()

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error().Msg("streaming unsupported")
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	room, ok := s.registry.Get(roomID)
	if !ok || !room.IsMember(sessionID) {
		http.Error(w, ErrUnknownSession.Error(), http.StatusNotFound)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	// subscribe before the stream opens so nothing sent after open is missed
	messages, err := s.backend.Subscribe(ctx, s.backend.Topic(roomID), sessionID)
	if err != nil {
		logger.Error().Err(err).Msg("subscribe failed")
		http.Error(w, "could not subscribe", http.StatusInternalServerError)
		return
	}
	detach, err := room.Attach(sessionID, cancel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer detach()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger.Info().Msg("SSE stream opened")

	feed := &memberFeed{
		sessionID: sessionID,
		messages:  messages,
		heartbeat: s.heartbeat,
		deliver: func(payload []byte) error {
			if err := writeSSEEvent(w, "client", payload); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
		onHeartbeat: func() error {
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
		logger: logger,
	}
	if err := feed.run(ctx); err != nil {
		logger.Debug().Err(err).Msg("SSE write failed")
	}
	logger.Info().Msg("SSE stream closed")
}

// writeSSEEvent writes one event, splitting multi-line payloads into several
// data lines.
func writeSSEEvent(w io.Writer, event string, payload []byte) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteByte('\n')
	for _, line := range strings.Split(strings.ReplaceAll(string(payload), "\r\n", "\n"), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID, sessionID := r.PathValue("room"), r.PathValue("session")
	logger := s.logger.With().Str("room_id", roomID).Str("session_id", sessionID).Logger()

	room, ok := s.registry.Get(roomID)
	if !ok || !room.IsMember(sessionID) {
		http.Error(w, ErrUnknownSession.Error(), http.StatusNotFound)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	messages, err := s.backend.Subscribe(ctx, s.backend.Topic(roomID), sessionID)
	if err != nil {
		logger.Error().Err(err).Msg("subscribe failed")
		http.Error(w, "could not subscribe", http.StatusInternalServerError)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	detach, err := room.Attach(sessionID, cancel)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		return
	}
	defer detach()

	logger.Info().Msg("websocket stream opened")
	if err := s.serveWebSocket(ctx, conn, sessionID, messages, logger); err != nil {
		logger.Debug().Err(err).Msg("websocket stream ended")
	}
	logger.Info().Msg("websocket stream closed")
}

func (s *Server) serveWebSocket(ctx context.Context, conn *websocket.Conn, sessionID string, messages <-chan *message.Message, logger zerolog.Logger) error {
	eg, egCtx := errgroup.WithContext(ctx)

	// inbound frames are not part of the protocol; reading only detects the
	// peer going away and services control frames
	eg.Go(func() error {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return errPeerGone
			}
		}
	})
	eg.Go(func() error {
		feed := &memberFeed{
			sessionID: sessionID,
			messages:  messages,
			heartbeat: s.heartbeat,
			deliver: func(payload []byte) error {
				return conn.WriteMessage(websocket.TextMessage, payload)
			},
			onHeartbeat: func() error {
				return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			},
			logger: logger,
		}
		err := feed.run(egCtx)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		// unblocks the reader
		_ = conn.Close()
		if err != nil {
			return err
		}
		return errFeedDone
	})

	err := eg.Wait()
	if errors.Is(err, errPeerGone) || errors.Is(err, errFeedDone) {
		return nil
	}
	return err
}

var (
	errPeerGone = errors.New("peer closed the connection")
	errFeedDone = errors.New("feed ended")
)
