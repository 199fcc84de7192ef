package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func defaultWSDialer() *websocket.Dialer {
	d := *websocket.DefaultDialer
	return &d
}

type wsStream struct {
	events chan StreamEvent
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

func openWebSocketStream(parent context.Context, dialer *websocket.Dialer, target string, logger zerolog.Logger) *wsStream {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &wsStream{
		events: make(chan StreamEvent, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx, dialer, target, logger.With().Str("stream", "websocket").Str("url", target).Logger())
	return s
}

func (s *wsStream) Events() <-chan StreamEvent {
	return s.events
}

func (s *wsStream) Close() error {
	s.cancel()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	<-s.done
	return nil
}

func (s *wsStream) run(ctx context.Context, dialer *websocket.Dialer, target string, logger zerolog.Logger) {
	defer close(s.done)
	defer close(s.events)

	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		s.emit(ctx, StreamEvent{Kind: StreamError, Err: errors.Wrap(err, "dial websocket stream")})
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() { _ = conn.Close() }()

	// unblock ReadMessage when the stream is closed
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	if !s.emit(ctx, StreamEvent{Kind: StreamOpen}) {
		return
	}
	logger.Debug().Msg("websocket stream open")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.emit(ctx, StreamEvent{Kind: StreamError, Err: errors.Wrap(err, "websocket stream closed")})
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if !s.emit(ctx, StreamEvent{Kind: StreamClient, Data: data}) {
			return
		}
	}
}

func (s *wsStream) emit(ctx context.Context, ev StreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
