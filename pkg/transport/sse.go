package transport

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const maxSSELine = 16 << 20

type sseStream struct {
	events chan StreamEvent
	cancel context.CancelFunc
	done   chan struct{}
}

func openSSEStream(parent context.Context, client *http.Client, target string, logger zerolog.Logger) *sseStream {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &sseStream{
		events: make(chan StreamEvent, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx, client, target, logger.With().Str("stream", "sse").Str("url", target).Logger())
	return s
}

func (s *sseStream) Events() <-chan StreamEvent {
	return s.events
}

func (s *sseStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *sseStream) run(ctx context.Context, client *http.Client, target string, logger zerolog.Logger) {
	defer close(s.done)
	defer close(s.events)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		s.emit(ctx, StreamEvent{Kind: StreamError, Err: errors.Wrap(err, "build stream request")})
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		s.emit(ctx, StreamEvent{Kind: StreamError, Err: errors.Wrap(err, "open event stream")})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.emit(ctx, StreamEvent{Kind: StreamError, Err: &StatusError{
			Method:     http.MethodGet,
			URL:        target,
			StatusCode: resp.StatusCode,
		}})
		return
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		s.emit(ctx, StreamEvent{Kind: StreamError, Err: errors.Errorf("unexpected stream content type %q", ct)})
		return
	}

	if !s.emit(ctx, StreamEvent{Kind: StreamOpen}) {
		return
	}
	logger.Debug().Msg("event stream open")

	err = readSSE(resp.Body, func(name, data string) bool {
		if name != string(StreamClient) {
			logger.Trace().Str("event", name).Msg("ignoring stream event")
			return true
		}
		return s.emit(ctx, StreamEvent{Kind: StreamClient, Data: []byte(data)})
	})
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = io.EOF
	}
	s.emit(ctx, StreamEvent{Kind: StreamError, Err: errors.Wrap(err, "event stream closed")})
}

func (s *sseStream) emit(ctx context.Context, ev StreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// readSSE parses a text/event-stream body and calls dispatch for every
// complete event. Events without a name are reported as "message". Parsing
// stops when dispatch returns false.
func readSSE(r io.Reader, dispatch func(name, data string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

	var (
		name    string
		data    strings.Builder
		hasData bool
	)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			if hasData {
				if name == "" {
					name = "message"
				}
				if !dispatch(name, data.String()) {
					return nil
				}
			}
			name = ""
			data.Reset()
			hasData = false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "event":
			name = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
	return scanner.Err()
}
