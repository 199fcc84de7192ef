package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/scenesync/pkg/protocol"
	"github.com/go-go-golems/scenesync/pkg/scene"
	"github.com/go-go-golems/scenesync/pkg/transport"
)

type fakeStream struct {
	events chan transport.StreamEvent

	mu     sync.Mutex
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan transport.StreamEvent, 16)}
}

func (s *fakeStream) Events() <-chan transport.StreamEvent {
	return s.events
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) open() {
	s.events <- transport.StreamEvent{Kind: transport.StreamOpen}
}

func (s *fakeStream) send(body string) {
	s.events <- transport.StreamEvent{Kind: transport.StreamClient, Data: []byte(body)}
}

func (s *fakeStream) fail(err error) {
	s.events <- transport.StreamEvent{Kind: transport.StreamError, Err: err}
}

type fakeTransport struct {
	autoOpen bool

	mu      sync.Mutex
	posts   []protocol.Envelope
	puts    []protocol.Envelope
	postErr error
	putErr  error
	onPut   func(protocol.Envelope)
	streams []*fakeStream

	subscribed chan *fakeStream
}

func newFakeTransport(autoOpen bool) *fakeTransport {
	return &fakeTransport{autoOpen: autoOpen, subscribed: make(chan *fakeStream, 8)}
}

func (f *fakeTransport) Post(_ context.Context, _ string, env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, env)
	return f.postErr
}

func (f *fakeTransport) Put(_ context.Context, _ string, env protocol.Envelope) error {
	f.mu.Lock()
	f.puts = append(f.puts, env)
	err := f.putErr
	hook := f.onPut
	f.mu.Unlock()
	if hook != nil {
		hook(env)
	}
	return err
}

func (f *fakeTransport) Subscribe(_ context.Context, _ string, _ string) (transport.EventStream, error) {
	s := newFakeStream()
	if f.autoOpen {
		s.open()
	}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	f.subscribed <- s
	return s, nil
}

func (f *fakeTransport) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func (f *fakeTransport) lastPut(t *testing.T) (protocol.Envelope, protocol.RoomMessage) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.puts)
	env := f.puts[len(f.puts)-1]
	msg, err := protocol.Decode([]byte(env.Payload))
	require.NoError(t, err)
	return env, msg
}

func (f *fakeTransport) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func readyScene() *scene.MemoryScene {
	sc := scene.NewMemoryScene()
	sc.SetReady(true)
	return sc
}

func fixedIDs(ids ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[i%len(ids)]
		i++
		return id
	}
}

const testDebounce = 30 * time.Millisecond

// newActiveClient returns a client with an open session "s1" in room "r1".
func newActiveClient(t *testing.T, opts ...ClientOption) (*Client, *scene.MemoryScene, *fakeTransport, *fakeStream) {
	t.Helper()
	sc := readyScene()
	ft := newFakeTransport(true)
	opts = append([]ClientOption{WithDebounce(testDebounce), WithSessionIDGenerator(fixedIDs("s1", "s2", "s3"))}, opts...)
	c, err := NewClient("r1", sc, ft, opts...)
	require.NoError(t, err)
	require.NoError(t, c.StartSession(context.Background()))
	stream := <-ft.subscribed
	t.Cleanup(func() { _ = c.Close() })
	return c, sc, ft, stream
}

func els(pairs ...any) []scene.Element {
	out := make([]scene.Element, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, scene.NewElement(pairs[i].(string), int64(pairs[i+1].(int))))
	}
	return out
}
