package roomserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/scenesync/pkg/protocol"
	"github.com/go-go-golems/scenesync/pkg/roomserver"
	"github.com/go-go-golems/scenesync/pkg/scene"
	"github.com/go-go-golems/scenesync/pkg/transport"
)

func newTestServer(t *testing.T, opts ...roomserver.ServerOption) *httptest.Server {
	t.Helper()
	s, err := roomserver.NewServer(append([]roomserver.ServerOption{roomserver.WithHeartbeat(0)}, opts...)...)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Close()
		ts.Close()
	})
	return ts
}

func newTransport(t *testing.T, baseURL string, kind transport.StreamKind) *transport.Client {
	t.Helper()
	c, err := transport.NewClient(baseURL, transport.WithStreamKind(kind))
	require.NoError(t, err)
	return c
}

func envelope(t *testing.T, sessionID string, msg protocol.RoomMessage) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(sessionID, msg)
	require.NoError(t, err)
	return env
}

func join(t *testing.T, c *transport.Client, room, sessionID string) {
	t.Helper()
	require.NoError(t, c.Post(context.Background(), room, envelope(t, sessionID, protocol.Join())))
}

func next(t *testing.T, s transport.EventStream) transport.StreamEvent {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stream event")
		return transport.StreamEvent{}
	}
}

func openStream(t *testing.T, c *transport.Client, room, sessionID string) transport.EventStream {
	t.Helper()
	s, err := c.Subscribe(context.Background(), room, sessionID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ev := next(t, s)
	require.Equal(t, transport.StreamOpen, ev.Kind, "stream did not open: %v", ev.Err)
	return s
}

func TestJoinAndRoomInfo(t *testing.T) {
	ts := newTestServer(t)
	c := newTransport(t, ts.URL, transport.StreamKindSSE)
	join(t, c, "r1", "s1")
	join(t, c, "r1", "s2")

	resp, err := http.Get(ts.URL + "/rooms/r1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var info struct {
		Room    string `json:"room"`
		Members int    `json:"members"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Equal(t, "r1", info.Room)
	require.Equal(t, 2, info.Members)
}

func TestRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t)
	c := newTransport(t, ts.URL, transport.StreamKindSSE)
	ctx := context.Background()

	var se *transport.StatusError

	// broadcast before join
	err := c.Put(ctx, "r1", envelope(t, "s1", protocol.UpdateScene(nil)))
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusNotFound, se.StatusCode)

	// POST carries updates too, under the same membership rule
	err = c.Post(ctx, "r1", envelope(t, "s1", protocol.UpdateScene(nil)))
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusNotFound, se.StatusCode)
	join(t, c, "r1", "s1")
	require.NoError(t, c.Post(ctx, "r1", envelope(t, "s1", protocol.UpdateScene(nil))))

	// JOIN is not a broadcast
	err = c.Put(ctx, "r1", envelope(t, "s1", protocol.Join()))
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadRequest, se.StatusCode)

	resp, err := http.Post(ts.URL+"/rooms/r1", "application/json", bytes.NewBufferString(`{"id":"s1","payload":"{\"type\":\"BOGUS\"}"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// stream for a session that never joined
	resp, err = http.Get(ts.URL + "/rooms/r1/ghost")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func testFanOut(t *testing.T, kind transport.StreamKind) {
	ts := newTestServer(t)
	c := newTransport(t, ts.URL, kind)
	join(t, c, "r1", "a")
	join(t, c, "r1", "b")
	join(t, c, "other", "c")

	streamA := openStream(t, c, "r1", "a")
	streamB := openStream(t, c, "r1", "b")
	streamC := openStream(t, c, "other", "c")

	update := protocol.UpdateScene([]scene.Element{scene.NewElement("x", 1)})
	require.NoError(t, c.Put(context.Background(), "r1", envelope(t, "a", update)))

	ev := next(t, streamB)
	require.Equal(t, transport.StreamClient, ev.Kind)
	msg, err := protocol.Decode(ev.Data)
	require.NoError(t, err)
	require.Equal(t, protocol.MessageTypeUpdateScene, msg.Type)
	require.Equal(t, map[string]int64{"x": 1}, scene.Versions(msg.Elements))

	for _, s := range []transport.EventStream{streamA, streamC} {
		select {
		case ev := <-s.Events():
			t.Fatalf("unexpected event %+v", ev)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestFanOut_SSE(t *testing.T) {
	testFanOut(t, transport.StreamKindSSE)
}

func TestFanOut_WebSocket(t *testing.T) {
	testFanOut(t, transport.StreamKindWebSocket)
}

func TestSecondStreamForSameSessionRejected(t *testing.T) {
	ts := newTestServer(t)
	c := newTransport(t, ts.URL, transport.StreamKindSSE)
	join(t, c, "r1", "a")
	openStream(t, c, "r1", "a")

	resp, err := http.Get(ts.URL + "/rooms/r1/a")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServerCloseEndsStreams(t *testing.T) {
	s, err := roomserver.NewServer(roomserver.WithHeartbeat(0))
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	c := newTransport(t, ts.URL, transport.StreamKindSSE)
	join(t, c, "r1", "a")
	stream := openStream(t, c, "r1", "a")

	require.NoError(t, s.Close())
	ev := next(t, stream)
	require.Equal(t, transport.StreamError, ev.Kind)
}

func TestHeartbeatKeepsStreamQuiet(t *testing.T) {
	ts := newTestServer(t, roomserver.WithHeartbeat(10*time.Millisecond))
	c := newTransport(t, ts.URL, transport.StreamKindSSE)
	join(t, c, "r1", "a")
	stream := openStream(t, c, "r1", "a")

	// keep-alive comments are not surfaced as events
	select {
	case ev := <-stream.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(60 * time.Millisecond):
	}
}
