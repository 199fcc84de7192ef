package cmds

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/scenesync/pkg/config"
	"github.com/go-go-golems/scenesync/pkg/protocol"
	"github.com/go-go-golems/scenesync/pkg/roomserver"
	"github.com/go-go-golems/scenesync/pkg/scene"
	"github.com/go-go-golems/scenesync/pkg/transport"
)

func TestReadSnapshots(t *testing.T) {
	in := strings.NewReader(`
# comment
[{"id":"a","version":1}]

[{"id":"a","version":2},{"id":"b","version":1,"type":"rect"}]
`)
	var got [][]scene.Element
	require.NoError(t, readSnapshots(in, func(els []scene.Element) error {
		got = append(got, els)
		return nil
	}))
	require.Len(t, got, 2)
	require.Equal(t, map[string]int64{"a": 1}, scene.Versions(got[0]))
	require.Equal(t, map[string]int64{"a": 2, "b": 1}, scene.Versions(got[1]))
}

func TestReadSnapshots_Malformed(t *testing.T) {
	err := readSnapshots(strings.NewReader("[{\"id\":\"a\"}]\n"), func([]scene.Element) error { return nil })
	require.ErrorContains(t, err, "input line 1")
}

func TestPrintingScene(t *testing.T) {
	var buf bytes.Buffer
	p := &printingScene{MemoryScene: scene.NewMemoryScene(), out: &buf}
	p.ReplaceElements([]scene.Element{scene.NewElement("x", 3)})

	require.JSONEq(t, `{"type":"UPDATE_SCENE","elements":[{"id":"x","version":3}]}`, strings.TrimSpace(buf.String()))
	require.Len(t, p.Elements(), 1)
}

func TestRunJoin_BroadcastsInputToPeer(t *testing.T) {
	srv, err := roomserver.NewServer(roomserver.WithHeartbeat(0))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Close()
		ts.Close()
	})

	peer, err := transport.NewClient(ts.URL)
	require.NoError(t, err)
	env, err := protocol.NewEnvelope("peer", protocol.Join())
	require.NoError(t, err)
	require.NoError(t, peer.Post(context.Background(), "r1", env))
	stream, err := peer.Subscribe(context.Background(), "r1", "peer")
	require.NoError(t, err)
	t.Cleanup(func() { _ = stream.Close() })
	require.Equal(t, transport.StreamOpen, (<-stream.Events()).Kind)

	settings := config.Default().Client
	settings.BaseURL = ts.URL
	settings.Room = "r1"
	settings.Debounce = 10 * time.Millisecond

	var out bytes.Buffer
	in := strings.NewReader(`[{"id":"x","version":1}]` + "\n")
	require.NoError(t, runJoin(context.Background(), settings, in, &out, true))

	select {
	case ev := <-stream.Events():
		require.Equal(t, transport.StreamClient, ev.Kind)
		msg, err := protocol.Decode(ev.Data)
		require.NoError(t, err)
		require.Equal(t, map[string]int64{"x": 1}, scene.Versions(msg.Elements))
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not receive the snapshot")
	}
}
