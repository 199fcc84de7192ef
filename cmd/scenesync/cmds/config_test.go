package cmds

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/scenesync/pkg/config"
)

// resetViper gives a test the environment binding the root command sets up.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	viper.SetEnvPrefix(config.AppName)
	viper.AutomaticEnv()
	t.Cleanup(viper.Reset)
}

func TestJoinFlags_BoundToSettings(t *testing.T) {
	resetViper(t)
	t.Setenv("SCENESYNC_CLIENT_STREAM", "websocket")

	cmd, err := NewJoinCommand()
	require.NoError(t, err)
	require.NoError(t, cmd.Flags().Parse([]string{"--debounce", "75ms"}))

	s, err := config.Load(viper.GetViper())
	require.NoError(t, err)
	require.Equal(t, 75*time.Millisecond, s.Client.Debounce)
	require.Equal(t, "websocket", s.Client.Stream)
	require.Equal(t, config.Default().Client.BaseURL, s.Client.BaseURL)
}

func TestServeFlags_BoundToSettings(t *testing.T) {
	resetViper(t)
	t.Setenv("SCENESYNC_SERVER_HEARTBEAT", "3s")

	cmd, err := NewServeCommand()
	require.NoError(t, err)
	require.NoError(t, cmd.Flags().Parse([]string{"--addr", ":7070", "--redis-enabled"}))

	s, err := config.Load(viper.GetViper())
	require.NoError(t, err)
	require.Equal(t, ":7070", s.Server.Addr)
	require.Equal(t, 3*time.Second, s.Server.Heartbeat)
	require.True(t, s.Redis.Enabled)
}

func TestConfigCommand_PrintsEffectiveSettings(t *testing.T) {
	resetViper(t)
	t.Setenv("SCENESYNC_CLIENT_ROOM", "lobby")

	cmd := NewConfigCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "room: lobby")
	require.Contains(t, out.String(), "debounce: 300ms")
}
