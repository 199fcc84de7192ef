package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// newViper mirrors what the root command sets up: the SCENESYNC_ prefix, the
// environment and a YAML config body.
func newViper(t *testing.T, body string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetEnvPrefix(AppName)
	v.AutomaticEnv()
	v.SetConfigType("yaml")
	if body != "" {
		require.NoError(t, v.ReadConfig(strings.NewReader(body)))
	}
	return v
}

func TestDefaultIsValid(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())
	require.Equal(t, "http://localhost:8080", s.Client.BaseURL)
	require.Equal(t, 300*time.Millisecond, s.Client.Debounce)
}

func TestLoad_DefaultsOnly(t *testing.T) {
	s, err := Load(newViper(t, ""))
	require.NoError(t, err)
	require.Equal(t, Default(), s)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	v := newViper(t, `
client:
  room: r1
  debounce: 50ms
  stream: websocket
server:
  addr: ":9090"
redis:
  enabled: true
  addr: redis:6379
`)

	s, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, "r1", s.Client.Room)
	require.Equal(t, 50*time.Millisecond, s.Client.Debounce)
	require.Equal(t, "websocket", s.Client.Stream)
	require.Equal(t, ":9090", s.Server.Addr)
	require.True(t, s.Redis.Enabled)
	require.Equal(t, "redis:6379", s.Redis.Addr)
	// untouched keys keep their defaults
	require.Equal(t, "http://localhost:8080", s.Client.BaseURL)
	require.Equal(t, 15*time.Second, s.Server.Heartbeat)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("SCENESYNC_CLIENT_ROOM", "lobby")
	t.Setenv("SCENESYNC_CLIENT_DEBOUNCE", "1s")
	t.Setenv("SCENESYNC_CLIENT_BASE_URL", "http://rooms:9000")
	t.Setenv("SCENESYNC_REDIS_ENABLED", "true")
	t.Setenv("SCENESYNC_SERVER_IDLE_TIMEOUT", "2m")

	s, err := Load(newViper(t, "client:\n  room: r1\n"))
	require.NoError(t, err)
	require.Equal(t, "lobby", s.Client.Room)
	require.Equal(t, time.Second, s.Client.Debounce)
	require.Equal(t, "http://rooms:9000", s.Client.BaseURL)
	require.True(t, s.Redis.Enabled)
	require.Equal(t, 2*time.Minute, s.Server.IdleTimeout)
}

func TestLoad_ChangedFlagWins(t *testing.T) {
	t.Setenv("SCENESYNC_SERVER_ADDR", ":7000")
	v := newViper(t, "server:\n  addr: \":9090\"\n  heartbeat: 5s\n")

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.String("addr", Default().Server.Addr, "")
	fs.Duration("heartbeat", Default().Server.Heartbeat, "")
	require.NoError(t, fs.Parse([]string{"--addr", ":6000"}))
	require.NoError(t, v.BindPFlag(KeyServerAddr, fs.Lookup("addr")))
	require.NoError(t, v.BindPFlag(KeyServerHeartbeat, fs.Lookup("heartbeat")))

	s, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, ":6000", s.Server.Addr)
	// an unchanged flag does not mask the file
	require.Equal(t, 5*time.Second, s.Server.Heartbeat)
}

func TestLoad_InvalidValues(t *testing.T) {
	_, err := Load(newViper(t, "server:\n  heartbeat: soon\n"))
	require.Error(t, err)

	_, err = Load(newViper(t, "client:\n  stream: carrier-pigeon\n"))
	require.Error(t, err)
}

func TestDump_RoundTripsThroughLoad(t *testing.T) {
	want := Default()
	want.Client.Room = "r9"
	want.Redis.Enabled = true

	b, err := Dump(want)
	require.NoError(t, err)
	var raw map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(b, &raw))
	require.Equal(t, "300ms", raw["client"]["debounce"])

	got, err := Load(newViper(t, string(b)))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestValidate(t *testing.T) {
	s := Default()
	s.Client.Stream = "carrier-pigeon"
	require.Error(t, s.Validate())

	s = Default()
	s.Client.Debounce = -time.Second
	require.Error(t, s.Validate())

	s = Default()
	s.Redis.Enabled = true
	s.Redis.Addr = ""
	require.Error(t, s.Validate())
}
