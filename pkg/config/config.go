// Package config maps the viper configuration (config file, SCENESYNC_*
// environment and bound flags) onto scenesync settings.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/scenesync/pkg/collab"
	"github.com/go-go-golems/scenesync/pkg/redisstream"
	"github.com/go-go-golems/scenesync/pkg/transport"
)

// AppName is the viper application name; environment variables carry the
// SCENESYNC_ prefix and the config file lives in ~/.scenesync.
const AppName = "scenesync"

const (
	KeyClientBaseURL     = "client.base-url"
	KeyClientRoom        = "client.room"
	KeyClientDebounce    = "client.debounce"
	KeyClientStream      = "client.stream"
	KeyClientHTTPTimeout = "client.http-timeout"
	KeyServerAddr        = "server.addr"
	KeyServerHeartbeat   = "server.heartbeat"
	KeyServerIdleTimeout = "server.idle-timeout"
	KeyRedisEnabled      = "redis.enabled"
	KeyRedisAddr         = "redis.addr"
	KeyRedisPrefix       = "redis.prefix"
)

// client.base-url is read from SCENESYNC_CLIENT_BASE_URL.
var envKeyReplacer = strings.NewReplacer(".", "_", "-", "_")

type ClientSettings struct {
	BaseURL     string        `mapstructure:"base-url"`
	Room        string        `mapstructure:"room"`
	Debounce    time.Duration `mapstructure:"debounce"`
	Stream      string        `mapstructure:"stream"`
	HTTPTimeout time.Duration `mapstructure:"http-timeout"`
}

type ServerSettings struct {
	Addr      string        `mapstructure:"addr"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	// IdleTimeout evicts a room once it has had no attached stream for this
	// long. Zero keeps rooms until shutdown.
	IdleTimeout time.Duration `mapstructure:"idle-timeout"`
}

type Settings struct {
	Client ClientSettings       `mapstructure:"client"`
	Server ServerSettings       `mapstructure:"server"`
	Redis  redisstream.Settings `mapstructure:"redis"`
}

func Default() Settings {
	return Settings{
		Client: ClientSettings{
			BaseURL:     transport.DefaultBaseURL,
			Debounce:    collab.DefaultDebounce,
			Stream:      string(transport.StreamKindSSE),
			HTTPTimeout: transport.DefaultRequestTimeout,
		},
		Server: ServerSettings{
			Addr:      ":8080",
			Heartbeat: 15 * time.Second,
		},
		Redis: redisstream.DefaultSettings(),
	}
}

// SetDefaults registers every settings key with v, so that environment
// variables are seen for keys that appear in neither the file nor the flags.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyClientBaseURL, d.Client.BaseURL)
	v.SetDefault(KeyClientRoom, d.Client.Room)
	v.SetDefault(KeyClientDebounce, d.Client.Debounce)
	v.SetDefault(KeyClientStream, d.Client.Stream)
	v.SetDefault(KeyClientHTTPTimeout, d.Client.HTTPTimeout)
	v.SetDefault(KeyServerAddr, d.Server.Addr)
	v.SetDefault(KeyServerHeartbeat, d.Server.Heartbeat)
	v.SetDefault(KeyServerIdleTimeout, d.Server.IdleTimeout)
	v.SetDefault(KeyRedisEnabled, d.Redis.Enabled)
	v.SetDefault(KeyRedisAddr, d.Redis.Addr)
	v.SetDefault(KeyRedisPrefix, d.Redis.Prefix)
}

// Load reads the settings out of v and validates them. Precedence is the
// viper one: changed flag, environment, config file, default.
func Load(v *viper.Viper) (Settings, error) {
	v.SetEnvKeyReplacer(envKeyReplacer)
	SetDefaults(v)

	s := Default()
	if err := v.Unmarshal(&s); err != nil {
		return s, errors.Wrap(err, "decode settings")
	}
	return s, s.Validate()
}

// Dump renders s the way it would be written in the config file, with
// durations in time.ParseDuration form.
func Dump(s Settings) ([]byte, error) {
	doc := map[string]map[string]any{
		"client": {
			"base-url":     s.Client.BaseURL,
			"room":         s.Client.Room,
			"debounce":     s.Client.Debounce.String(),
			"stream":       s.Client.Stream,
			"http-timeout": s.Client.HTTPTimeout.String(),
		},
		"server": {
			"addr":         s.Server.Addr,
			"heartbeat":    s.Server.Heartbeat.String(),
			"idle-timeout": s.Server.IdleTimeout.String(),
		},
		"redis": {
			"enabled": s.Redis.Enabled,
			"addr":    s.Redis.Addr,
			"prefix":  s.Redis.Prefix,
		},
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encode settings")
	}
	return b, nil
}

func (s Settings) Validate() error {
	if _, ok := transport.ParseStreamKind(s.Client.Stream); !ok {
		return errors.Errorf("unknown stream kind %q", s.Client.Stream)
	}
	if s.Client.Debounce < 0 {
		return errors.Errorf("negative debounce %s", s.Client.Debounce)
	}
	if s.Server.Heartbeat < 0 {
		return errors.Errorf("negative heartbeat %s", s.Server.Heartbeat)
	}
	if strings.TrimSpace(s.Client.BaseURL) == "" {
		return errors.New("client base url is empty")
	}
	return s.Redis.Validate()
}
