package redisstream

import (
	"github.com/pkg/errors"
)

// Settings holds the Redis Streams fan-out configuration for the room server.
type Settings struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	// Prefix is prepended to every room stream name.
	Prefix string `mapstructure:"prefix"`
}

func DefaultSettings() Settings {
	return Settings{Addr: "localhost:6379", Prefix: "scenesync"}
}

func (s Settings) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.Addr == "" {
		return errors.New("redis enabled but redis addr is empty")
	}
	return nil
}

// StreamName is the Redis stream (watermill topic) carrying one room's envelopes.
func (s Settings) StreamName(roomID string) string {
	if s.Prefix == "" {
		return "room:" + roomID
	}
	return s.Prefix + ":room:" + roomID
}
