package cmds

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/scenesync/pkg/config"
	"github.com/go-go-golems/scenesync/pkg/logging"
	"github.com/go-go-golems/scenesync/pkg/roomserver"
)

func NewServeCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the room server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			s := settings.Server
			r := settings.Redis

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := []roomserver.ServerOption{
				roomserver.WithHeartbeat(s.Heartbeat),
				roomserver.WithIdleTimeout(s.IdleTimeout),
			}
			if r.Enabled {
				backend, err := roomserver.NewRedisBackend(ctx, r, logging.NewWatermill(log.Logger))
				if err != nil {
					return err
				}
				log.Info().Str("redis_addr", r.Addr).Msg("using redis streams fan-out")
				opts = append(opts, roomserver.WithBackend(backend))
			}

			srv, err := roomserver.NewServer(opts...)
			if err != nil {
				return err
			}
			return srv.Run(ctx, s.Addr)
		},
	}

	d := config.Default()
	f := cmd.Flags()
	f.String("addr", d.Server.Addr, "listen address")
	f.Duration("heartbeat", d.Server.Heartbeat, "stream keep-alive interval, 0 disables")
	f.Duration("idle-timeout", d.Server.IdleTimeout, "evict rooms without streams after this long, 0 disables")
	f.Bool("redis-enabled", d.Redis.Enabled, "fan out through Redis Streams")
	f.String("redis-addr", d.Redis.Addr, "Redis address host:port")
	f.String("redis-prefix", d.Redis.Prefix, "prefix for room stream names")

	err := bindFlags(f, map[string]string{
		"addr":          config.KeyServerAddr,
		"heartbeat":     config.KeyServerHeartbeat,
		"idle-timeout":  config.KeyServerIdleTimeout,
		"redis-enabled": config.KeyRedisEnabled,
		"redis-addr":    config.KeyRedisAddr,
		"redis-prefix":  config.KeyRedisPrefix,
	})
	if err != nil {
		return nil, err
	}
	return cmd, nil
}
