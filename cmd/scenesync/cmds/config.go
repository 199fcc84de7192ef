package cmds

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/scenesync/pkg/config"
)

// NewConfigCommand prints the effective settings after the config file, the
// environment and flags have been merged.
func NewConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Debug().Str("config_path", viper.ConfigFileUsed()).Msg("using config file")
			settings, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			b, err := config.Dump(settings)
			if err != nil {
				return err
			}
			if path := viper.ConfigFileUsed(); path != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}
