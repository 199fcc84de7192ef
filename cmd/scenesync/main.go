package main

import (
	"os"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/scenesync/cmd/scenesync/cmds"
	"github.com/go-go-golems/scenesync/pkg/config"
)

func main() {
	root := &cobra.Command{
		Use:           "scenesync",
		Short:         "Keep a drawing scene in sync across the members of a room",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.InitLoggerFromViper()
		},
	}

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, root)

	// --config, the logging flags and SCENESYNC_* environment lookups
	if err := clay.InitViper(config.AppName, root); err != nil {
		cobra.CheckErr(err)
	}

	serveCmd, err := cmds.NewServeCommand()
	cobra.CheckErr(err)
	joinCmd, err := cmds.NewJoinCommand()
	cobra.CheckErr(err)
	root.AddCommand(serveCmd, joinCmd, cmds.NewConfigCommand())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("scenesync failed")
		os.Exit(1)
	}
}
