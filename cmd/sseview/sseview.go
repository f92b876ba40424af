// Package sseviewcmder
package sseviewcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/sseview/cmd/sseview/config"
	initcmder "github.com/papercomputeco/sseview/cmd/sseview/init"
	servecmder "github.com/papercomputeco/sseview/cmd/sseview/serve"
	sessionscmder "github.com/papercomputeco/sseview/cmd/sseview/sessions"
	tapcmder "github.com/papercomputeco/sseview/cmd/sseview/tap"
	versioncmder "github.com/papercomputeco/sseview/cmd/sseview/version"
	watchcmder "github.com/papercomputeco/sseview/cmd/sseview/watch"
)

const sseviewLongDesc string = `sseview captures server-sent event streams and shows them as they arrive.

Run services using:
  sseview serve api      Run the aggregator API server
  sseview serve proxy    Run the capture proxy, relaying to a running API server
  sseview serve          Run both together in one process

Inspect captured traffic using:
  sseview watch          Follow sessions and events live
  sseview sessions       List, show or clear captured sessions
  sseview tap <url>      Open an event stream and capture it directly`

const sseviewShortDesc string = "sseview - server-sent event capture"

func NewSseviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sseview",
		Short:         sseviewShortDesc,
		Long:          sseviewLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .sseview/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(watchcmder.NewWatchCmd())
	cmd.AddCommand(sessionscmder.NewSessionsCmd())
	cmd.AddCommand(tapcmder.NewTapCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
