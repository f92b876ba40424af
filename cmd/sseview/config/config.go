// Package configcmder provides the config command for managing persistent
// sseview configuration stored in the .sseview/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/sseview/pkg/cliui"
	"github.com/papercomputeco/sseview/pkg/config"
)

const configLongDesc string = `Manage persistent sseview configuration.

Configuration is stored as config.toml in the .sseview/ directory and provides
default values for command flags. Environment variables (SSEVIEW_*) override
the file, and CLI flags always take precedence over both.

Keys use dotted notation matching the TOML section structure:
  proxy.upstream, proxy.listen, proxy.default_context,
  api.listen, api.disable_mcp,
  client.proxy_target, client.api_target,
  capture.dedupe_window_ms, capture.observer_buffer, capture.max_body_bytes,
  eventstream.provider, eventstream.brokers, eventstream.topic, eventstream.client_id,
  log.format, log.debug

Use subcommands to get, set, or list configuration values:
  sseview config set <key> <value>    Set a configuration value
  sseview config get <key>            Get a configuration value
  sseview config list                 List all configuration values

Examples:
  sseview config set proxy.upstream http://localhost:5173
  sseview config set eventstream.provider kafka
  sseview config get capture.dedupe_window_ms
  sseview config list`

const configShortDesc string = "Manage persistent sseview configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func unknownKeyError(key string) error {
	return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
		key, strings.Join(config.ValidConfigKeys(), ", "))
}

func printTarget(w io.Writer, cfger *config.Configer) {
	if target := cfger.GetTarget(); target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
		return
	}
	fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
}
