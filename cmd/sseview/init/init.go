// Package initcmder provides the init command for initializing a local
// .sseview directory in the current working directory.
package initcmder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/sseview/pkg/cliui"
	"github.com/papercomputeco/sseview/pkg/config"
	"github.com/papercomputeco/sseview/pkg/dotdir"
)

const initLongDesc string = `Initialize a new .sseview/ directory in the current working directory.

Creates a local .sseview/ directory, with a config.toml holding the default
configuration, that takes precedence over ~/.sseview/. Existing contents are
never overwritten.

Examples:
  sseview init
  sseview config set proxy.upstream http://localhost:5173`

const initShortDesc string = "Initialize a local .sseview/ directory"

func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.OutOrStdout())
		},
	}

	return cmd
}

func runInit(w io.Writer) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir, existed, err := dotdir.NewManager().Init(cwd)
	if err != nil {
		return err
	}

	if err := writeDefaultConfig(dir); err != nil {
		return err
	}

	if existed {
		fmt.Fprintf(w, "Already initialized: %s\n", cliui.DimStyle.Render(dir))
		return nil
	}

	fmt.Fprintf(w, "%s Initialized %s directory: %s\n",
		cliui.SuccessMark,
		dotdir.DirName,
		cliui.ValueStyle.Render(dir),
	)
	return nil
}

// writeDefaultConfig writes config.toml into dir unless one is already there.
func writeDefaultConfig(dir string) error {
	_, err := os.Stat(filepath.Join(dir, "config.toml"))
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config: %w", err)
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return cfger.SaveConfig(config.NewDefaultConfig())
}
