package main

import (
	"os"

	apicmder "github.com/papercomputeco/sseview/cmd/sseview/serve/api"
)

func main() {
	cmd := apicmder.NewAPICmd()
	cmd.Use = "sseviewapi"
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .sseview/ config directory")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
