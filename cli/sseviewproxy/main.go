package main

import (
	"fmt"
	"os"

	proxycmder "github.com/papercomputeco/sseview/cmd/sseview/serve/proxy"
)

func main() {
	cmd := proxycmder.NewProxyCmd()

	cmd.Use = "sseviewproxy"
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .sseview/ config directory")

	err := cmd.Execute()
	if err != nil {
		fmt.Printf("Error executing root command: %v\n", err)
		os.Exit(1)
	}
}
