package main

import (
	"os"

	sseviewcmder "github.com/papercomputeco/sseview/cmd/sseview"
)

func main() {
	cmd := sseviewcmder.NewSseviewCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
