package main

import (
	"os"

	"github.com/crimeapps/drc-integration/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
