package main

import (
	"os"

	"github.com/damoti/shipmaster/src/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
