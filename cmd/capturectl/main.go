package main

import (
	"os"

	"github.com/capturekit/server/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	deps := &cli.Dependencies{Version: version, Out: os.Stdout}
	if err := cli.NewRootCmd(deps).Execute(); err != nil {
		cli.NewFormatter(os.Stderr).Error(err.Error())
		os.Exit(1)
	}
}
