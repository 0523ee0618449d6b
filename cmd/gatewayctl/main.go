package main

import (
	"os"

	"github.com/G-Research/analytics-gateway/cmd/gatewayctl/cmd"
	"github.com/G-Research/analytics-gateway/internal/common"
)

func main() {
	common.ConfigureCommandLineLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
