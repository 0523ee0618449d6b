package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/G-Research/analytics-gateway/internal/common"
	"github.com/G-Research/analytics-gateway/internal/common/health"
	"github.com/G-Research/analytics-gateway/internal/common/logging"
	"github.com/G-Research/analytics-gateway/internal/gateway"
	"github.com/G-Research/analytics-gateway/internal/gateway/configuration"
)

const CustomConfigLocation string = "config"

func init() {
	pflag.String(CustomConfigLocation, "", "Fully qualified path to application configuration file")
	pflag.Parse()
}

func main() {
	common.BindCommandlineArguments()

	var config configuration.GatewayConfig
	userSpecifiedConfig := viper.GetString(CustomConfigLocation)
	common.LoadConfig(&config, "./config/gateway", userSpecifiedConfig)
	common.ConfigureLogging(config.Logging)

	log.Info("Starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthChecks := health.NewMultiChecker()
	if err := gateway.Serve(ctx, &config, healthChecks); err != nil {
		logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Error("Gateway failed")
		os.Exit(1)
	}
}
