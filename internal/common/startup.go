package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	commonconfig "github.com/G-Research/analytics-gateway/internal/common/config"
	"github.com/G-Research/analytics-gateway/internal/common/health"
	"github.com/G-Research/analytics-gateway/internal/common/logging"
)

const EnvPrefix = "GATEWAY"

func BindCommandlineArguments() {
	err := viper.BindPFlags(pflag.CommandLine)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// LoadConfig reads config.yaml from defaultPath, merges the optional user specified file on top
// and applies environment overrides prefixed with GATEWAY_.
func LoadConfig(config interface{}, defaultPath string, overrideConfig string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		log.Errorf("Error reading base config path=%s: %v", defaultPath, err)
		os.Exit(-1)
	}
	log.Infof("Read base config from %s", v.ConfigFileUsed())

	if overrideConfig != "" {
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			log.Errorf("Error reading config from %s: %v", overrideConfig, err)
			os.Exit(-1)
		}
		log.Infof("Read config from %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if err := v.Unmarshal(config, commonconfig.CustomHooks...); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
	return v
}

func ConfigureLogging(config logging.Config) {
	if err := logging.ConfigureLogging(config); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// ConfigureCommandLineLogging is used by command line tools, which print bare messages.
func ConfigureCommandLineLogging() {
	log.SetFormatter(new(logging.CommandLineFormatter))
	log.SetOutput(os.Stdout)
}

// ServeMetrics serves the default prometheus registry and the health checks on the given port.
func ServeMetrics(port uint16, healthChecks health.Checker) (shutdown func()) {
	return ServeMetricsFor(port, prometheus.DefaultGatherer, healthChecks)
}

func ServeMetricsFor(port uint16, gatherer prometheus.Gatherer, healthChecks health.Checker) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/health", health.Handler(healthChecks))
	return ServeHttp(port, mux)
}

func ServeHttp(port uint16, mux http.Handler) (shutdown func()) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Printf("Starting http server listening on %d", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Errorf("http server listening on %d failed", port)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Printf("Stopping http server listening on %d", port)
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Errorf("failed to shut down http server listening on %d", port)
		}
	}
}
