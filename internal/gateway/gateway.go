package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/G-Research/analytics-gateway/internal/common"
	"github.com/G-Research/analytics-gateway/internal/common/config"
	"github.com/G-Research/analytics-gateway/internal/common/health"
	"github.com/G-Research/analytics-gateway/internal/common/logging"
	"github.com/G-Research/analytics-gateway/internal/common/task"
	"github.com/G-Research/analytics-gateway/internal/gateway/algorithms"
	"github.com/G-Research/analytics-gateway/internal/gateway/audit"
	"github.com/G-Research/analytics-gateway/internal/gateway/authorization"
	"github.com/G-Research/analytics-gateway/internal/gateway/cluster"
	"github.com/G-Research/analytics-gateway/internal/gateway/configuration"
	"github.com/G-Research/analytics-gateway/internal/gateway/lifecycle"
	"github.com/G-Research/analytics-gateway/internal/gateway/metrics"
	"github.com/G-Research/analytics-gateway/internal/gateway/quota"
	"github.com/G-Research/analytics-gateway/internal/gateway/repository"
	"github.com/G-Research/analytics-gateway/internal/gateway/resultcache"
	"github.com/G-Research/analytics-gateway/internal/gateway/server"
	"github.com/G-Research/analytics-gateway/internal/gateway/submit"
	"github.com/G-Research/analytics-gateway/internal/gateway/users"
	"github.com/G-Research/analytics-gateway/internal/gateway/validation"
)

// Serve starts the gateway and blocks until ctx is cancelled or one of its services fails.
func Serve(ctx context.Context, config *configuration.GatewayConfig, healthChecks *health.MultiChecker) error {
	log.Info("Gateway starting")
	defer log.Info("Gateway shutting down")

	if err := validateGatewayConfig(config); err != nil {
		return err
	}

	// Marked complete once every service has been started.
	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks.Add(startupCompleteCheck)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	db := createRedisClient(&config.Redis)
	defer func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Error("failed to close Redis client")
		}
	}()
	if err := waitForRedis(ctx, db, config.RedisStartupTimeout); err != nil {
		return err
	}

	userRepository := repository.NewRedisUserRepository(db)
	quotaRepository := repository.NewRedisQuotaRepository(db)
	jobRepository := repository.NewRedisJobRepository(db)
	serviceStatusRepository := repository.NewRedisServiceStatusRepository(db)
	auditRepository := repository.NewRedisAuditRepository(db)
	healthChecks.Add(repository.NewRedisHealth(db))

	log.AddHook(logging.NewPrometheusHook(metrics.MetricPrefix, prometheus.DefaultRegisterer))
	gatewayMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	metrics.ExposeDataMetrics(prometheus.DefaultRegisterer, jobRepository, serviceStatusRepository)

	realClock := clock.RealClock{}
	lister := algorithms.NewHttpLister(config.AlgorithmService)
	validator, err := validation.NewFieldValidator(config.Validation, lister)
	if err != nil {
		return err
	}
	monitor := cluster.NewMonitor(serviceStatusRepository, realClock, config.Liveness, config.Heartbeat, int(config.HttpPort))
	auditLogger, err := audit.NewLogger(config.Audit, auditRepository, realClock)
	if err != nil {
		return err
	}
	defer func() {
		if err := auditLogger.Close(); err != nil {
			log.WithError(err).Warn("failed to close audit files")
		}
	}()
	authenticator := authorization.NewTokenAuthService(userRepository)
	ledger := quota.NewLedger(quotaRepository, userRepository, realClock, gatewayMetrics)
	pipeline := submit.NewPipeline(
		validator,
		authenticator,
		ledger,
		resultcache.NewHttpCache(config.ResultCache),
		monitor,
		jobRepository,
		auditLogger,
		realClock,
		gatewayMetrics,
	)
	jobLifecycle := lifecycle.NewLifecycle(jobRepository, config.Lifecycle, gatewayMetrics)
	userService := users.NewService(userRepository, lister, realClock, config.Quota)

	if config.SuperAdmin != "" {
		created, err := userService.EnsureSuperAdmin(ctx, config.SuperAdmin)
		if err != nil {
			return errors.WithMessagef(err, "failed to create super admin %s", config.SuperAdmin)
		}
		if created != nil {
			log.Infof("Created super admin %s, token: %s", created.Username, created.Token)
		}
	}

	taskManager := task.NewBackgroundTaskManager(metrics.MetricPrefix)
	taskManager.Register(ledger.RefreshTask(ctx, config.Quota.RefreshWindow), config.Quota.RefreshInterval, "quota_refresh")
	taskManager.Register(monitor.HeartbeatTask(ctx), config.Heartbeat.Interval, "heartbeat")
	defer func() {
		if !taskManager.StopAll(5 * time.Second) {
			log.Warn("background tasks did not stop in time")
		}
		if err := monitor.Deregister(); err != nil {
			log.WithError(err).Warn("failed to remove heartbeat")
		}
	}()

	httpServer := server.NewServer(
		authenticator,
		pipeline,
		jobLifecycle,
		userService,
		ledger,
		monitor,
		auditLogger,
		healthChecks,
		gatewayMetrics,
		config.EnableCors,
	)
	g.Go(func() error {
		shutdown := common.ServeHttp(config.HttpPort, httpServer.Handler())
		<-ctx.Done()
		shutdown()
		return nil
	})
	g.Go(func() error {
		shutdown := common.ServeMetrics(config.MetricsPort, healthChecks)
		<-ctx.Done()
		shutdown()
		return nil
	})

	startupCompleteCheck.MarkComplete()
	return g.Wait()
}

func createRedisClient(config *config.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(config.AsUniversalOptions())
}

func waitForRedis(ctx context.Context, db redis.UniversalClient, timeout time.Duration) error {
	const delay = time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := retry.Do(
		func() error {
			return db.Ping().Err()
		},
		retry.Context(ctx),
		retry.Attempts(uint(timeout/delay)+1),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("redis not reachable (attempt %d)", n+1)
		}),
	)
	return errors.WithMessage(err, "redis did not become available")
}

func validateGatewayConfig(gatewayConfig *configuration.GatewayConfig) error {
	if err := config.Validate(gatewayConfig); err != nil {
		return err
	}
	for _, serviceType := range gatewayConfig.Liveness.RequiredServiceTypes {
		if serviceType == "" {
			return errors.WithStack(fmt.Errorf("required service types may not contain an empty entry"))
		}
	}
	if gatewayConfig.Quota.RefreshInterval > gatewayConfig.Quota.RefreshWindow {
		return errors.WithStack(fmt.Errorf(
			"quota refresh interval %s is longer than the refresh window %s",
			gatewayConfig.Quota.RefreshInterval, gatewayConfig.Quota.RefreshWindow))
	}
	return nil
}
