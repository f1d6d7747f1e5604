package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcovabio/annex/config"
	"github.com/arcovabio/annex/internal/adapters/anntool"
	"github.com/arcovabio/annex/internal/data"
	"github.com/arcovabio/annex/internal/observability/statsd"
	"github.com/arcovabio/annex/internal/service"
)

// ServiceContainer holds the application services shared across workers.
type ServiceContainer struct {
	Completion    *service.CompletionService
	Subscriptions *service.SubscriptionService
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	AWS         *AWSAdapters
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	Annotations    *data.AnnotationRepo
	Profiles       *data.ProfileRepo
	CachedProfiles *data.CachedProfileService
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "annex",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient, cfg config.CacheConfig, logger *slog.Logger) *serviceRepositories {
	profiles := data.NewProfileRepo(db)
	return &serviceRepositories{
		Annotations: data.NewAnnotationRepo(db),
		Profiles:    profiles,
		CachedProfiles: data.NewCachedProfileService(data.CachedProfileServiceOptions{
			Next:   profiles,
			Client: redisClient,
			TTL:    cfg.ProfileTTL,
			Logger: logger,
		}),
	}
}

// NewServices wires the shared services from their repositories and
// infrastructure adapters. Tier decisions must observe upgrades
// promptly, so the completion path gets the uncached profile repo.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	observability := buildObservability(logger, appCfg.Observability)
	repos := buildRepositories(deps.DB, deps.RedisClient, appCfg.Cache, logger)

	completion, err := service.NewCompletionService(service.CompletionServiceOptions{
		Repo:           repos.Annotations,
		Profiles:       repos.Profiles,
		NoticeProfiles: repos.CachedProfiles,
		Blobs:          deps.AWS.Blobs,
		Publisher:      deps.AWS.Publisher,
		AWS:            appCfg.AWS,
		Logger:         logger,
		Metrics:        observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build completion service: %w", err)
	}

	subscriptions, err := service.NewSubscriptionService(service.SubscriptionServiceOptions{
		Profiles:     repos.Profiles,
		Publisher:    deps.AWS.Publisher,
		RestoreTopic: appCfg.AWS.RestoreTopic,
		Logger:       logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build subscription service: %w", err)
	}

	return ServiceContainer{
		Completion:    completion,
		Subscriptions: subscriptions,
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	AWS         *AWSAdapters
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	repos           *serviceRepositories
	services        ServiceContainer
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	build func() (runnable, error)
}

// runnable is the common surface of the queue workers.
type runnable interface {
	Run(ctx context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) (<-chan struct{}, error) {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil, nil
	}

	worker, err := descriptor.build()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", descriptor.name, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := worker.Run(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done, nil
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) ([]backgroundServiceHandle, error) {
	if deps == nil {
		return nil, nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done, err := launchBackground(deps.ctx, deps, svc)
		if err != nil {
			return handles, err
		}
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles, nil
}

func newRequestWorkerService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeRequestWorker,
		name: "request worker",
		build: func() (runnable, error) {
			appCfg := deps.cfg.Config
			runner := anntool.New(anntool.Options{
				Command: appCfg.Request.ToolCommand,
				Args:    appCfg.Request.ToolArgs,
				Logger:  deps.logger,
			})
			return service.NewRequestWorker(service.RequestWorkerOptions{
				Queue:      deps.cfg.AWS.Queue(appCfg.AWS.RequestQueueURL),
				Repo:       deps.repos.Annotations,
				Blobs:      deps.cfg.AWS.Blobs,
				Tasks:      runner,
				Completion: deps.services.Completion,
				Worker:     appCfg.Worker,
				Request:    appCfg.Request,
				Logger:     deps.logger,
				Metrics:    deps.services.Observability.MetricsSink,
			})
		},
	}
}

func newArchiveWorkerService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeArchiveWorker,
		name: "archive worker",
		build: func() (runnable, error) {
			appCfg := deps.cfg.Config
			return service.NewArchiveWorker(service.ArchiveWorkerOptions{
				Queue:    deps.cfg.AWS.Queue(appCfg.AWS.ArchiveQueueURL),
				Repo:     deps.repos.Annotations,
				Profiles: deps.repos.Profiles,
				Blobs:    deps.cfg.AWS.Blobs,
				Cold:     deps.cfg.AWS.Cold,
				Worker:   appCfg.Worker,
				Archive:  appCfg.Archive,
				Logger:   deps.logger,
				Metrics:  deps.services.Observability.MetricsSink,
			})
		},
	}
}

func newRestoreWorkerService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeRestoreWorker,
		name: "restore worker",
		build: func() (runnable, error) {
			appCfg := deps.cfg.Config
			return service.NewRestoreWorker(service.RestoreWorkerOptions{
				Queue:   deps.cfg.AWS.Queue(appCfg.AWS.RestoreQueueURL),
				Repo:    deps.repos.Annotations,
				Cold:    deps.cfg.AWS.Cold,
				Worker:  appCfg.Worker,
				Logger:  deps.logger,
				Metrics: deps.services.Observability.MetricsSink,
			})
		},
	}
}

func newThawWorkerService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeThawWorker,
		name: "thaw worker",
		build: func() (runnable, error) {
			appCfg := deps.cfg.Config
			return service.NewThawWorker(service.ThawWorkerOptions{
				Queue:   deps.cfg.AWS.Queue(appCfg.AWS.ThawQueueURL),
				Repo:    deps.repos.Annotations,
				Blobs:   deps.cfg.AWS.Blobs,
				Cold:    deps.cfg.AWS.Cold,
				Worker:  appCfg.Worker,
				Logger:  deps.logger,
				Metrics: deps.services.Observability.MetricsSink,
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newRequestWorkerService(deps),
		newArchiveWorkerService(deps),
		newRestoreWorkerService(deps),
		newThawWorkerService(deps),
	}
}

// RunServicesWithShutdown starts all enabled workers and manages their
// lifecycle. It blocks until a shutdown signal is received or a worker fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	if cfg.AWS == nil {
		return errors.New("service orchestration config missing AWS adapters")
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	repos := buildRepositories(cfg.DB, cfg.RedisClient, cfg.Config.Cache, logger)
	services, err := NewServices(&ServiceDeps{
		Config:      cfg.Config,
		DB:          cfg.DB,
		RedisClient: cfg.RedisClient,
		AWS:         cfg.AWS,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, errorChannelBufferSize(enabledServices))
	deps := &serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		repos:           repos,
		services:        services,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	}

	handles, err := startBackgroundServices(deps, buildBackgroundServices(deps))
	if err != nil {
		cancel()
		waitForBackgrounds(handles, logger)
		return err
	}

	return waitForShutdown(shutdownConfig{
		cancel:      cancel,
		errCh:       errCh,
		logger:      logger,
		backgrounds: handles,
	})
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	if count < 1 {
		return 1
	}
	return count
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel      context.CancelFunc
	errCh       <-chan error
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		waitForBackgrounds(cfg.backgrounds, cfg.logger)
		return nil
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		waitForBackgrounds(cfg.backgrounds, cfg.logger)
		return err
	}
}

func waitForBackgrounds(handles []backgroundServiceHandle, logger *slog.Logger) {
	for _, svc := range handles {
		waitForService(svc.done, svc.name, logger)
	}
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
