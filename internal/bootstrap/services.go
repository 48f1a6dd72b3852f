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

	"github.com/psyassess/assessd/config"
	"github.com/psyassess/assessd/internal/adapters/analyzer"
	"github.com/psyassess/assessd/internal/adapters/jobrunner"
	"github.com/psyassess/assessd/internal/adapters/reaper"
	"github.com/psyassess/assessd/internal/data"
	"github.com/psyassess/assessd/internal/domain/assessment"
	"github.com/psyassess/assessd/internal/observability/statsd"
	"github.com/psyassess/assessd/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Assessments   *service.AssessmentService
	StatusQuery   *service.StatusQueryService
	Publisher     *service.OutcomePublisher
	Bridge        *service.SubscriptionBridge
	Executor      *service.AnalysisExecutor
	Repo          *data.AssessmentRepo
	Queue         *data.QueueRepo
	Broker        OutcomeBroker
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config *config.AppConfig
	DB     *sql.DB
	Broker OutcomeBroker
	Logger *slog.Logger
}

// buildObservability configures the metrics adapter. A failed dial leaves metrics off.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled:    true,
			Address:    cfg.Metrics.StatsdAddress,
			Prefix:     cfg.Metrics.Prefix,
			Logger:     obsLogger,
			GlobalTags: cfg.Metrics.Tags,
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

// sink returns the metrics sink as an interface, nil when metrics are off.
//
//nolint:ireturn // callers take the statsd.Sink port.
func (o ObservabilityContainer) sink() statsd.Sink {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink
}

// newAnalyzer builds the analysis backend client. A missing configuration is not fatal:
// the executor then fails every job with the processor-unavailable outcome.
func newAnalyzer(cfg config.AnalyzerConfig, logger *slog.Logger) (*analyzer.Client, error) {
	client, err := analyzer.New(analyzer.Options{Config: cfg, Logger: logger})
	if errors.Is(err, analyzer.ErrNotConfigured) {
		logger.Warn("analysis backend is not configured; jobs will fail until it is",
			"base_url", cfg.BaseURL, "model", cfg.Model)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create analyzer: %w", err)
	}
	return client, nil
}

// NewServices wires repositories, the broker and the pipeline services.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	if deps.DB == nil {
		return ServiceContainer{}, errors.New("database is required")
	}
	if deps.Broker == nil {
		return ServiceContainer{}, errors.New("broker is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observability := buildObservability(logger, cfg.Observability)
	metricsSink := observability.sink()

	repoCfg := data.RepoConfig{Logger: logger}
	repo := data.NewAssessmentRepo(deps.DB, repoCfg)
	queue := data.NewQueueRepo(deps.DB, repoCfg)

	publisher, err := service.NewOutcomePublisher(service.OutcomePublisherOptions{
		Broker:        deps.Broker,
		ChannelPrefix: cfg.Broker.ChannelPrefix,
		Timeout:       cfg.Broker.PublishTimeout,
		Logger:        logger,
		Metrics:       metricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create outcome publisher: %w", err)
	}

	statusQuery, err := service.NewStatusQueryService(service.StatusQueryServiceOptions{
		Reader:     repo,
		Retries:    cfg.StatusQuery.Retries,
		RetryDelay: cfg.StatusQuery.RetryDelay,
		Logger:     logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create status query service: %w", err)
	}

	assessments, err := service.NewAssessmentService(service.AssessmentServiceOptions{
		Repo:   repo,
		Queue:  queue,
		Status: statusQuery,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create assessment service: %w", err)
	}

	bridge, err := service.NewSubscriptionBridge(service.SubscriptionBridgeOptions{
		Broker:               deps.Broker,
		Reader:               repo,
		ChannelPrefix:        cfg.Broker.ChannelPrefix,
		WaitTimeout:          cfg.Stream.WaitTimeout,
		MaxDuration:          cfg.Stream.MaxDuration,
		CheckStatusOnConnect: cfg.Stream.CheckStatusOnConnect,
		Logger:               logger,
		Metrics:              metricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create subscription bridge: %w", err)
	}

	executor, err := newExecutor(cfg, repo, publisher, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	return ServiceContainer{
		Assessments:   assessments,
		StatusQuery:   statusQuery,
		Publisher:     publisher,
		Bridge:        bridge,
		Executor:      executor,
		Repo:          repo,
		Queue:         queue,
		Broker:        deps.Broker,
		Observability: observability,
	}, nil
}

func newExecutor(
	cfg *config.AppConfig,
	repo *data.AssessmentRepo,
	publisher *service.OutcomePublisher,
	logger *slog.Logger,
) (*service.AnalysisExecutor, error) {
	opts := service.AnalysisExecutorOptions{
		Repo:            repo,
		Publisher:       publisher,
		Classifier:      assessment.NewClassifier(cfg.Worker.FailureMarkers),
		AnalysisTimeout: cfg.Worker.ExecutionTimeout,
		Logger:          logger,
	}
	// Only worker processes call the backend.
	if cfg.IsAnalysisWorkerEnabled() {
		client, err := newAnalyzer(cfg.Analyzer, logger)
		if err != nil {
			return nil, err
		}
		if client != nil {
			opts.Analyzer = client
		}
	}
	executor, err := service.NewAnalysisExecutor(opts)
	if err != nil {
		return nil, fmt.Errorf("create analysis executor: %w", err)
	}
	return executor, nil
}

// ServiceOrchestrationConfig contains dependencies for running the enabled services.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	DB       *sql.DB
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *HTTPServer {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		DB:       deps.cfg.DB,
		Logger:   deps.logger,
		ErrCh:    deps.errCh,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}
	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newAnalysisWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeAnalysisWorker,
		name: "analysis-worker",
		start: func(ctx context.Context) error {
			workerCfg := deps.cfg.Config.Worker
			runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
				Queue:            deps.cfg.Services.Queue,
				Executor:         deps.cfg.Services.Executor,
				Logger:           deps.logger,
				Lease:            workerCfg.JobLease,
				ExecutionTimeout: workerCfg.ExecutionTimeout,
				Concurrency:      workerCfg.Concurrency,
				MaxAttempts:      workerCfg.MaxAttempts,
				Metrics:          deps.cfg.Services.Observability.sink(),
			})
			if err != nil {
				return fmt.Errorf("create analysis runner: %w", err)
			}
			return runner.Run(ctx)
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			runner, err := reaper.NewRunner(reaper.RunnerOptions{
				DB:        deps.cfg.DB,
				Config:    deps.cfg.Config.Reaper,
				Logger:    deps.logger,
				Publisher: deps.cfg.Services.Publisher,
				Repo:      deps.cfg.Services.Repo,
				Queue:     deps.cfg.Services.Queue,
				Metrics:   deps.cfg.Services.Observability.sink(),
			})
			if err != nil {
				return fmt.Errorf("create reaper runner: %w", err)
			}
			return runner.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newAnalysisWorkerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *HTTPServer
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		quit:        quit,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		broker:      cfg.Services.Broker,
		metrics:     cfg.Services.Observability.MetricsSink,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	quit        <-chan os.Signal
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *HTTPServer
	broker      OutcomeBroker
	metrics     *statsd.Client
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
	waitTimeout time.Duration
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	select {
	case <-cfg.quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop stops the HTTP server, waits for background services and then
// releases the broker, which open streams and in-flight publishes depend on.
func gracefulStop(cfg shutdownConfig) error {
	timeout := cfg.waitTimeout
	if timeout <= 0 {
		timeout = shutdownWaitTimeout
	}

	var errs []error
	if cfg.httpServer != nil {
		// The service context is already canceled; shutdown gets its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		}); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger, timeout)
	}

	if cfg.broker != nil {
		cfg.logger.Info("closing outcome broker", "open_subscriptions", cfg.broker.ActiveSubscriptions())
		if err := cfg.broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close broker: %w", err))
		}
	}
	if cfg.metrics != nil {
		if err := cfg.metrics.Close(); err != nil {
			cfg.logger.Warn("close statsd client failed", "error", err)
		}
	}

	return errors.Join(errs...)
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger, timeout time.Duration) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(timeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
