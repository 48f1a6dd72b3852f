package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/psyassess/assessd/config"
	"github.com/psyassess/assessd/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	if err = bootstrap.ApplyLogLevel(cfg.LogLevel); err != nil {
		return err
	}

	// Log startup info
	logStartupInfo(ctx, logger, &cfg)

	cfgPtr := &cfg

	// Validate configuration
	if err = bootstrap.ValidateServiceConfig(cfgPtr); err != nil {
		return err
	}

	// Initialize infrastructure
	infra, err := initInfrastructure(ctx, cfgPtr, logger)
	if err != nil {
		return err
	}
	defer infra.close(ctx, logger)

	// Run migrations if enabled
	if cfg.Postgres.RunMigrationsOnStart {
		if err = bootstrap.RunMigrations(ctx, infra.db, logger); err != nil {
			return err
		}
	} else {
		logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
	}

	// Initialize and run services
	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config: cfgPtr,
		DB:     infra.db,
		Broker: infra.broker,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	// The broker is closed during graceful shutdown, after HTTP drained.
	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:   cfgPtr,
		Services: services,
		DB:       infra.db,
		Logger:   logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	enabledServices := bootstrap.GetEnabledServices(cfg)
	logger.InfoContext(ctx, "starting assessd",
		"db_host", cfg.Postgres.Host,
		"db_port", cfg.Postgres.Port,
		"db_name", cfg.Postgres.Name,
		"broker_driver", cfg.Broker.Driver,
		"log_level", cfg.LogLevel,
		"enabled_services", enabledServices)
}

type infrastructure struct {
	db          *sql.DB
	redisClient redis.UniversalClient
	broker      bootstrap.OutcomeBroker
}

// close releases everything initInfrastructure opened. Closing the broker again after
// graceful shutdown is a no-op.
func (i *infrastructure) close(ctx context.Context, logger *slog.Logger) {
	if i.broker != nil {
		if cerr := i.broker.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close broker failed", "error", cerr)
		}
	}
	if i.redisClient != nil {
		if cerr := i.redisClient.Close(); cerr != nil && !errors.Is(cerr, redis.ErrClosed) {
			logger.ErrorContext(ctx, "close redis failed", "error", cerr)
		}
	}
	if i.db != nil {
		if cerr := i.db.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close database failed", "error", cerr)
		}
	}
}

// initInfrastructure connects shared dependencies used by the service runtime.
// Redis is only dialed when it backs the outcome broker.
func initInfrastructure(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*infrastructure, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cfg.Postgres,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	infra := &infrastructure{db: db}

	if bootstrap.NeedsRedis(cfg) {
		infra.redisClient, err = bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
			RedisConfig: cfg.Redis,
			Logger:      logger,
		})
		if err != nil {
			infra.close(ctx, logger)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	infra.broker, err = bootstrap.ConnectBroker(bootstrap.BrokerConfig{
		Broker:      cfg.Broker,
		RedisClient: infra.redisClient,
		Logger:      logger,
	})
	if err != nil {
		infra.close(ctx, logger)
		return nil, err
	}

	return infra, nil
}
