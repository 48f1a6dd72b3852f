package main

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

	"github.com/psyassess/assessd/config"
	"github.com/psyassess/assessd/internal/bootstrap"
	"github.com/psyassess/assessd/internal/data"
)

type connectInfraOptions struct {
	Logger     *slog.Logger
	Config     *config.AppConfig
	WantDB     bool
	WantRedis  bool
	WantBroker bool
}

var errRedisNotConfigured = errors.New("redis not configured")

// adminInfra holds the connections a command asked for.
type adminInfra struct {
	logger      *slog.Logger
	db          *sql.DB
	redisClient redis.UniversalClient
	broker      bootstrap.OutcomeBroker
}

func (i *adminInfra) repo() *data.AssessmentRepo {
	return data.NewAssessmentRepo(i.db, data.RepoConfig{Logger: i.logger})
}

func (i *adminInfra) queue() *data.QueueRepo {
	return data.NewQueueRepo(i.db, data.RepoConfig{Logger: i.logger})
}

// connectInfra wires up infrastructure dependencies based on CLI options.
// A broker on the redis driver implies a redis connection.
func connectInfra(opts *connectInfraOptions) (*adminInfra, error) {
	infra := &adminInfra{logger: opts.Logger}

	if opts.WantDB {
		db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: opts.Config.Postgres, Logger: opts.Logger})
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		infra.db = db
	}

	wantRedis := opts.WantRedis || (opts.WantBroker && bootstrap.NeedsRedis(opts.Config))
	if wantRedis {
		client, err := maybeConnectRedis(opts.Logger, &opts.Config.Redis)
		if err != nil {
			return nil, errors.Join(err, infra.Close())
		}
		infra.redisClient = client
	}

	if opts.WantBroker {
		broker, err := bootstrap.ConnectBroker(bootstrap.BrokerConfig{
			Broker:      opts.Config.Broker,
			RedisClient: infra.redisClient,
			Logger:      opts.Logger,
		})
		if err != nil {
			return nil, errors.Join(err, infra.Close())
		}
		infra.broker = broker
	}

	return infra, nil
}

// maybeConnectRedis returns a connected client when configuration is present.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func maybeConnectRedis(logger *slog.Logger, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	if !hasRedisConfig(cfg) {
		return nil, errRedisNotConfigured
	}
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: *cfg, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.UseCluster {
		return len(cfg.ClusterNodes) > 0 || cfg.URI != ""
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}

// Close releases the broker before the redis client it may share.
func (i *adminInfra) Close() error {
	var closeErr error
	if i.broker != nil {
		if err := i.broker.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close broker: %w", err))
		}
	}
	if i.redisClient != nil {
		if err := i.redisClient.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	if i.db != nil {
		if err := i.db.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	return closeErr
}

// withInfra connects what opts asks for and runs f under a signal-aware timeout.
func withInfra(
	cmdCtx *commandContext,
	timeout time.Duration,
	opts connectInfraOptions,
	f func(context.Context, *adminInfra) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts.Logger = cmdCtx.Logger
	opts.Config = &cmdCtx.Config
	infra, err := connectInfra(&opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := infra.Close(); cerr != nil {
			cmdCtx.Logger.Warn("infra close failed", "error", cerr)
		}
	}()

	return f(ctx, infra)
}

func withDatabase(cmdCtx *commandContext, timeout time.Duration, f func(context.Context, *adminInfra) error) error {
	return withInfra(cmdCtx, timeout, connectInfraOptions{WantDB: true}, f)
}
