package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/psyassess/assessd/config"
	natsbroker "github.com/psyassess/assessd/internal/adapters/nats"
	redisbroker "github.com/psyassess/assessd/internal/adapters/redis"
	"github.com/psyassess/assessd/internal/core"
)

// OutcomeBroker is the broker surface the runtime needs beyond core.Broker.
type OutcomeBroker interface {
	core.Broker
	core.SubscriptionCounter
	core.HealthChecker
}

// BrokerConfig contains dependencies for ConnectBroker.
type BrokerConfig struct {
	Broker      config.BrokerConfig
	RedisClient redis.UniversalClient // Required for the redis driver; not closed by the broker
	Logger      *slog.Logger
}

// ConnectBroker builds the outcome broker selected by BROKER_DRIVER.
//
//nolint:ireturn // the driver is picked at runtime.
func ConnectBroker(cfg BrokerConfig) (OutcomeBroker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Broker.Driver {
	case config.BrokerDriverNATS:
		b, err := natsbroker.Connect(natsbroker.ConnectOptions{
			URL:    cfg.Broker.NATSURL,
			Name:   "assessd",
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("connect nats broker: %w", err)
		}
		logger.Info("outcome broker ready", "driver", cfg.Broker.Driver)
		return b, nil
	case config.BrokerDriverRedis, "":
		if cfg.RedisClient == nil {
			return nil, errors.New("redis broker requires a redis client")
		}
		b, err := redisbroker.NewBroker(redisbroker.BrokerOptions{
			Client: cfg.RedisClient,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis broker: %w", err)
		}
		logger.Info("outcome broker ready", "driver", config.BrokerDriverRedis)
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported broker driver %q", cfg.Broker.Driver)
	}
}

// NeedsRedis reports whether the configured broker driver uses Redis.
func NeedsRedis(cfg *config.AppConfig) bool {
	return cfg != nil && cfg.Broker.Driver != config.BrokerDriverNATS
}
