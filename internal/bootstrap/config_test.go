package bootstrap

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psyassess/assessd/config"
)

func TestApplyLogLevel(t *testing.T) {
	logger := InitLogger()
	t.Cleanup(func() { logLevel.Set(slog.LevelInfo) })

	require.NoError(t, ApplyLogLevel("DEBUG"))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	require.NoError(t, ApplyLogLevel("warn"))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))

	require.Error(t, ApplyLogLevel("verbose"))
}

func TestGetEnabledServices(t *testing.T) {
	cfg := &config.AppConfig{Services: "reaper, http"}
	assert.Equal(t, []string{"http", "reaper"}, GetEnabledServices(cfg))
	require.NoError(t, ValidateServiceConfig(cfg))

	bad := &config.AppConfig{Services: "http,scheduler"}
	assert.Empty(t, GetEnabledServices(bad))
	require.Error(t, ValidateServiceConfig(bad))
	require.Error(t, ValidateServiceConfig(nil))
}

func TestConnectBroker(t *testing.T) {
	_, err := ConnectBroker(BrokerConfig{Broker: config.BrokerConfig{Driver: config.BrokerDriverRedis}})
	require.Error(t, err)

	_, err = ConnectBroker(BrokerConfig{Broker: config.BrokerConfig{Driver: "kafka"}})
	require.Error(t, err)

	assert.True(t, NeedsRedis(&config.AppConfig{Broker: config.BrokerConfig{Driver: config.BrokerDriverRedis}}))
	assert.False(t, NeedsRedis(&config.AppConfig{Broker: config.BrokerConfig{Driver: config.BrokerDriverNATS}}))
}
