package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psyassess/assessd/internal/testutil"
)

func connectTestBroker(t *testing.T) *Broker {
	t.Helper()
	b, err := Connect(ConnectOptions{URL: testutil.NATSURL(t), Name: "assessd-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBroker_PublishSubscribe(t *testing.T) {
	b := connectTestBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := b.Subscribe(ctx, "report-ready:abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.ActiveSubscriptions())

	require.NoError(t, b.Publish(ctx, "report-ready:zzz", []byte(`{"status":"failed"}`)))
	require.NoError(t, b.Publish(ctx, "report-ready:abc", []byte(`{"status":"success"}`)))

	select {
	case msg := <-sub.Messages():
		assert.JSONEq(t, `{"status":"success"}`, string(msg))
	case <-ctx.Done():
		t.Fatal("expected message on subscribed subject")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Zero(t, b.ActiveSubscriptions())
}

func TestBroker_CloseRejectsCalls(t *testing.T) {
	b := connectTestBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := b.Subscribe(ctx, "report-ready:shutdown")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	assert.Zero(t, b.ActiveSubscriptions())
	_, open := <-sub.Messages()
	assert.False(t, open)

	require.ErrorIs(t, b.Publish(ctx, "report-ready:shutdown", nil), ErrBrokerClosed)
	_, err = b.Subscribe(ctx, "report-ready:shutdown")
	require.ErrorIs(t, err, ErrBrokerClosed)
}

func TestBroker_ConnectDisconnectCycles(t *testing.T) {
	b := connectTestBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for range 25 {
		sub, err := b.Subscribe(ctx, "report-ready:cycle")
		require.NoError(t, err)
		require.NoError(t, sub.Close())
	}
	assert.Zero(t, b.ActiveSubscriptions())
	assert.Zero(t, b.conn.NumSubscriptions())
}

func TestBroker_SubscribeWithoutDeadlineAndPing(t *testing.T) {
	b := connectTestBroker(t)

	sub, err := b.Subscribe(context.Background(), "report-ready:nodeadline")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, b.Ping(context.Background()))
	require.NoError(t, b.Close())
	require.ErrorIs(t, b.Ping(context.Background()), ErrBrokerClosed)
}
