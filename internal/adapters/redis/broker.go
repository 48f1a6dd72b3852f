// Package redis provides the Redis pub/sub outcome broker.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/psyassess/assessd/internal/core"
)

// ErrBrokerClosed is returned by Publish and Subscribe after Close.
var ErrBrokerClosed = errors.New("broker is closed")

// BrokerOptions configures a Broker.
type BrokerOptions struct {
	Client redis.UniversalClient
	Logger *slog.Logger
	// OwnsClient makes Close also close Client.
	OwnsClient bool
	// BufferSize is the per-subscription message buffer. Defaults to 1.
	BufferSize int
}

// Broker publishes and subscribes to outcome channels with Redis PUBLISH/SUBSCRIBE.
type Broker struct {
	client     redis.UniversalClient
	logger     *slog.Logger
	ownsClient bool
	bufferSize int

	active atomic.Int64

	mu     sync.Mutex
	closed bool
	subs   map[*subscription]struct{}
}

// NewBroker constructs a Broker.
func NewBroker(opts BrokerOptions) (*Broker, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.BufferSize
	if size <= 0 {
		size = 1
	}
	return &Broker{
		client:     opts.Client,
		logger:     logger.With("component", "redis_broker"),
		ownsClient: opts.OwnsClient,
		bufferSize: size,
		subs:       make(map[*subscription]struct{}),
	}, nil
}

// Publish sends payload to every current subscriber of channel.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.isClosed() {
		return ErrBrokerClosed
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a subscription and returns once Redis confirmed it, so any
// message published afterwards is delivered.
func (b *Broker) Subscribe(ctx context.Context, channel string) (core.Subscription, error) {
	if b.isClosed() {
		return nil, ErrBrokerClosed
	}

	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	sub := &subscription{
		broker: b,
		ps:     ps,
		out:    make(chan []byte, b.bufferSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		return nil, ErrBrokerClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	b.active.Add(1)

	go sub.pump(ps.Channel())
	return sub, nil
}

// Ping checks that Redis answers.
func (b *Broker) Ping(ctx context.Context) error {
	if b.isClosed() {
		return ErrBrokerClosed
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// ActiveSubscriptions reports how many subscriptions are open.
func (b *Broker) ActiveSubscriptions() int64 {
	return b.active.Load()
}

// Close closes every open subscription and, when owned, the Redis client.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	open := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		open = append(open, s)
	}
	b.mu.Unlock()

	var errs []error
	for _, s := range open {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.ownsClient {
		if err := b.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis client: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Broker) release(s *subscription) {
	b.mu.Lock()
	_, ok := b.subs[s]
	delete(b.subs, s)
	b.mu.Unlock()
	if ok {
		b.active.Add(-1)
	}
}

type subscription struct {
	broker *Broker
	ps     *redis.PubSub
	out    chan []byte
	done   chan struct{}
	exited chan struct{}

	once     sync.Once
	closeErr error
}

func (s *subscription) Messages() <-chan []byte {
	return s.out
}

// Close unsubscribes and waits for the forwarding goroutine to exit. It is idempotent.
func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.closeErr = s.ps.Close()
		<-s.exited
		s.broker.release(s)
	})
	return s.closeErr
}

func (s *subscription) pump(in <-chan *redis.Message) {
	defer close(s.exited)
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}
}

var (
	_ core.Broker              = (*Broker)(nil)
	_ core.SubscriptionCounter = (*Broker)(nil)
	_ core.HealthChecker       = (*Broker)(nil)
)
