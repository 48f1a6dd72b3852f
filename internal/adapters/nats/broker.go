// Package nats provides a core NATS outcome broker.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/psyassess/assessd/internal/core"
)

// ErrBrokerClosed is returned by Publish and Subscribe after Close.
var ErrBrokerClosed = errors.New("broker is closed")

const (
	defaultBufferSize   = 8
	defaultFlushTimeout = 5 * time.Second
)

// ConnectOptions configures Connect.
type ConnectOptions struct {
	URL            string
	Name           string
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// Broker publishes and subscribes to outcome subjects on a NATS connection.
// Subjects are the outcome channel names verbatim.
type Broker struct {
	conn   *nats.Conn
	logger *slog.Logger

	active atomic.Int64

	mu     sync.Mutex
	closed bool
	subs   map[*subscription]struct{}
}

// Connect dials NATS and returns a Broker that owns the connection.
func Connect(opts ConnectOptions) (*Broker, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats_broker")

	name := opts.Name
	if name == "" {
		name = "assessd"
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	conn, err := nats.Connect(opts.URL,
		nats.Name(name),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, derr error) {
			if derr != nil {
				logger.Warn("nats disconnected", "error", derr)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", opts.URL, err)
	}
	return NewBroker(conn, logger), nil
}

// NewBroker wraps an existing connection. Close closes conn.
func NewBroker(conn *nats.Conn, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		conn:   conn,
		logger: logger,
		subs:   make(map[*subscription]struct{}),
	}
}

// Publish sends payload on subject channel and flushes so ctx bounds delivery to the server.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.isClosed() {
		return ErrBrokerClosed
	}
	if err := b.conn.Publish(channel, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", channel, err)
	}
	if err := b.flush(ctx); err != nil {
		return fmt.Errorf("nats flush %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers interest in channel and returns after the server acknowledged it.
func (b *Broker) Subscribe(ctx context.Context, channel string) (core.Subscription, error) {
	if b.isClosed() {
		return nil, ErrBrokerClosed
	}

	in := make(chan *nats.Msg, defaultBufferSize)
	ns, err := b.conn.ChanSubscribe(channel, in)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
	}
	if flushErr := b.flush(ctx); flushErr != nil {
		_ = ns.Unsubscribe()
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, flushErr)
	}

	sub := &subscription{
		broker: b,
		ns:     ns,
		out:    make(chan []byte, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ns.Unsubscribe()
		return nil, ErrBrokerClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	b.active.Add(1)

	go sub.pump(in)
	return sub, nil
}

// Ping round-trips to the server.
func (b *Broker) Ping(ctx context.Context) error {
	if b.isClosed() {
		return ErrBrokerClosed
	}
	if err := b.flush(ctx); err != nil {
		return fmt.Errorf("nats ping: %w", err)
	}
	return nil
}

// flush waits for the server to process everything sent so far.
// The client refuses contexts without a deadline, so one is supplied when missing.
func (b *Broker) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFlushTimeout)
		defer cancel()
	}
	return b.conn.FlushWithContext(ctx)
}

// ActiveSubscriptions reports how many subscriptions are open.
func (b *Broker) ActiveSubscriptions() int64 {
	return b.active.Load()
}

// Close unsubscribes everything and drains the connection.
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
	if b.conn != nil && !b.conn.IsClosed() {
		if err := b.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("drain nats connection: %w", err))
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
	ns     *nats.Subscription
	out    chan []byte
	done   chan struct{}
	exited chan struct{}

	once     sync.Once
	closeErr error
}

func (s *subscription) Messages() <-chan []byte {
	return s.out
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		if err := s.ns.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) &&
			!errors.Is(err, nats.ErrBadSubscription) {
			s.closeErr = fmt.Errorf("nats unsubscribe: %w", err)
		}
		<-s.exited
		s.broker.release(s)
	})
	return s.closeErr
}

func (s *subscription) pump(in <-chan *nats.Msg) {
	defer close(s.exited)
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case msg := <-in:
			if msg == nil {
				continue
			}
			select {
			case s.out <- msg.Data:
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
