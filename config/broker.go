package config

import (
	"strings"
	"time"
)

// BrokerDriver selects the pub/sub backend for outcome messages.
type BrokerDriver string

const (
	// BrokerDriverRedis uses Redis PUBLISH/SUBSCRIBE.
	BrokerDriverRedis BrokerDriver = "redis"
	// BrokerDriverNATS uses core NATS subjects.
	BrokerDriverNATS BrokerDriver = "nats"
)

// DefaultChannelPrefix is prepended to an assessment id to form its outcome channel.
const DefaultChannelPrefix = "report-ready:"

// BrokerConfig contains outcome broker configuration.
type BrokerConfig struct {
	Driver         BrokerDriver  `env:"BROKER_DRIVER"          envDefault:"redis"`
	ChannelPrefix  string        `env:"BROKER_CHANNEL_PREFIX"  envDefault:"report-ready:"`
	PublishTimeout time.Duration `env:"BROKER_PUBLISH_TIMEOUT" envDefault:"3s"`
	NATSURL        string        `env:"BROKER_NATS_URL"        envDefault:"nats://localhost:4222"`
}

// Sanitize applies guardrails to broker configuration values.
func (b *BrokerConfig) Sanitize() {
	b.Driver = BrokerDriver(strings.ToLower(strings.TrimSpace(string(b.Driver))))
	if b.Driver != BrokerDriverNATS {
		b.Driver = BrokerDriverRedis
	}
	if strings.TrimSpace(b.ChannelPrefix) == "" {
		b.ChannelPrefix = DefaultChannelPrefix
	}
	if b.PublishTimeout <= 0 {
		b.PublishTimeout = 3 * time.Second
	}
}

// StreamConfig controls the report status event stream.
type StreamConfig struct {
	// WaitTimeout is how long a stream waits for an outcome before sending a keepalive frame.
	WaitTimeout time.Duration `env:"STREAM_WAIT_TIMEOUT" envDefault:"60s"`

	// MaxDuration ends a stream that never observed an outcome.
	MaxDuration time.Duration `env:"STREAM_MAX_DURATION" envDefault:"30m"`

	// CheckStatusOnConnect delivers the terminal event immediately when the
	// assessment already finished before the client subscribed.
	CheckStatusOnConnect bool `env:"STREAM_CHECK_STATUS_ON_CONNECT" envDefault:"true"`
}

// Sanitize applies guardrails to stream configuration values.
func (s *StreamConfig) Sanitize() {
	if s.WaitTimeout < time.Second {
		s.WaitTimeout = time.Second
	}
	if s.MaxDuration < s.WaitTimeout {
		s.MaxDuration = s.WaitTimeout
	}
}

// StatusQueryConfig controls retry behavior of the status endpoint.
type StatusQueryConfig struct {
	Retries    int           `env:"STATUS_QUERY_RETRIES"     envDefault:"2"`
	RetryDelay time.Duration `env:"STATUS_QUERY_RETRY_DELAY" envDefault:"500ms"`
}

// Sanitize applies guardrails to status query configuration values.
func (s *StatusQueryConfig) Sanitize() {
	if s.Retries < 0 {
		s.Retries = 0
	}
	if s.Retries > 10 {
		s.Retries = 10
	}
	if s.RetryDelay < 0 {
		s.RetryDelay = 0
	}
}
