package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - http",
			input:    "http",
			expected: map[ServiceMode]bool{ServiceModeHTTP: true},
		},
		{
			name:     "single service - analysis-worker",
			input:    "analysis-worker",
			expected: map[ServiceMode]bool{ServiceModeAnalysisWorker: true},
		},
		{
			name:  "all services with spaces",
			input: " http , analysis-worker , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:           true,
				ServiceModeAnalysisWorker: true,
				ServiceModeReaper:         true,
			},
		},
		{
			name:     "duplicate services",
			input:    "http,http,reaper",
			expected: map[ServiceMode]bool{ServiceModeHTTP: true, ServiceModeReaper: true},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expectError: true,
		},
		{
			name:        "mixed valid and invalid",
			input:       "http,scheduler",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name           string
		services       string
		expectedHTTP   bool
		expectedWorker bool
		expectedReaper bool
	}{
		{name: "http only", services: "http", expectedHTTP: true},
		{name: "worker only", services: "analysis-worker", expectedWorker: true},
		{
			name:           "all services",
			services:       "http,analysis-worker,reaper",
			expectedHTTP:   true,
			expectedWorker: true,
			expectedReaper: true,
		},
		{name: "invalid configuration disables everything", services: "invalid-service"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}

			if cfg.IsHTTPServerEnabled() != tt.expectedHTTP {
				t.Errorf("IsHTTPServerEnabled(): expected %v", tt.expectedHTTP)
			}
			if cfg.IsAnalysisWorkerEnabled() != tt.expectedWorker {
				t.Errorf("IsAnalysisWorkerEnabled(): expected %v", tt.expectedWorker)
			}
			if cfg.IsReaperEnabled() != tt.expectedReaper {
				t.Errorf("IsReaperEnabled(): expected %v", tt.expectedReaper)
			}
		})
	}
}

func TestAppConfig_ParseDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Broker.Driver != BrokerDriverRedis {
		t.Errorf("expected redis broker by default, got %q", cfg.Broker.Driver)
	}
	if cfg.Broker.ChannelPrefix != "report-ready:" {
		t.Errorf("unexpected channel prefix %q", cfg.Broker.ChannelPrefix)
	}
	if cfg.Stream.WaitTimeout != 60*time.Second {
		t.Errorf("unexpected stream wait timeout %v", cfg.Stream.WaitTimeout)
	}
	if cfg.StatusQuery.Retries != 2 || cfg.StatusQuery.RetryDelay != 500*time.Millisecond {
		t.Errorf("unexpected status query settings %+v", cfg.StatusQuery)
	}
	if cfg.Redis.PoolSize != 20 {
		t.Errorf("unexpected redis pool size %d", cfg.Redis.PoolSize)
	}
	if len(cfg.Worker.FailureMarkers) != len(DefaultFailureMarkers) {
		t.Errorf("expected default failure markers, got %v", cfg.Worker.FailureMarkers)
	}
	if !cfg.IsHTTPServerEnabled() || !cfg.IsAnalysisWorkerEnabled() {
		t.Errorf("expected http and analysis-worker enabled by default")
	}
}

func TestAppConfig_ParseEnvOverrides(t *testing.T) {
	t.Setenv("BROKER_DRIVER", " NATS ")
	t.Setenv("WORKER_FAILURE_MARKERS", "fatal, ,refused")
	t.Setenv("WORKER_CONCURRENCY", "0")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("REDIS_POOL_SIZE", "7")
	t.Setenv("OBSERVABILITY_METRICS_TAGS", "env:prod, region :cn-east")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Broker.Driver != BrokerDriverNATS {
		t.Errorf("expected nats driver, got %q", cfg.Broker.Driver)
	}
	if got := cfg.Worker.FailureMarkers; len(got) != 2 || got[0] != "fatal" || got[1] != "refused" {
		t.Errorf("unexpected failure markers %v", got)
	}
	if cfg.Worker.Concurrency != 1 {
		t.Errorf("expected concurrency clamped to 1, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("expected DB_HOST to apply, got %q", cfg.Postgres.Host)
	}
	if cfg.Redis.PoolSize != 7 {
		t.Errorf("expected REDIS_POOL_SIZE to apply, got %d", cfg.Redis.PoolSize)
	}
	if got := cfg.Observability.Metrics.Tags; len(got) != 2 || got["env"] != "prod" || got["region"] != "cn-east" {
		t.Errorf("unexpected metric tags %v", got)
	}
}

func TestWorkerConfig_Sanitize(t *testing.T) {
	cfg := WorkerConfig{JobLease: time.Second, ExecutionTimeout: time.Hour}
	cfg.Sanitize()

	if cfg.JobLease != 30*time.Second {
		t.Errorf("expected lease floor of 30s, got %v", cfg.JobLease)
	}
	if cfg.ExecutionTimeout != cfg.JobLease {
		t.Errorf("expected execution timeout capped at lease, got %v", cfg.ExecutionTimeout)
	}
}

func TestStreamAndStatusQueryConfig_Sanitize(t *testing.T) {
	stream := StreamConfig{WaitTimeout: 0, MaxDuration: 0}
	stream.Sanitize()
	if stream.WaitTimeout != time.Second || stream.MaxDuration != time.Second {
		t.Errorf("unexpected stream config %+v", stream)
	}

	sq := StatusQueryConfig{Retries: -3, RetryDelay: -time.Second}
	sq.Sanitize()
	if sq.Retries != 0 || sq.RetryDelay != 0 {
		t.Errorf("unexpected status query config %+v", sq)
	}
}

func TestReaperConfig_Sanitize(t *testing.T) {
	cfg := ReaperConfig{BatchSize: 50000}
	cfg.Sanitize()

	if cfg.Interval != time.Minute {
		t.Errorf("expected interval floor, got %v", cfg.Interval)
	}
	if cfg.BatchSize != 10000 {
		t.Errorf("expected batch size ceiling, got %d", cfg.BatchSize)
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}

	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatalf("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
	}

	cfg.Sanitize()

	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}

	cfg = ObservabilityMetricsConfig{Prefix: " .assessd. ", Tags: map[string]string{" env ": " prod ", " ": "x"}}
	cfg.Sanitize()
	if cfg.Prefix != "assessd" {
		t.Fatalf("expected prefix dots trimmed, got %q", cfg.Prefix)
	}
	if len(cfg.Tags) != 1 || cfg.Tags["env"] != "prod" {
		t.Fatalf("unexpected tags %v", cfg.Tags)
	}
}

func TestAnalyzerConfig_Sanitize(t *testing.T) {
	cfg := AnalyzerConfig{BaseURL: " https://llm.example.com/v1/ ", APIKey: " key ", Model: "m"}
	cfg.Sanitize()

	if cfg.BaseURL != "https://llm.example.com/v1" {
		t.Errorf("unexpected base url %q", cfg.BaseURL)
	}
	if !cfg.IsConfigured() {
		t.Errorf("expected analyzer to be configured")
	}
	if cfg.ResultExpression == "" {
		t.Errorf("expected default result expression")
	}
}
