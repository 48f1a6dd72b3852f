package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/psyassess/assessd/config"
	httpx "github.com/psyassess/assessd/internal/http"
)

// HTTPServer is a running HTTP server.
type HTTPServer struct {
	Server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// Addr returns the bound listen address.
func (s *HTTPServer) Addr() string {
	return s.listener.Addr().String()
}

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	DB       *sql.DB
	Logger   *slog.Logger
	// ErrCh receives listen and serve failures. Optional.
	ErrCh chan<- error
}

// StartHTTPServer binds the listener and serves in the background.
// Returns nil when the address cannot be bound; the error is reported on ErrCh.
func StartHTTPServer(cfg *HTTPServerConfig) *HTTPServer {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	handler := buildHTTPHandler(httpHandlerConfig{
		Logger:   logger,
		Services: routerServices(cfg, logger),
		HTTP:     appCfg.HTTP,
	})

	srv, err := startServer(logger, handler, appCfg.HTTP, cfg.ErrCh)
	if err != nil {
		logger.Error("HTTP server failed", "error", err)
		reportError(cfg.ErrCh, err)
		return nil
	}
	return srv
}

func routerServices(cfg *HTTPServerConfig, logger *slog.Logger) httpx.RouterServices {
	services := httpx.RouterServices{
		HealthChecks: healthChecks(cfg.DB, cfg.Services.Broker),
		Logger:       logger,
	}
	if cfg.Services.Assessments != nil {
		services.Assessments = cfg.Services.Assessments
	}
	if cfg.Services.Bridge != nil {
		services.Streams = cfg.Services.Bridge
	}
	return services
}

// healthChecks returns the probes served on /healthz.
func healthChecks(db *sql.DB, broker OutcomeBroker) map[string]httpx.HealthCheck {
	checks := make(map[string]httpx.HealthCheck, 2)
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if broker != nil {
		checks["broker"] = broker.Ping
	}
	return checks
}

type httpHandlerConfig struct {
	Logger   *slog.Logger
	Services httpx.RouterServices
	HTTP     config.HTTPConfig
}

func buildHTTPHandler(cfg httpHandlerConfig) http.Handler {
	router := httpx.NewRouter(cfg.Services)

	// Apply compression middleware first (innermost) so logging captures compressed sizes
	// Order: Recover -> Logging -> Compression -> Router
	h := router
	if cfg.HTTP.CompressionEnabled {
		cfg.Logger.Info("HTTP compression enabled", "level", cfg.HTTP.CompressionLevel)
		h = httpx.Compression(httpx.CompressionConfig{Level: cfg.HTTP.CompressionLevel, Logger: cfg.Logger})(h)
	}

	h = httpx.Logging(cfg.Logger)(h)
	h = httpx.Recover(cfg.Logger)(h)

	return h
}

func startServer(logger *slog.Logger, handler http.Handler, httpCfg config.HTTPConfig, errCh chan<- error) (*HTTPServer, error) {
	// Guard against empty addr to avoid listening on Go default
	addr := httpCfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if httpCfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, httpCfg.MaxConnections)
	}

	// Report streams run on streamsCtx so Shutdown can end them instead of waiting
	// for their connections to go idle.
	streamsCtx, cancelStreams := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamsCtx },
	}
	server.RegisterOnShutdown(cancelStreams)

	srv := &HTTPServer{Server: server, listener: ln, done: make(chan struct{})}
	go func() {
		defer close(srv.done)
		defer cancelStreams()
		logger.Info("starting HTTP server", "addr", ln.Addr().String(), "max_connections", httpCfg.MaxConnections)
		if serveErr := server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", serveErr)
			reportError(errCh, fmt.Errorf("http server: %w", serveErr))
		}
	}()

	return srv, nil
}

func reportError(errCh chan<- error, err error) {
	if errCh == nil {
		return
	}
	select {
	case errCh <- err:
	default:
	}
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *HTTPServer
	Logger  *slog.Logger
}

// ShutdownHTTPServer stops accepting connections, ends open report streams
// and waits for in-flight requests.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := cfg.Server.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	select {
	case <-cfg.Server.done:
	case <-shutdownCtx.Done():
		return shutdownCtx.Err()
	}

	logger.Info("HTTP server stopped")
	return nil
}
