package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vnykmshr/pacer/internal/logging"
	"github.com/vnykmshr/pacer/internal/threat"
	"github.com/vnykmshr/pacer/pkg/coordinator"
	"github.com/vnykmshr/pacer/pkg/metrics"
)

// Detector injects a canned raw event for a source.
type Detector interface {
	Detect(ctx context.Context, source string) (threat.RawEvent, error)
}

// StatusSource reports the coordinator state.
type StatusSource interface {
	Status() coordinator.Status
}

// BusInfo describes the active transport.
type BusInfo interface {
	Backend() string
	Configured() string
	Fallback() bool
}

// Config holds admin API configuration.
type Config struct {
	// Bind is the listen address, e.g. "127.0.0.1:8089".
	Bind string

	// RateLimit is the sustained event injection rate per second.
	RateLimit float64

	// Burst is the number of injections allowed at once.
	Burst int

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Clock drives the rate limiter. Optional.
	Clock Clock

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// Server is the admin HTTP API.
type Server struct {
	config   Config
	detector Detector
	status   StatusSource
	bus      BusInfo
	logger   *slog.Logger
	limiter  *Limiter
	router   *mux.Router
	started  time.Time
}

// NewServer builds the router. status may be nil when no coordinator runs.
func NewServer(cfg Config, detector Detector, status StatusSource, bus BusInfo) (*Server, error) {
	if detector == nil {
		return nil, errors.New("api: detector is required")
	}
	if bus == nil {
		return nil, errors.New("api: bus info is required")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	limiter, err := NewLimiter(cfg.RateLimit, cfg.Burst, cfg.Clock)
	if err != nil {
		return nil, err
	}
	s := &Server{
		config:   cfg,
		detector: detector,
		status:   status,
		bus:      bus,
		logger:   logging.NewComponentLogger(cfg.Logger, "api"),
		limiter:  limiter,
		started:  time.Now(),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(s.logger, s.config.Metrics))
	r.Use(RecoveryMiddleware(s.logger))

	r.HandleFunc("/healthz", s.Health).Methods(http.MethodGet)
	r.HandleFunc("/status", s.Status).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	events := r.PathPrefix("/events").Subrouter()
	events.Use(RateLimitMiddleware(s.limiter))
	events.HandleFunc("/{source}", s.InjectEvent).Methods(http.MethodPost)

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("admin api listening", logging.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return fmt.Errorf("admin api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin api shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin api: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured bind address and serves until
// ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Bind)
	if err != nil {
		return fmt.Errorf("admin api listen %s: %w", s.config.Bind, err)
	}
	return s.Serve(ctx, ln)
}
