package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Chronos/pkg/http/middleware"
	"Chronos/pkg/logger"
)

// Handler registers a group of routes.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

type ServerOption func(*serverConfig)

type serverConfig struct {
	host          string
	port          int
	read, write   time.Duration
	shutdown      time.Duration
	cors          bool
	metricsPath   string
	slowThreshold time.Duration
	log           *logger.Logger
}

func WithHost(host string) ServerOption {
	return func(c *serverConfig) { c.host = host }
}

func WithPort(port int) ServerOption {
	return func(c *serverConfig) { c.port = port }
}

// WithTimeouts sets read and write timeouts and the grace period Run allows
// in-flight requests on shutdown.
func WithTimeouts(read, write, shutdown time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.read, c.write, c.shutdown = read, write, shutdown
	}
}

func WithCORS(enabled bool) ServerOption {
	return func(c *serverConfig) { c.cors = enabled }
}

// WithMetricsPath mounts the Prometheus handler; empty leaves it off.
func WithMetricsPath(path string) ServerOption {
	return func(c *serverConfig) { c.metricsPath = path }
}

// WithSlowThreshold sets the latency above which requests are logged as slow.
func WithSlowThreshold(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		if d > 0 {
			c.slowThreshold = d
		}
	}
}

func WithLogger(l *logger.Logger) ServerOption {
	return func(c *serverConfig) { c.log = l }
}

// Server serves the control, status and metrics endpoints.
type Server struct {
	e   *echo.Echo
	cfg serverConfig
}

func NewServer(handlers []Handler, opts ...ServerOption) *Server {
	cfg := serverConfig{
		host:          "0.0.0.0",
		port:          8080,
		read:          10 * time.Second,
		write:         10 * time.Second,
		shutdown:      10 * time.Second,
		cors:          true,
		metricsPath:   "/metrics",
		slowThreshold: time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logger.Nop()
	}

	e := echo.New()
	e.HideBanner, e.HidePort = true, true
	e.Server.ReadTimeout = cfg.read
	e.Server.WriteTimeout = cfg.write

	e.Use(middleware.Recover(cfg.log),
		middleware.RequestLogging(cfg.log),
		middleware.Metrics(cfg.log, cfg.slowThreshold))
	if cfg.cors {
		e.Use(middleware.CORS(middleware.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}
	for _, h := range handlers {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
	if cfg.metricsPath != "" {
		e.GET(cfg.metricsPath, echo.WrapHandler(promhttp.Handler()))
	}
	return &Server{e: e, cfg: cfg}
}

// ServeHTTP lets tests drive the full middleware stack without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}

// Run listens until ctx is done, then drains within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.host, strconv.Itoa(s.cfg.port))
	errCh := make(chan error, 1)
	go func() {
		s.cfg.log.Info("http server: listening", logger.String("addr", addr))
		errCh <- s.e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.shutdown)
	defer cancel()
	if err := s.e.Shutdown(sctx); err != nil {
		return fmt.Errorf("http server: shutdown: %w", err)
	}
	s.cfg.log.Info("http server: stopped")
	return nil
}
