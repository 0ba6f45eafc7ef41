package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	models "Chronos/internal/domain/models"
	icache "Chronos/internal/service/cache"
	"Chronos/internal/service/metrics"
	"Chronos/internal/usecase"
	xhttp "Chronos/pkg/http"
	xlogger "Chronos/pkg/logger"
)

// StatusReader answers status and signal lookups.
type StatusReader interface {
	Status(ctx context.Context, symbol string) (models.StatusSnapshot, string, error)
	GetSignals(ctx context.Context, p usecase.GetSignalsParams) (*models.SignalsView, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// StatusHandler serves read-only views of the decision core.
type StatusHandler struct {
	logger   *xlogger.Logger
	query    StatusReader
	cache    icache.BytesCache
	cacheTTL time.Duration
	checks   map[string]HealthCheck
	push     time.Duration
}

func NewStatusHandler(logger *xlogger.Logger, query StatusReader, push time.Duration) *StatusHandler {
	metrics.Register()
	if logger == nil {
		logger = xlogger.Nop()
	}
	if push <= 0 {
		push = time.Second
	}
	return &StatusHandler{logger: logger, query: query, push: push, cacheTTL: time.Second, checks: map[string]HealthCheck{}}
}

// SetCache enables short-lived caching of signal views read from the store.
func (h *StatusHandler) SetCache(c icache.BytesCache, ttl time.Duration) {
	h.cache = c
	if ttl > 0 {
		h.cacheTTL = ttl
	}
}

// AddHealthCheck registers a named dependency probe for /health.
func (h *StatusHandler) AddHealthCheck(name string, fn HealthCheck) {
	h.checks[name] = fn
}

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/signals", h.Signals)
	e.GET("/ws/status", h.Stream)
}

func (h *StatusHandler) Status(c echo.Context) error {
	defer observe("status", time.Now())
	req := &models.StatusQuery{}
	if verr := xhttp.BindRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap, src, err := h.query.Status(c.Request().Context(), req.Symbol)
	if err != nil {
		return h.fail(c, "status", err)
	}
	c.Response().Header().Set("X-Status-Source", src)
	return xhttp.SuccessResponse(c, snap)
}

func (h *StatusHandler) Signals(c echo.Context) error {
	defer observe("signals", time.Now())
	req := &models.SignalsQuery{}
	if verr := xhttp.BindRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p := usecase.GetSignalsParams{Symbol: req.Symbol, Components: req.WithComponents()}

	key := "signals:" + p.Symbol
	if !p.Components {
		key += ":compact"
	}
	if h.cache != nil {
		if b, ok, err := h.cache.GetBytes(key); err != nil {
			h.logger.Warn("signals cache_get_error", xlogger.Error(err))
		} else if ok {
			return c.JSONBlob(http.StatusOK, b)
		}
	}

	view, err := h.query.GetSignals(c.Request().Context(), p)
	if err != nil {
		return h.fail(c, "signals", err)
	}
	resp := xhttp.Envelope{Status: http.StatusOK, Message: http.StatusText(http.StatusOK), Data: view}
	b, err := json.Marshal(resp)
	if err != nil {
		return h.fail(c, "signals", err)
	}
	// the local loop is already in memory; only store reads are worth caching
	if h.cache != nil && view.Source == usecase.SourceStore {
		if err := h.cache.SetBytes(key, b, h.cacheTTL); err != nil {
			h.logger.Warn("signals cache_set_error", xlogger.Error(err))
		}
	}
	return c.JSONBlob(http.StatusOK, b)
}

// Health is ok while every registered dependency answers within a second.
func (h *StatusHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			healthy = false
			continue
		}
		deps[name] = "ok"
	}
	body := map[string]interface{}{"status": "ok", "dependencies": deps}
	if !healthy {
		body["status"] = "degraded"
		return xhttp.ServiceUnavailableResponse(c, body)
	}
	return xhttp.SuccessResponse(c, body)
}

func (h *StatusHandler) fail(c echo.Context, endpoint string, err error) error {
	if errors.Is(err, usecase.ErrStatusUnavailable) {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("no status published yet"))
	}
	metrics.APIErrors.WithLabelValues(endpoint).Inc()
	h.logger.Error(endpoint+" usecase error", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError(endpoint+" lookup failed").WithError(err))
}
