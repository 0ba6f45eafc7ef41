package api

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	models "Chronos/internal/domain/models"
	"Chronos/internal/service/metrics"
	"Chronos/internal/service/ratelimit"
	"Chronos/pkg/clock"
	xhttp "Chronos/pkg/http"
	xlogger "Chronos/pkg/logger"
)

// ControlLoop is the part of the decision loop the control surface drives.
type ControlLoop interface {
	SetSentiment(models.SentimentScore)
	EmergencyStop(ctx context.Context, forceClose *bool) error
	Resume(ctx context.Context) error
	Reconcile(ctx context.Context, qty, price float64) error
}

// ControlHandler serves the webhooks and operator endpoints.
type ControlHandler struct {
	logger  *xlogger.Logger
	loop    ControlLoop
	rl      *ratelimit.Limiter
	clock   clock.Clock
	timeout time.Duration
}

func NewControlHandler(logger *xlogger.Logger, loop ControlLoop, rl *ratelimit.Limiter, clk clock.Clock) *ControlHandler {
	metrics.Register()
	if logger == nil {
		logger = xlogger.Nop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &ControlHandler{logger: logger, loop: loop, rl: rl, clock: clk, timeout: 5 * time.Second}
}

// SetTimeout bounds how long a request waits for the loop to accept a command.
func (h *ControlHandler) SetTimeout(d time.Duration) {
	if d > 0 {
		h.timeout = d
	}
}

func (h *ControlHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhook/sentiment", h.Sentiment)
	e.POST("/webhook/emergency", h.Emergency)
	e.POST("/control/reconcile", h.Reconcile)
}

// Sentiment replaces the external sentiment scalar. The last value wins.
func (h *ControlHandler) Sentiment(c echo.Context) error {
	defer observe("sentiment", time.Now())
	if h.rl != nil && !h.rl.Allow(c.RealIP()) {
		metrics.APIRateLimited.WithLabelValues("sentiment").Inc()
		h.logger.Warn("sentiment webhook rate limited", xlogger.String("remote", c.RealIP()))
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limited"))
	}

	req := &models.SentimentRequest{}
	if verr := xhttp.BindRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s := models.SentimentScore{Value: *req.Score, Source: req.Source, At: h.clock.Now()}
	h.loop.SetSentiment(s)
	h.logger.Info("sentiment updated", xlogger.Float64("score", s.Value), xlogger.String("source", s.Source))
	return xhttp.SuccessResponse(c, s)
}

// Emergency halts or resumes the loop. It is never rate limited.
func (h *ControlHandler) Emergency(c echo.Context) error {
	defer observe("emergency", time.Now())
	req := &models.EmergencyRequest{}
	if verr := xhttp.BindRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	var err error
	switch req.Action {
	case "stop":
		err = h.loop.EmergencyStop(ctx, req.ForceClose)
	case "resume":
		err = h.loop.Resume(ctx)
	}
	if err != nil {
		metrics.APIErrors.WithLabelValues("emergency").Inc()
		h.logger.Error("emergency command failed", xlogger.String("action", req.Action), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, unavailable(err))
	}
	h.logger.Warn("emergency command accepted", xlogger.String("action", req.Action))
	return xhttp.SuccessResponse(c, map[string]interface{}{"action": req.Action, "accepted": true})
}

// Reconcile sets the position to what the operator confirmed at the venue.
func (h *ControlHandler) Reconcile(c echo.Context) error {
	defer observe("reconcile", time.Now())
	req := &models.ReconcileRequest{}
	if verr := xhttp.BindRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.Quantity > 0 && req.EntryPrice <= 0 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("entry_price is required for an open position"))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()
	if err := h.loop.Reconcile(ctx, req.Quantity, req.EntryPrice); err != nil {
		metrics.APIErrors.WithLabelValues("reconcile").Inc()
		h.logger.Error("reconcile failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, unavailable(err))
	}
	h.logger.Info("position reconciled",
		xlogger.Float64("quantity", req.Quantity),
		xlogger.Float64("entry_price", req.EntryPrice))
	return xhttp.SuccessResponse(c, req)
}

func unavailable(err error) *xhttp.AppError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return xhttp.UnavailableError("decision loop did not accept the command in time").WithError(err)
	}
	return xhttp.InternalError("command failed").WithError(err)
}

func observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
