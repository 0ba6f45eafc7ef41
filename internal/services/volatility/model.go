package volatility

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"Chronos/internal/domain/models"
	"Chronos/internal/domain/service"
	"Chronos/internal/services/features"
	"Chronos/pkg/clock"
	"Chronos/pkg/logger"
)

var errDegenerate = errors.New("return window has zero variance")

const rvFloor = 0.001

type Config struct {
	StopMultiplier  float64
	RealizedWindow  int
	MinReturns      int
	MinRefitSamples int
	MaxEvaluations  int
	Initial         models.GarchParams
}

// DefaultInitial is a conservative prior for one-minute crypto returns,
// used until the first successful refit.
var DefaultInitial = models.GarchParams{Omega: 1e-7, Alpha: 0.05, Beta: 0.90, Nu: 8}

type fitted struct {
	params models.GarchParams
	// sample mean of the fit window; innovations are taken around it
	mean float64
	at   time.Time
}

// Model tracks the GARCH(1,1) conditional variance and trailing realized
// volatility. Parameters are replaced wholesale by Refit through an atomic
// pointer, so OnReturn never observes a half-written set.
type Model struct {
	cfg    Config
	clock  clock.Clock
	log    *logger.Logger
	params atomic.Pointer[fitted]

	mu       sync.RWMutex
	sigma2   float64
	returns  []float64
	head     int
	count    int
	observed int
}

var _ service.VolatilityModel = (*Model)(nil)

func NewModel(cfg Config, clk clock.Clock) (*Model, error) {
	if cfg.Initial == (models.GarchParams{}) {
		cfg.Initial = DefaultInitial
	}
	if !cfg.Initial.Stationary() {
		return nil, fmt.Errorf("volatility: initial parameters are not stationary: %+v", cfg.Initial)
	}
	if cfg.StopMultiplier <= 0 || cfg.RealizedWindow <= 1 {
		return nil, fmt.Errorf("volatility: stop multiplier and realized window must be positive")
	}
	if cfg.MinReturns <= 0 {
		cfg.MinReturns = 10
	}
	if cfg.MinRefitSamples < 10 {
		cfg.MinRefitSamples = 10
	}
	if cfg.MaxEvaluations <= 0 {
		cfg.MaxEvaluations = 4000
	}
	if clk == nil {
		clk = clock.System{}
	}
	m := &Model{
		cfg:     cfg,
		clock:   clk,
		log:     logger.Nop(),
		returns: make([]float64, cfg.RealizedWindow),
		sigma2:  cfg.Initial.UnconditionalVariance(),
	}
	m.params.Store(&fitted{params: cfg.Initial})
	return m, nil
}

func (m *Model) SetLogger(l *logger.Logger) {
	if l != nil {
		m.log = l
	}
}

// OnReturn rolls the variance recursion forward with the newest return,
// demeaned the same way the last fit was.
func (m *Model) OnReturn(r float64) {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return
	}
	f := m.params.Load()
	p, eps := f.params, r-f.mean

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sigma2 = p.Omega + p.Alpha*eps*eps + p.Beta*m.sigma2
	m.returns[m.head] = r
	m.head = (m.head + 1) % len(m.returns)
	if m.count < len(m.returns) {
		m.count++
	}
	m.observed++
}

// Refit re-estimates the parameters on window and swaps them in only when the
// optimizer converged to a stationary solution.
func (m *Model) Refit(ctx context.Context, window []float64) error {
	if len(window) < m.cfg.MinRefitSamples {
		return m.fitFailed("insufficient samples", fmt.Errorf("%w: %d < %d", models.ErrInsufficientData, len(window), m.cfg.MinRefitSamples))
	}
	data := make([]float64, len(window))
	copy(data, window)

	start := time.Now()
	res, err := fit(ctx, data, m.cfg.MaxEvaluations)
	if err != nil {
		return m.fitFailed("optimizer", err)
	}
	if res.status.Early() {
		return m.fitFailed("not converged", fmt.Errorf("status %s", res.status))
	}
	if !res.params.Stationary() {
		return m.fitFailed("non-stationary", fmt.Errorf("alpha+beta=%.6f omega=%g", res.params.Alpha+res.params.Beta, res.params.Omega))
	}

	m.params.Store(&fitted{params: res.params, mean: res.mean, at: m.clock.Now()})
	m.log.Info("garch refit committed",
		logger.Int("samples", len(data)),
		logger.Float64("omega", res.params.Omega),
		logger.Float64("alpha", res.params.Alpha),
		logger.Float64("beta", res.params.Beta),
		logger.Float64("nu", res.params.Nu),
		logger.Float64("mean", res.mean),
		logger.Float64("nll", res.nll),
		logger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

func (m *Model) fitFailed(reason string, err error) error {
	fe := &models.ModelFitError{Model: "garch", Reason: reason, Err: err}
	m.log.Warn("garch refit discarded, keeping previous parameters", logger.Error(fe))
	return fe
}

func (m *Model) Current() models.VolatilitySnapshot {
	f := m.params.Load()

	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := models.VolatilitySnapshot{
		Params:   f.params,
		Sigma2:   m.sigma2,
		Sigma:    math.Sqrt(m.sigma2),
		Ready:    m.observed >= m.cfg.MinReturns,
		Returns:  m.observed,
		FittedAt: f.at,
	}
	if snap.Ready {
		// order does not matter for a sum of squares
		snap.RealizedVol = math.Max(features.RealizedVolatility(m.returns[:m.count], m.count), rvFloor)
	}
	return snap
}

// StopDistance is k × σ_t expressed in price units at price. It is 0 until
// the model has seen enough returns to be trusted.
func (m *Model) StopDistance(price float64) float64 {
	s := m.Current()
	if !s.Ready || price <= 0 {
		return 0
	}
	return m.cfg.StopMultiplier * s.Sigma * price
}
