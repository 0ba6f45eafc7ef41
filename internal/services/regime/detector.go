package regime

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"Chronos/internal/domain/models"
	"Chronos/internal/domain/service"
	"Chronos/pkg/clock"
	"Chronos/pkg/logger"
)

type Config struct {
	MinRefitSamples int
	MaxIterations   int
	Tolerance       float64
}

type fittedParams struct {
	params models.HMMParams
	at     time.Time
}

// Detector filters the regime posterior one return at a time. Refit replaces
// the whole parameter set atomically; the filter keeps its posterior because
// states are always labelled bull, sideways, bear by mean.
type Detector struct {
	cfg    Config
	clock  clock.Clock
	log    *logger.Logger
	params atomic.Pointer[fittedParams]

	mu        sync.RWMutex
	posterior [k]float64
	observed  int
}

var _ service.RegimeDetector = (*Detector)(nil)

func NewDetector(cfg Config, clk clock.Clock) *Detector {
	if cfg.MinRefitSamples < 30 {
		cfg.MinRefitSamples = 30
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 200
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 1e-6
	}
	if clk == nil {
		clk = clock.System{}
	}
	d := &Detector{cfg: cfg, clock: clk, log: logger.Nop(), posterior: DefaultParams.Initial}
	d.params.Store(&fittedParams{params: DefaultParams})
	return d
}

func (d *Detector) SetLogger(l *logger.Logger) {
	if l != nil {
		d.log = l
	}
}

func (d *Detector) OnReturn(r float64) {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return
	}
	p := d.params.Load().params

	d.mu.Lock()
	defer d.mu.Unlock()
	next, ok := forwardStep(&p, d.posterior, r)
	if !ok {
		d.log.Debug("regime forward step underflow, posterior kept", logger.Float64("return", r))
		return
	}
	d.posterior = next
	d.observed++
}

// Refit runs Baum-Welch on a private copy of window. Parameters change only
// when the fit converged to a usable model.
func (d *Detector) Refit(ctx context.Context, window []float64) error {
	if len(window) < d.cfg.MinRefitSamples {
		return d.fitFailed("insufficient samples",
			fmt.Errorf("%w: %d < %d", models.ErrInsufficientData, len(window), d.cfg.MinRefitSamples))
	}
	obs := make([]float64, len(window))
	copy(obs, window)

	start := time.Now()
	out, err := baumWelch(ctx, obs, quantileStart(obs), d.cfg.MaxIterations, d.cfg.Tolerance)
	if err != nil {
		return d.fitFailed("baum-welch", err)
	}
	if !out.converged {
		return d.fitFailed("not converged", fmt.Errorf("no convergence after %d iterations", out.iterations))
	}
	params := orderByMean(out.params)
	if err := validParams(params); err != nil {
		return d.fitFailed("invalid parameters", err)
	}

	d.params.Store(&fittedParams{params: params, at: d.clock.Now()})
	d.log.Info("hmm refit committed",
		logger.Int("samples", len(obs)),
		logger.Int("iterations", out.iterations),
		logger.Float64("log_likelihood", out.logLik),
		logger.Any("means", params.Means),
		logger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

func (d *Detector) fitFailed(reason string, err error) error {
	fe := &models.ModelFitError{Model: "hmm", Reason: reason, Err: err}
	d.log.Warn("hmm refit discarded, keeping previous parameters", logger.Error(fe))
	return fe
}

// Params returns the live parameter set.
func (d *Detector) Params() models.HMMParams { return d.params.Load().params }

// Current reports the most likely state. It is Ready once a fit has been
// committed and at least one return has been filtered.
func (d *Detector) Current() models.RegimeSnapshot {
	f := d.params.Load()

	d.mu.RLock()
	defer d.mu.RUnlock()
	best := 0
	for s := 1; s < k; s++ {
		if d.posterior[s] > d.posterior[best] {
			best = s
		}
	}
	return models.RegimeSnapshot{
		State:      models.Regime(best),
		Confidence: d.posterior[best],
		Posterior:  d.posterior,
		Ready:      !f.at.IsZero() && d.observed > 0,
		FittedAt:   f.at,
	}
}
