package volatility

import (
	"context"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"Chronos/internal/domain/models"
)

const (
	minNu     = 2.05
	maxNu     = 200
	penalty   = 1e100
	varFloor  = 1e-20
	logitClip = 30
)

// negLogLikelihood is the Student-t GARCH(1,1) negative log-likelihood of the
// demeaned returns, with σ² seeded at the sample variance.
func negLogLikelihood(p models.GarchParams, eps []float64, seed float64) float64 {
	if !(p.Omega > 0) || p.Alpha < 0 || p.Beta < 0 || p.Nu <= 2 {
		return penalty
	}
	scale := math.Sqrt((p.Nu - 2) / p.Nu)
	s2 := seed
	ll := 0.0
	for i, e := range eps {
		if i > 0 {
			s2 = p.Omega + p.Alpha*eps[i-1]*eps[i-1] + p.Beta*s2
		}
		if !(s2 > varFloor) || math.IsInf(s2, 0) {
			return penalty
		}
		d := distuv.StudentsT{Mu: 0, Sigma: math.Sqrt(s2) * scale, Nu: p.Nu}
		ll += d.LogProb(e)
	}
	if math.IsNaN(ll) || math.IsInf(ll, 0) {
		return penalty
	}
	return -ll
}

// The optimizer works on an unconstrained vector:
// x0 = ln ω, x1 = logit(α+β), x2 = logit(α/(α+β)), x3 = ln(ν − minNu).
func decode(x []float64) models.GarchParams {
	persistence := logistic(x[1])
	share := logistic(x[2])
	alpha := persistence * share
	return models.GarchParams{
		Omega: math.Exp(x[0]),
		Alpha: alpha,
		Beta:  persistence - alpha,
		Nu:    math.Min(minNu+math.Exp(x[3]), maxNu),
	}
}

func encode(p models.GarchParams) []float64 {
	persistence := p.Alpha + p.Beta
	return []float64{
		math.Log(p.Omega),
		logit(persistence),
		logit(p.Alpha / persistence),
		math.Log(math.Max(p.Nu-minNu, 1e-6)),
	}
}

func logistic(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func logit(p float64) float64 {
	v := math.Log(p / (1 - p))
	return math.Max(-logitClip, math.Min(logitClip, v))
}

// startingPoint targets the sample variance with a typical persistence.
func startingPoint(variance float64) models.GarchParams {
	return models.GarchParams{
		Omega: variance * (1 - 0.98),
		Alpha: 0.08,
		Beta:  0.90,
		Nu:    8,
	}
}

type fitResult struct {
	params models.GarchParams
	mean   float64
	nll    float64
	status optimize.Status
}

// fit estimates the parameters by Nelder-Mead. ctx cancellation stops the
// search at the next iteration and is reported through the returned error.
func fit(ctx context.Context, returns []float64, maxEvals int) (fitResult, error) {
	mean, variance := stat.MeanVariance(returns, nil)
	if !(variance > 0) {
		return fitResult{}, errDegenerate
	}
	eps := make([]float64, len(returns))
	for i, r := range returns {
		eps[i] = r - mean
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return negLogLikelihood(decode(x), eps, variance)
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: maxEvals,
		Converger: &contextConverger{
			ctx:   ctx,
			inner: &optimize.FunctionConverge{Absolute: 1e-7, Relative: 1e-9, Iterations: 50},
		},
	}

	res, err := optimize.Minimize(problem, encode(startingPoint(variance)), settings, &optimize.NelderMead{})
	if cerr := ctx.Err(); cerr != nil {
		return fitResult{}, cerr
	}
	if err != nil {
		return fitResult{}, err
	}
	return fitResult{params: decode(res.X), mean: mean, nll: res.F, status: res.Status}, nil
}

// contextConverger ends the optimization as soon as ctx is done.
type contextConverger struct {
	ctx   context.Context
	inner optimize.Converger
}

func (c *contextConverger) Init(dim int) { c.inner.Init(dim) }

func (c *contextConverger) Converged(loc *optimize.Location) optimize.Status {
	if c.ctx.Err() != nil {
		return optimize.RuntimeLimit
	}
	return c.inner.Converged(loc)
}
