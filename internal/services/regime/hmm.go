package regime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"Chronos/internal/domain/models"
)

const k = models.RegimeCount

var errDegenerate = errors.New("degenerate hmm parameters")

// DefaultParams is the prior used before the first successful fit.
var DefaultParams = models.HMMParams{
	Initial: [k]float64{1.0 / 3, 1.0 / 3, 1.0 / 3},
	Transition: [k][k]float64{
		{0.90, 0.08, 0.02},
		{0.05, 0.90, 0.05},
		{0.02, 0.08, 0.90},
	},
	Means:   [k]float64{0.0005, 0, -0.0005},
	StdDevs: [k]float64{0.002, 0.001, 0.002},
}

// logEmissions returns per-state log densities of x.
func logEmissions(p *models.HMMParams, x float64) [k]float64 {
	var out [k]float64
	for s := 0; s < k; s++ {
		out[s] = distuv.Normal{Mu: p.Means[s], Sigma: p.StdDevs[s]}.LogProb(x)
	}
	return out
}

// scaledEmissions exponentiates log densities after removing their maximum, so
// at least one entry is 1. The removed offset is returned for likelihood bookkeeping.
func scaledEmissions(p *models.HMMParams, x float64) ([k]float64, float64) {
	lb := logEmissions(p, x)
	m := math.Inf(-1)
	for _, v := range lb {
		m = math.Max(m, v)
	}
	var out [k]float64
	for s, v := range lb {
		out[s] = math.Exp(v - m)
	}
	return out, m
}

// forwardStep advances a filtered posterior by one observation.
func forwardStep(p *models.HMMParams, prior [k]float64, x float64) ([k]float64, bool) {
	b, _ := scaledEmissions(p, x)
	var next [k]float64
	total := 0.0
	for j := 0; j < k; j++ {
		pred := 0.0
		for i := 0; i < k; i++ {
			pred += prior[i] * p.Transition[i][j]
		}
		next[j] = pred * b[j]
		total += next[j]
	}
	if !(total > 0) || math.IsInf(total, 0) {
		return prior, false
	}
	for j := range next {
		next[j] /= total
	}
	return next, true
}

type fitOutcome struct {
	params     models.HMMParams
	logLik     float64
	iterations int
	converged  bool
}

// baumWelch runs scaled expectation-maximization from start. ctx is checked
// between iterations.
func baumWelch(ctx context.Context, obs []float64, start models.HMMParams, maxIter int, tol float64) (fitOutcome, error) {
	n := len(obs)
	p := start
	alpha := make([][k]float64, n)
	beta := make([][k]float64, n)
	b := make([][k]float64, n)
	scale := make([]float64, n)
	offset := make([]float64, n)

	_, variance := stat.MeanVariance(obs, nil)
	minVar := math.Max(variance*1e-4, 1e-16)

	prevLL := math.Inf(-1)
	out := fitOutcome{}
	for iter := 1; iter <= maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return fitOutcome{}, err
		}

		for t, x := range obs {
			b[t], offset[t] = scaledEmissions(&p, x)
		}

		// forward
		ll := 0.0
		for t := 0; t < n; t++ {
			c := 0.0
			for j := 0; j < k; j++ {
				var a float64
				if t == 0 {
					a = p.Initial[j]
				} else {
					for i := 0; i < k; i++ {
						a += alpha[t-1][i] * p.Transition[i][j]
					}
				}
				alpha[t][j] = a * b[t][j]
				c += alpha[t][j]
			}
			if !(c > 0) {
				return fitOutcome{}, fmt.Errorf("%w: zero forward mass at t=%d", errDegenerate, t)
			}
			for j := 0; j < k; j++ {
				alpha[t][j] /= c
			}
			scale[t] = c
			ll += math.Log(c) + offset[t]
		}

		// backward
		for j := 0; j < k; j++ {
			beta[n-1][j] = 1
		}
		for t := n - 2; t >= 0; t-- {
			for i := 0; i < k; i++ {
				s := 0.0
				for j := 0; j < k; j++ {
					s += p.Transition[i][j] * b[t+1][j] * beta[t+1][j]
				}
				beta[t][i] = s / scale[t+1]
			}
		}

		// expectation
		var next models.HMMParams
		var occupancy, occupancyHead [k]float64
		var transitions [k][k]float64
		var weightedSum, weightedSq [k]float64
		for t := 0; t < n; t++ {
			norm := 0.0
			var g [k]float64
			for i := 0; i < k; i++ {
				g[i] = alpha[t][i] * beta[t][i]
				norm += g[i]
			}
			for i := 0; i < k; i++ {
				g[i] /= norm
				occupancy[i] += g[i]
				weightedSum[i] += g[i] * obs[t]
				if t == 0 {
					next.Initial[i] = g[i]
				}
				if t < n-1 {
					occupancyHead[i] += g[i]
				}
			}
			if t == n-1 {
				continue
			}
			xiNorm := 0.0
			var xi [k][k]float64
			for i := 0; i < k; i++ {
				for j := 0; j < k; j++ {
					xi[i][j] = alpha[t][i] * p.Transition[i][j] * b[t+1][j] * beta[t+1][j]
					xiNorm += xi[i][j]
				}
			}
			for i := 0; i < k; i++ {
				for j := 0; j < k; j++ {
					transitions[i][j] += xi[i][j] / xiNorm
				}
			}
		}

		// maximization
		for i := 0; i < k; i++ {
			if occupancy[i] < 1e-6*float64(n) || occupancyHead[i] <= 0 {
				return fitOutcome{}, fmt.Errorf("%w: state %d is empty", errDegenerate, i)
			}
			next.Means[i] = weightedSum[i] / occupancy[i]
			for j := 0; j < k; j++ {
				next.Transition[i][j] = transitions[i][j] / occupancyHead[i]
			}
		}
		for t := 0; t < n; t++ {
			norm := 0.0
			var g [k]float64
			for i := 0; i < k; i++ {
				g[i] = alpha[t][i] * beta[t][i]
				norm += g[i]
			}
			for i := 0; i < k; i++ {
				d := obs[t] - next.Means[i]
				weightedSq[i] += g[i] / norm * d * d
			}
		}
		for i := 0; i < k; i++ {
			next.StdDevs[i] = math.Sqrt(math.Max(weightedSq[i]/occupancy[i], minVar))
		}

		out = fitOutcome{params: next, logLik: ll, iterations: iter}
		if math.Abs(ll-prevLL) <= tol*math.Max(1, math.Abs(ll)) {
			out.converged = true
			return out, nil
		}
		prevLL = ll
		p = next
	}
	return out, nil
}

// quantileStart seeds the three states from the terciles of the sample.
func quantileStart(obs []float64) models.HMMParams {
	sorted := make([]float64, len(obs))
	copy(sorted, obs)
	sort.Float64s(sorted)

	sd := stat.StdDev(obs, nil)
	p := models.HMMParams{
		Initial: [k]float64{1.0 / 3, 1.0 / 3, 1.0 / 3},
		Transition: [k][k]float64{
			{0.90, 0.05, 0.05},
			{0.05, 0.90, 0.05},
			{0.05, 0.05, 0.90},
		},
	}
	// descending: state 0 takes the top tercile
	third := len(sorted) / 3
	bounds := [k][2]int{{2 * third, len(sorted)}, {third, 2 * third}, {0, third}}
	for s, bnd := range bounds {
		p.Means[s] = stat.Mean(sorted[bnd[0]:bnd[1]], nil)
		p.StdDevs[s] = sd
	}
	return p
}

// orderByMean relabels states so that index 0 has the highest mean (bull)
// and index 2 the lowest (bear).
func orderByMean(p models.HMMParams) models.HMMParams {
	idx := [k]int{0, 1, 2}
	sort.SliceStable(idx[:], func(a, b int) bool { return p.Means[idx[a]] > p.Means[idx[b]] })

	var out models.HMMParams
	for a, i := range idx {
		out.Initial[a] = p.Initial[i]
		out.Means[a] = p.Means[i]
		out.StdDevs[a] = p.StdDevs[i]
		for b, j := range idx {
			out.Transition[a][b] = p.Transition[i][j]
		}
	}
	return out
}

func validParams(p models.HMMParams) error {
	for i := 0; i < k; i++ {
		if !(p.StdDevs[i] > 0) || math.IsNaN(p.Means[i]) || math.IsInf(p.Means[i], 0) {
			return fmt.Errorf("%w: state %d emission", errDegenerate, i)
		}
		row := 0.0
		for j := 0; j < k; j++ {
			v := p.Transition[i][j]
			if v < 0 || math.IsNaN(v) {
				return fmt.Errorf("%w: transition[%d][%d]=%v", errDegenerate, i, j, v)
			}
			row += v
		}
		if math.Abs(row-1) > 1e-6 {
			return fmt.Errorf("%w: transition row %d sums to %v", errDegenerate, i, row)
		}
	}
	return nil
}
