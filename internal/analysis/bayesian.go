package analysis

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"abstats/domain/core"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// SimpsonPanels is the number of panels used for the two-arm closed form
const SimpsonPanels = 2000

// Posterior is the Beta posterior of one named arm
type Posterior struct {
	Name  string
	Alpha float64
	Beta  float64
}

// PosteriorSummary holds the experiment-wide quantities derived for one arm
type PosteriorSummary struct {
	Name            string
	ProbabilityBest float64
	ExpectedLoss    float64
	CredibleLow     float64
	CredibleHigh    float64
}

// Bayesian estimates probability-best and expected loss over Beta posteriors
type Bayesian struct {
	dist *Distributions
}

// NewBayesian creates a Bayesian analyzer
func NewBayesian() *Bayesian {
	return &Bayesian{dist: NewDistributions()}
}

// Summarize estimates P(best) and expected loss by drawing draws samples per
// arm from rng, and credible intervals from the Beta quantile function. Ties
// in a draw go to the alphabetically first arm. With exactly two arms whose
// parameters are all >= 1, P(best) is replaced by numeric integration.
// Results are ordered by name.
func (b *Bayesian) Summarize(posteriors []Posterior, draws int, confidence float64, rng *rand.Rand) ([]PosteriorSummary, error) {
	if len(posteriors) == 0 {
		return nil, fmt.Errorf("%w: no variants", core.ErrInsufficientData)
	}
	if draws < 1 {
		return nil, core.NewValidationError("draws", "must be positive")
	}
	for _, p := range posteriors {
		if !(p.Alpha > 0) || !(p.Beta > 0) {
			return nil, core.NewComputationError("posterior", fmt.Sprintf("%s has Beta(%v, %v)", p.Name, p.Alpha, p.Beta))
		}
	}

	arms := append([]Posterior(nil), posteriors...)
	sort.Slice(arms, func(i, j int) bool { return arms[i].Name < arms[j].Name })

	samplers := make([]distuv.Beta, len(arms))
	for i, p := range arms {
		samplers[i] = b.dist.BetaSampler(p.Alpha, p.Beta, rng)
	}

	wins := make([]int, len(arms))
	losses := make([][]float64, len(arms))
	for i := range losses {
		losses[i] = make([]float64, draws)
	}
	sample := make([]float64, len(arms))
	for d := 0; d < draws; d++ {
		best := 0
		for i := range samplers {
			sample[i] = samplers[i].Rand()
			if sample[i] > sample[best] {
				best = i
			}
		}
		wins[best]++
		for i := range arms {
			losses[i][d] = sample[best] - sample[i]
		}
	}

	lowP := (1 - confidence) / 2
	highP := 1 - lowP
	out := make([]PosteriorSummary, len(arms))
	for i, p := range arms {
		loss, err := stats.Mean(losses[i])
		if err != nil {
			return nil, core.NewComputationError("expected loss", err.Error())
		}
		out[i] = PosteriorSummary{
			Name:            p.Name,
			ProbabilityBest: float64(wins[i]) / float64(draws),
			ExpectedLoss:    loss,
			CredibleLow:     b.dist.BetaQuantile(lowP, p.Alpha, p.Beta),
			CredibleHigh:    b.dist.BetaQuantile(highP, p.Alpha, p.Beta),
		}
	}

	if len(arms) == 2 && closedFormOK(arms[0]) && closedFormOK(arms[1]) {
		pB := b.ProbabilityBGreater(arms[0], arms[1])
		if !math.IsNaN(pB) {
			out[0].ProbabilityBest = 1 - pB
			out[1].ProbabilityBest = pB
		}
	}

	return out, nil
}

// ProbabilityBGreater computes P(X_b > X_a) = integral of f_b(x) F_a(x) over
// [0,1] with composite Simpson's rule.
func (b *Bayesian) ProbabilityBGreater(a, bb Posterior) float64 {
	n := SimpsonPanels
	h := 1.0 / float64(n)
	f := func(x float64) float64 {
		return b.dist.BetaPDF(x, bb.Alpha, bb.Beta) * b.dist.BetaCDF(x, a.Alpha, a.Beta)
	}

	sum := f(0) + f(1)
	for i := 1; i < n; i++ {
		x := float64(i) * h
		if i%2 == 1 {
			sum += 4 * f(x)
		} else {
			sum += 2 * f(x)
		}
	}
	p := sum * h / 3
	return math.Max(0, math.Min(1, p))
}

// PosteriorMean is alpha/(alpha+beta)
func PosteriorMean(p Posterior) float64 {
	return p.Alpha / (p.Alpha + p.Beta)
}

// Densities below 1 are unbounded at the endpoints
func closedFormOK(p Posterior) bool {
	return p.Alpha >= 1 && p.Beta >= 1
}
