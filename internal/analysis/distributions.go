package analysis

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Distributions provides unified access to the distributions the analyzers use
type Distributions struct{}

// NewDistributions creates a new distributions utility
func NewDistributions() *Distributions {
	return &Distributions{}
}

// NormalCDF computes cumulative distribution function for standard normal
func (d *Distributions) NormalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// NormalQuantile computes quantile function for standard normal (inverse CDF)
func (d *Distributions) NormalQuantile(p float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}

// TwoSidedPValue returns P(|Z| >= |z|)
func (d *Distributions) TwoSidedPValue(z float64) float64 {
	if math.IsNaN(z) {
		return math.NaN()
	}
	return 2 * (1 - d.NormalCDF(math.Abs(z)))
}

// ZCritical returns z_{1-alpha/2}
func (d *Distributions) ZCritical(alpha float64) float64 {
	return d.NormalQuantile(1 - alpha/2)
}

// BetaQuantile computes the inverse CDF of Beta(alpha, beta)
func (d *Distributions) BetaQuantile(p, alpha, beta float64) float64 {
	if alpha <= 0 || beta <= 0 {
		return math.NaN()
	}
	return distuv.Beta{Alpha: alpha, Beta: beta}.Quantile(p)
}

// BetaCDF computes cumulative distribution function for beta distribution
func (d *Distributions) BetaCDF(x, alpha, beta float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	return distuv.Beta{Alpha: alpha, Beta: beta}.CDF(x)
}

// BetaPDF computes the density of Beta(alpha, beta) at x
func (d *Distributions) BetaPDF(x, alpha, beta float64) float64 {
	if x < 0 || x > 1 {
		return 0
	}
	return distuv.Beta{Alpha: alpha, Beta: beta}.Prob(x)
}

// BetaSampler returns a Beta(alpha, beta) sampler drawing from src
func (d *Distributions) BetaSampler(alpha, beta float64, src *rand.Rand) distuv.Beta {
	return distuv.Beta{Alpha: alpha, Beta: beta, Src: src}
}
