package analysis

import (
	"fmt"
	"math"

	"abstats/domain/core"
	"abstats/domain/stats"
)

// maxTotalSampleSize is the largest total the power table can hold
const maxTotalSampleSize = math.MaxInt32

// PowerResult is the outcome of a sample-size calculation
type PowerResult struct {
	SampleSizePerVariant  int
	TotalSampleSize       int
	EstimatedDurationDays *int
}

// Power computes sample sizes for two-proportion tests
type Power struct {
	dist *Distributions
}

// NewPower creates a power calculator
func NewPower() *Power {
	return &Power{dist: NewDistributions()}
}

// Validate checks the calculation input
func (p *Power) Validate(in stats.PowerInput) error {
	switch {
	case !(in.BaselineRate > 0 && in.BaselineRate < 1):
		return core.NewValidationError("baseline_rate", "must be in (0,1)")
	case !(in.MinimumDetectableEffect > 0):
		return core.NewValidationError("minimum_detectable_effect", "must be positive")
	case in.BaselineRate*(1+in.MinimumDetectableEffect) >= 1:
		return core.NewValidationError("minimum_detectable_effect", "target rate must stay below 1")
	case !(in.Power > 0 && in.Power < 1):
		return core.NewValidationError("power", "must be in (0,1)")
	case !(in.SignificanceLevel > 0 && in.SignificanceLevel < 1):
		return core.NewValidationError("significance_level", "must be in (0,1)")
	case in.VariantCount < 2:
		return core.NewValidationError("variant_count", "must be at least 2")
	case in.DailyTraffic != nil && *in.DailyTraffic <= 0:
		return core.NewValidationError("daily_traffic", "must be positive when given")
	}
	return nil
}

// SampleSize returns the per-variant n for detecting a relative lift of mde
// over baseline with a two-sided test:
//
//	n = (z_{1-a/2}*sqrt(2*pbar*(1-pbar)) + z_{1-b}*sqrt(p1*q1 + p2*q2))^2 / (p2-p1)^2
func (p *Power) SampleSize(in stats.PowerInput) (*PowerResult, error) {
	if err := p.Validate(in); err != nil {
		return nil, err
	}

	p1 := in.BaselineRate
	p2 := p1 * (1 + in.MinimumDetectableEffect)
	pbar := (p1 + p2) / 2
	zAlpha := p.dist.ZCritical(in.SignificanceLevel)
	zBeta := p.dist.NormalQuantile(in.Power)

	num := zAlpha*math.Sqrt(2*pbar*(1-pbar)) + zBeta*math.Sqrt(p1*(1-p1)+p2*(1-p2))
	n := math.Ceil(num * num / ((p2 - p1) * (p2 - p1)))
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, core.NewComputationError("sample size", "result is not finite")
	}
	if n*float64(in.VariantCount) > maxTotalSampleSize {
		return nil, core.NewComputationError("sample size",
			fmt.Sprintf("%.0f per variant exceeds %d in total; the effect is too small to detect", n, maxTotalSampleSize))
	}

	res := &PowerResult{
		SampleSizePerVariant: int(n),
		TotalSampleSize:      int(n) * in.VariantCount,
	}
	if in.DailyTraffic != nil {
		days := int(math.Ceil(float64(res.TotalSampleSize) / float64(*in.DailyTraffic)))
		res.EstimatedDurationDays = &days
	}
	return res, nil
}
