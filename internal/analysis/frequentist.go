package analysis

import (
	"fmt"
	"math"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/domain/stats"
)

// TwoProportionResult is one two-proportion z-test of B against A
type TwoProportionResult struct {
	ZStat  float64
	PValue float64
	CILow  float64
	CIHigh float64
}

// Frequentist runs pairwise two-proportion z-tests
type Frequentist struct {
	dist *Distributions
}

// NewFrequentist creates a frequentist analyzer
func NewFrequentist() *Frequentist {
	return &Frequentist{dist: NewDistributions()}
}

// PooledZ returns the z statistic for rate_b - rate_a using the pooled
// proportion under the null of equal rates.
func (f *Frequentist) PooledZ(convA, nA, convB, nB int) (float64, error) {
	if nA <= 0 || nB <= 0 {
		return 0, fmt.Errorf("%w: n_a=%d n_b=%d", core.ErrInsufficientData, nA, nB)
	}
	if convA < 0 || convB < 0 || convA > nA || convB > nB {
		return 0, core.NewComputationError("z-test", fmt.Sprintf("conversions exceed sample (%d/%d, %d/%d)", convA, nA, convB, nB))
	}

	pA := float64(convA) / float64(nA)
	pB := float64(convB) / float64(nB)
	pooled := float64(convA+convB) / float64(nA+nB)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(nA) + 1/float64(nB)))
	if se == 0 || math.IsNaN(se) {
		return 0, core.NewComputationError("z-test", "degenerate pooled variance")
	}

	z := (pB - pA) / se
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return 0, core.NewComputationError("z-test", "z statistic is not finite")
	}
	return z, nil
}

// TwoProportion tests B against A. The interval is for rate_b - rate_a using
// the unpooled standard error at the given confidence level.
func (f *Frequentist) TwoProportion(convA, nA, convB, nB int, confidence float64) (TwoProportionResult, error) {
	z, err := f.PooledZ(convA, nA, convB, nB)
	if err != nil {
		return TwoProportionResult{}, err
	}

	pA := float64(convA) / float64(nA)
	pB := float64(convB) / float64(nB)
	diff := pB - pA
	se := math.Sqrt(pA*(1-pA)/float64(nA) + pB*(1-pB)/float64(nB))
	margin := f.dist.ZCritical(1-confidence) * se

	return TwoProportionResult{
		ZStat:  z,
		PValue: f.dist.TwoSidedPValue(z),
		CILow:  diff - margin,
		CIHigh: diff + margin,
	}, nil
}

// Analyze builds the per-variant rates and every alphabetical pair
// comparison. A variant with no exposures marks the report as insufficient
// but does not suppress the pairs that can be computed.
func (f *Frequentist) Analyze(exp *experiment.Experiment, counts []experiment.VariantCounts) *stats.FrequentistReport {
	byVariant := make(map[core.VariantID]experiment.VariantCounts, len(counts))
	for _, c := range counts {
		byVariant[c.VariantID] = c
	}

	report := &stats.FrequentistReport{
		ExperimentID:    exp.ID,
		ConfidenceLevel: exp.ConfidenceLevel,
	}

	variants := exp.SortedVariants()
	for _, v := range variants {
		c := byVariant[v.ID]
		rate := 0.0
		if c.Exposures > 0 {
			rate = float64(c.Successes) / float64(c.Exposures)
		} else {
			report.InsufficientData = true
		}
		report.PerVariant = append(report.PerVariant, stats.VariantRate{
			VariantID:   v.ID,
			Variant:     v.Name,
			N:           c.Exposures,
			Conversions: c.Successes,
			Rate:        rate,
		})
	}
	if report.InsufficientData {
		report.Notice = "not enough data yet: at least one variant has no exposures"
	}

	for i := 0; i < len(report.PerVariant); i++ {
		for j := i + 1; j < len(report.PerVariant); j++ {
			a, b := report.PerVariant[i], report.PerVariant[j]
			cmp := stats.Comparison{A: a.Variant, B: b.Variant}
			res, err := f.TwoProportion(a.Conversions, a.N, b.Conversions, b.N, exp.ConfidenceLevel)
			if err != nil {
				cmp.Err = err.Error()
			} else {
				cmp.ZStat = res.ZStat
				cmp.PValue = res.PValue
				cmp.CILow = res.CILow
				cmp.CIHigh = res.CIHigh
			}
			report.Comparisons = append(report.Comparisons, cmp)
		}
	}

	return report
}
