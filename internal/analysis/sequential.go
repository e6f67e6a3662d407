package analysis

import (
	"errors"
	"fmt"
	"math"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/domain/stats"
)

// CheckInput carries everything one interim check is decided on
type CheckInput struct {
	CheckNumber       int
	TotalChecks       int
	SampleSize        int
	PlannedSampleSize int
	Alpha             float64
	ZStatistic        float64
}

// CheckResult is the evaluated boundary and decision for one check
type CheckResult struct {
	InformationFraction float64        `json:"information_fraction"`
	AlphaSpent          float64        `json:"alpha_spent"`
	UpperBoundary       float64        `json:"upper_boundary"`
	LowerBoundary       float64        `json:"lower_boundary"`
	Decision            stats.Decision `json:"decision"`
}

// Sequential implements O'Brien-Fleming group-sequential checks
type Sequential struct {
	dist *Distributions
}

// NewSequential creates a sequential analyzer
func NewSequential() *Sequential {
	return &Sequential{dist: NewDistributions()}
}

// Boundary returns the two-sided O'Brien-Fleming critical value
// z_{1-alpha/2}/sqrt(t) at information fraction t.
func (s *Sequential) Boundary(t, alpha float64) float64 {
	if t <= 0 {
		return math.Inf(1)
	}
	return s.dist.ZCritical(alpha) / math.Sqrt(t)
}

// AlphaSpent is the Lan-DeMets O'Brien-Fleming spending function
// 2 - 2*Phi(z_{1-alpha/2}/sqrt(t)). It equals alpha at t = 1.
func (s *Sequential) AlphaSpent(t, alpha float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return alpha
	}
	return 2 - 2*s.dist.NormalCDF(s.dist.ZCritical(alpha)/math.Sqrt(t))
}

// InformationFraction is sampleSize/planned capped at 1
func InformationFraction(sampleSize, planned int) float64 {
	if planned <= 0 {
		return 0
	}
	return math.Min(1, float64(sampleSize)/float64(planned))
}

// Evaluate decides one check. Crossing the upper boundary stops with a
// winner, crossing the lower boundary stops for futility.
func (s *Sequential) Evaluate(in CheckInput) CheckResult {
	t := InformationFraction(in.SampleSize, in.PlannedSampleSize)
	upper := s.Boundary(t, in.Alpha)

	decision := stats.DecisionContinue
	switch {
	case in.ZStatistic >= upper:
		decision = stats.DecisionStopWinner
	case in.ZStatistic <= -upper:
		decision = stats.DecisionStopFutile
	}

	return CheckResult{
		InformationFraction: t,
		AlphaSpent:          s.AlphaSpent(t, in.Alpha),
		UpperBoundary:       upper,
		LowerBoundary:       -upper,
		Decision:            decision,
	}
}

// Schedule returns the boundaries at the K equally spaced looks
func (s *Sequential) Schedule(totalChecks int, alpha float64) []CheckResult {
	out := make([]CheckResult, 0, totalChecks)
	for k := 1; k <= totalChecks; k++ {
		t := float64(k) / float64(totalChecks)
		upper := s.Boundary(t, alpha)
		out = append(out, CheckResult{
			InformationFraction: t,
			AlphaSpent:          s.AlphaSpent(t, alpha),
			UpperBoundary:       upper,
			LowerBoundary:       -upper,
			Decision:            stats.DecisionContinue,
		})
	}
	return out
}

// SequentialState derives the state machine position from the check log.
// rows must be ordered by check_number and numbered exactly 1..k with no
// decision after a stop; anything else is core.ErrStateCorruption.
func SequentialState(rows []stats.SequentialAnalysis) (stats.SequentialState, error) {
	if len(rows) == 0 {
		return stats.StateNotStarted, nil
	}
	for i, row := range rows {
		if row.CheckNumber != i+1 {
			return "", fmt.Errorf("%w: check %d found at position %d", core.ErrStateCorruption, row.CheckNumber, i+1)
		}
		if i < len(rows)-1 && row.Decision != stats.DecisionContinue {
			return "", fmt.Errorf("%w: check %d follows a %s decision", core.ErrStateCorruption, i+2, row.Decision)
		}
	}

	last := rows[len(rows)-1]
	switch last.Decision {
	case stats.DecisionStopWinner:
		return stats.StateStoppedWinner, nil
	case stats.DecisionStopFutile:
		return stats.StateStoppedFutile, nil
	case stats.DecisionContinue:
		if last.CheckNumber >= last.TotalChecks || last.InformationFraction >= 1 {
			return stats.StateCompletedPlanned, nil
		}
		return stats.StateChecking, nil
	default:
		return "", fmt.Errorf("%w: unknown decision %q", core.ErrStateCorruption, last.Decision)
	}
}

// Contrast is the control arm and the best-performing treatment
type Contrast struct {
	Control   experiment.VariantCounts
	Treatment experiment.VariantCounts
	ZStat     float64
}

// LeadingContrast picks the treatment with the highest conversion rate
// (alphabetical on ties) and computes its pooled z against the control.
// A degenerate pooled variance yields z = 0.
func (s *Sequential) LeadingContrast(exp *experiment.Experiment, counts []experiment.VariantCounts) (*Contrast, error) {
	control, ok := exp.Control()
	if !ok {
		return nil, core.NewValidationError("variants", "experiment has no control variant")
	}
	if len(exp.Variants) < 2 {
		return nil, fmt.Errorf("%w: sequential analysis needs a treatment arm", core.ErrInsufficientData)
	}

	byVariant := make(map[core.VariantID]experiment.VariantCounts, len(counts))
	for _, c := range counts {
		byVariant[c.VariantID] = c
	}

	out := &Contrast{Control: byVariant[control.ID]}
	out.Control.VariantID = control.ID
	bestRate := -1.0
	for _, v := range exp.SortedVariants() {
		if v.ID == control.ID {
			continue
		}
		c := byVariant[v.ID]
		c.VariantID = v.ID
		rate := 0.0
		if c.Exposures > 0 {
			rate = float64(c.Successes) / float64(c.Exposures)
		}
		if rate > bestRate {
			bestRate = rate
			out.Treatment = c
		}
	}

	z, err := NewFrequentist().PooledZ(out.Control.Successes, out.Control.Exposures, out.Treatment.Successes, out.Treatment.Exposures)
	switch {
	case err == nil:
		out.ZStat = z
	case errors.Is(err, core.ErrInsufficientData):
		return nil, err
	case errors.Is(err, core.ErrStatisticalComputation):
		out.ZStat = 0
	default:
		return nil, err
	}
	return out, nil
}
