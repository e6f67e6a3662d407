package stats

import (
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
)

// ============================================================================
// BAYESIAN
// ============================================================================

// BayesianStats is one ab_bayesian_stats row: the Beta posterior of a variant
// plus the quantities derived from the whole experiment at the last recompute.
type BayesianStats struct {
	ExperimentID    core.ExperimentID `json:"experiment_id" db:"experiment_id"`
	VariantID       core.VariantID    `json:"variant_id" db:"variant_id"`
	PriorAlpha      float64           `json:"prior_alpha" db:"prior_alpha"`
	PriorBeta       float64           `json:"prior_beta" db:"prior_beta"`
	Successes       int               `json:"successes" db:"successes"`
	Failures        int               `json:"failures" db:"failures"`
	PosteriorAlpha  float64           `json:"posterior_alpha" db:"posterior_alpha"`
	PosteriorBeta   float64           `json:"posterior_beta" db:"posterior_beta"`
	ProbabilityBest float64           `json:"probability_best" db:"probability_best"`
	CredibleLow     float64           `json:"credible_low" db:"credible_low"`
	CredibleHigh    float64           `json:"credible_high" db:"credible_high"`
	ExpectedLoss    float64           `json:"expected_loss" db:"expected_loss"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// NewBayesianStats seeds a row with the prior and no observations
func NewBayesianStats(expID core.ExperimentID, variantID core.VariantID, priorAlpha, priorBeta float64, now time.Time) BayesianStats {
	return BayesianStats{
		ExperimentID:   expID,
		VariantID:      variantID,
		PriorAlpha:     priorAlpha,
		PriorBeta:      priorBeta,
		PosteriorAlpha: priorAlpha,
		PosteriorBeta:  priorBeta,
		UpdatedAt:      now,
	}
}

// Observe applies one conjugate update
func (b *BayesianStats) Observe(outcome experiment.OutcomeKind) {
	if outcome == experiment.OutcomeSuccess {
		b.Successes++
	} else {
		b.Failures++
	}
	b.PosteriorAlpha = b.PriorAlpha + float64(b.Successes)
	b.PosteriorBeta = b.PriorBeta + float64(b.Failures)
}

// PosteriorMean is alpha/(alpha+beta)
func (b BayesianStats) PosteriorMean() float64 {
	total := b.PosteriorAlpha + b.PosteriorBeta
	if total == 0 {
		return 0
	}
	return b.PosteriorAlpha / total
}

// ============================================================================
// SEQUENTIAL
// ============================================================================

// Decision is the outcome of one interim check
type Decision string

const (
	DecisionContinue   Decision = "continue"
	DecisionStopWinner Decision = "stop_winner"
	DecisionStopFutile Decision = "stop_futile"
)

// SequentialState is derived from the check log, never stored
type SequentialState string

const (
	StateNotStarted       SequentialState = "not_started"
	StateChecking         SequentialState = "checking"
	StateStoppedWinner    SequentialState = "stopped_winner"
	StateStoppedFutile    SequentialState = "stopped_futile"
	StateCompletedPlanned SequentialState = "completed_planned"
)

// Halted reports whether no further checks may run
func (s SequentialState) Halted() bool {
	return s == StateStoppedWinner || s == StateStoppedFutile || s == StateCompletedPlanned
}

// SequentialAnalysis is one append-only ab_sequential_analysis row
type SequentialAnalysis struct {
	ID                  int64             `json:"id" db:"id"`
	ExperimentID        core.ExperimentID `json:"experiment_id" db:"experiment_id"`
	CheckNumber         int               `json:"check_number" db:"check_number"`
	TotalChecks         int               `json:"total_checks" db:"total_checks"`
	SampleSize          int               `json:"sample_size" db:"sample_size"`
	PlannedSampleSize   int               `json:"planned_sample_size" db:"planned_sample_size"`
	InformationFraction float64           `json:"information_fraction" db:"information_fraction"`
	AlphaSpent          float64           `json:"alpha_spent" db:"alpha_spent"`
	ZStatistic          float64           `json:"z_statistic" db:"z_statistic"`
	UpperBoundary       float64           `json:"upper_boundary" db:"upper_boundary"`
	LowerBoundary       float64           `json:"lower_boundary" db:"lower_boundary"`
	Decision            Decision          `json:"decision" db:"decision"`
	LeadingVariantID    *core.VariantID   `json:"leading_variant_id,omitempty" db:"leading_variant_id"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
}

// ============================================================================
// BANDIT
// ============================================================================

// BanditState is one ab_bandit_state row
type BanditState struct {
	ExperimentID      core.ExperimentID          `json:"experiment_id" db:"experiment_id"`
	VariantID         core.VariantID             `json:"variant_id" db:"variant_id"`
	VariantName       string                     `json:"variant_name" db:"variant_name"`
	Algorithm         experiment.BanditAlgorithm `json:"algorithm" db:"algorithm"`
	SuccessCount      int                        `json:"success_count" db:"success_count"`
	FailureCount      int                        `json:"failure_count" db:"failure_count"`
	MeanReward        float64                    `json:"mean_reward" db:"mean_reward"`
	UCBValue          *float64                   `json:"ucb_value,omitempty" db:"ucb_value"`
	InitialAllocation float64                    `json:"initial_allocation" db:"initial_allocation"`
	CurrentAllocation float64                    `json:"current_allocation" db:"current_allocation"`
	Pulls             int                        `json:"pulls" db:"pulls"`
	CumulativeReward  float64                    `json:"cumulative_reward" db:"cumulative_reward"`
	UpdatedAt         time.Time                  `json:"updated_at" db:"updated_at"`
}

// ApplyReward records one pull with a 0/1 reward and refreshes the running mean
func (s *BanditState) ApplyReward(reward int) {
	s.Pulls++
	if reward > 0 {
		s.SuccessCount++
		s.CumulativeReward++
	} else {
		s.FailureCount++
	}
	s.MeanReward = s.CumulativeReward / float64(s.Pulls)
}

// BanditRegret is one append-only ab_bandit_regret snapshot
type BanditRegret struct {
	ID               int64             `json:"id" db:"id"`
	ExperimentID     core.ExperimentID `json:"experiment_id" db:"experiment_id"`
	TotalPulls       int               `json:"total_pulls" db:"total_pulls"`
	CumulativeRegret float64           `json:"cumulative_regret" db:"cumulative_regret"`
	OptimalVariantID core.VariantID    `json:"optimal_variant_id" db:"optimal_variant_id"`
	RecordedAt       time.Time         `json:"recorded_at" db:"recorded_at"`
}

// ============================================================================
// POWER
// ============================================================================

// PowerInput is the request for a sample-size calculation
type PowerInput struct {
	ExperimentID            *core.ExperimentID `json:"experiment_id,omitempty"`
	BaselineRate            float64            `json:"baseline_rate"`
	MinimumDetectableEffect float64            `json:"minimum_detectable_effect"`
	Power                   float64            `json:"power"`
	SignificanceLevel       float64            `json:"significance_level"`
	DailyTraffic            *int               `json:"daily_traffic,omitempty"`
	VariantCount            int                `json:"variant_count"`
}

// PowerAnalysis is one immutable ab_power_analysis row
type PowerAnalysis struct {
	ID                      int64              `json:"id" db:"id"`
	ExperimentID            *core.ExperimentID `json:"experiment_id,omitempty" db:"experiment_id"`
	BaselineRate            float64            `json:"baseline_rate" db:"baseline_rate"`
	MinimumDetectableEffect float64            `json:"minimum_detectable_effect" db:"minimum_detectable_effect"`
	Power                   float64            `json:"power" db:"power"`
	SignificanceLevel       float64            `json:"significance_level" db:"significance_level"`
	DailyTraffic            *int               `json:"daily_traffic,omitempty" db:"daily_traffic"`
	SampleSizePerVariant    int                `json:"sample_size_per_variant" db:"sample_size_per_variant"`
	TotalSampleSize         int                `json:"total_sample_size" db:"total_sample_size"`
	EstimatedDurationDays   *int               `json:"estimated_duration_days,omitempty" db:"estimated_duration_days"`
	VariantCount            int                `json:"variant_count" db:"variant_count"`
	CreatedAt               time.Time          `json:"created_at" db:"created_at"`
}

// ============================================================================
// FREQUENTIST (computed on read, not persisted)
// ============================================================================

// VariantRate is the per-variant line of a frequentist report
type VariantRate struct {
	VariantID   core.VariantID `json:"variant_id"`
	Variant     string         `json:"variant"`
	N           int            `json:"n"`
	Conversions int            `json:"conversions"`
	Rate        float64        `json:"rate"`
}

// Comparison is one pairwise two-proportion z-test. Err is set when the pair
// could not be computed; the other fields are then zero.
type Comparison struct {
	A      string  `json:"a"`
	B      string  `json:"b"`
	ZStat  float64 `json:"z_stat"`
	PValue float64 `json:"p_value"`
	CILow  float64 `json:"ci_low"`
	CIHigh float64 `json:"ci_high"`
	Err    string  `json:"error,omitempty"`
}

// FrequentistReport is the analyzer output for one experiment
type FrequentistReport struct {
	ExperimentID     core.ExperimentID `json:"experiment_id"`
	ConfidenceLevel  float64           `json:"confidence_level"`
	PerVariant       []VariantRate     `json:"per_variant"`
	Comparisons      []Comparison      `json:"comparisons"`
	InsufficientData bool              `json:"insufficient_data"`
	Notice           string            `json:"notice,omitempty"`
}
