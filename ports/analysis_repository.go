package ports

import (
	"context"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/domain/stats"
)

// BayesianRepository stores per-variant Beta posteriors
type BayesianRepository interface {
	// SeedBayesian inserts prior rows; existing rows are left untouched
	SeedBayesian(ctx context.Context, rows []stats.BayesianStats) error

	// IncrementPosterior folds a stored outcome into its variant's posterior
	// and marks the outcome applied in the same write. It returns
	// core.ErrOutcomeApplied when the outcome was already folded in.
	IncrementPosterior(ctx context.Context, o *experiment.Outcome, now time.Time) (*stats.BayesianStats, error)

	// ListBayesian returns all rows for an experiment
	ListBayesian(ctx context.Context, expID core.ExperimentID) ([]stats.BayesianStats, error)

	// SaveDerived writes probability_best, credible bounds and expected_loss.
	// Counts and posterior parameters are not touched.
	SaveDerived(ctx context.Context, rows []stats.BayesianStats) error
}

// SequentialStore is the view of storage available while the per-experiment
// sequential lock is held
type SequentialStore interface {
	ListChecks(ctx context.Context, expID core.ExperimentID) ([]stats.SequentialAnalysis, error)
	AppendCheck(ctx context.Context, row *stats.SequentialAnalysis) error
	VariantCounts(ctx context.Context, expID core.ExperimentID) ([]experiment.VariantCounts, error)
	UpdateLifecycle(ctx context.Context, exp *experiment.Experiment) error
}

// SequentialRepository stores the append-only interim check log
type SequentialRepository interface {
	// ListChecks returns the log ordered by check_number
	ListChecks(ctx context.Context, expID core.ExperimentID) ([]stats.SequentialAnalysis, error)

	// WithExperimentLock runs fn while holding an exclusive lock on the
	// experiment. Writes made through store commit only when fn returns nil.
	WithExperimentLock(ctx context.Context, expID core.ExperimentID, fn func(ctx context.Context, store SequentialStore) error) error
}

// BanditRepository stores per-arm bandit state and the regret series
type BanditRepository interface {
	// SeedBandit inserts initial arm rows; existing rows are left untouched
	SeedBandit(ctx context.Context, rows []stats.BanditState) error

	// ListBandit returns all arms ordered by variant name
	ListBandit(ctx context.Context, expID core.ExperimentID) ([]stats.BanditState, error)

	// ApplyReward records a stored outcome as one pull of its arm and marks
	// the outcome applied in the same write. It returns
	// core.ErrOutcomeApplied when the outcome was already counted.
	ApplyReward(ctx context.Context, o *experiment.Outcome, now time.Time) (*stats.BanditState, error)

	// UpdateAllocations writes current_allocation and ucb_value for each row
	UpdateAllocations(ctx context.Context, rows []stats.BanditState) error

	// AppendRegret adds increment to the latest cumulative regret and appends
	// a snapshot with the experiment's current total pulls. Appends for one
	// experiment are serialized so the series never decreases.
	AppendRegret(ctx context.Context, expID core.ExperimentID, increment float64, optimal core.VariantID, now time.Time) (*stats.BanditRegret, error)

	// ListRegret returns the regret series oldest first
	ListRegret(ctx context.Context, expID core.ExperimentID) ([]stats.BanditRegret, error)
}

// PowerRepository stores immutable sample-size calculations
type PowerRepository interface {
	CreatePowerAnalysis(ctx context.Context, row *stats.PowerAnalysis) error
	GetPowerAnalysis(ctx context.Context, id int64) (*stats.PowerAnalysis, error)
	ListPowerAnalyses(ctx context.Context, expID core.ExperimentID) ([]stats.PowerAnalysis, error)
}
