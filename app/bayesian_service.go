package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/domain/stats"
	"abstats/internal"
	"abstats/internal/analysis"
	"abstats/internal/config"
	"abstats/internal/metrics"
	"abstats/ports"
)

// BayesianService maintains Beta posteriors and the derived P(best)
type BayesianService struct {
	engine      config.EngineConfig
	experiments ports.ExperimentRepository
	bayesian    ports.BayesianRepository
	analyzer    *analysis.Bayesian
	rngPort     ports.RNGPort
	logger      *internal.Logger
	now         func() time.Time
}

// NewBayesianService creates a Bayesian service
func NewBayesianService(
	engine config.EngineConfig,
	experiments ports.ExperimentRepository,
	bayesian ports.BayesianRepository,
	rngPort ports.RNGPort,
	logger *internal.Logger,
	now func() time.Time,
) *BayesianService {
	return &BayesianService{
		engine:      engine,
		experiments: experiments,
		bayesian:    bayesian,
		analyzer:    analysis.NewBayesian(),
		rngPort:     rngPort,
		logger:      logger,
		now:         now,
	}
}

// UpdatePosterior folds one stored outcome into its variant's posterior. An
// outcome that was already folded in returns core.ErrOutcomeApplied.
func (s *BayesianService) UpdatePosterior(ctx context.Context, o *experiment.Outcome) (*stats.BayesianStats, error) {
	if !o.Outcome.Valid() {
		return nil, core.NewValidationError("outcome", fmt.Sprintf("unknown outcome %q", o.Outcome))
	}
	row, err := s.bayesian.IncrementPosterior(ctx, o, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to update posterior: %w", err)
	}
	return row, nil
}

// ComputeProbabilityBest recomputes P(best), expected loss and credible
// intervals for every variant and persists them. Rows come back ordered by
// variant name.
func (s *BayesianService) ComputeProbabilityBest(ctx context.Context, expID core.ExperimentID) ([]stats.BayesianStats, error) {
	defer metrics.ObserveSince("bayesian", time.Now())

	exp, err := s.experiments.Get(ctx, expID)
	if err != nil {
		return nil, err
	}
	rows, err := s.bayesian.ListBayesian(ctx, expID)
	if err != nil {
		return nil, fmt.Errorf("failed to load posteriors: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: experiment %s has no posteriors", core.ErrInsufficientData, expID)
	}

	names := make(map[core.VariantID]string, len(rows))
	posteriors := make([]analysis.Posterior, 0, len(rows))
	for _, r := range rows {
		v, ok := exp.VariantByID(r.VariantID)
		if !ok {
			return nil, fmt.Errorf("%w: posterior for unknown variant %s", core.ErrStateCorruption, r.VariantID)
		}
		names[r.VariantID] = v.Name
		posteriors = append(posteriors, analysis.Posterior{Name: v.Name, Alpha: r.PosteriorAlpha, Beta: r.PosteriorBeta})
	}

	draws := exp.Bayesian().Draws
	if draws <= 0 {
		draws = s.engine.MonteCarloDraws
	}
	summaries, err := s.analyzer.Summarize(posteriors, draws, exp.ConfidenceLevel, s.rngPort.Stream(ctx, "bayesian.pbest"))
	if err != nil {
		return nil, err
	}
	byName := make(map[string]analysis.PosteriorSummary, len(summaries))
	for _, sm := range summaries {
		byName[sm.Name] = sm
	}

	now := s.now().UTC()
	for i := range rows {
		sm := byName[names[rows[i].VariantID]]
		rows[i].ProbabilityBest = sm.ProbabilityBest
		rows[i].ExpectedLoss = sm.ExpectedLoss
		rows[i].CredibleLow = sm.CredibleLow
		rows[i].CredibleHigh = sm.CredibleHigh
		rows[i].UpdatedAt = now
	}
	if err := s.bayesian.SaveDerived(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to save posterior summaries: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool { return names[rows[i].VariantID] < names[rows[j].VariantID] })
	return rows, nil
}

// Posteriors returns the stored rows without recomputing
func (s *BayesianService) Posteriors(ctx context.Context, expID core.ExperimentID) ([]stats.BayesianStats, error) {
	return s.bayesian.ListBayesian(ctx, expID)
}
