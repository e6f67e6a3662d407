package app

import (
	"context"
	"errors"
	"fmt"
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

// BanditService selects arms and folds rewards back into live allocations
type BanditService struct {
	engine      config.EngineConfig
	experiments ports.ExperimentRepository
	bandit      ports.BanditRepository
	analyzer    *analysis.Bandit
	rngPort     ports.RNGPort
	logger      *internal.Logger
	now         func() time.Time
}

// NewBanditService creates a bandit service
func NewBanditService(
	engine config.EngineConfig,
	experiments ports.ExperimentRepository,
	bandit ports.BanditRepository,
	rngPort ports.RNGPort,
	logger *internal.Logger,
	now func() time.Time,
) *BanditService {
	return &BanditService{
		engine:      engine,
		experiments: experiments,
		bandit:      bandit,
		analyzer:    analysis.NewBandit(),
		rngPort:     rngPort,
		logger:      logger,
		now:         now,
	}
}

// SelectVariant picks the arm for the next recipient
func (s *BanditService) SelectVariant(ctx context.Context, expID core.ExperimentID) (core.VariantID, error) {
	exp, err := s.experiments.Get(ctx, expID)
	if err != nil {
		return "", err
	}
	return s.selectFor(ctx, exp)
}

func (s *BanditService) selectFor(ctx context.Context, exp *experiment.Experiment) (core.VariantID, error) {
	cfg, ok := exp.Bandit()
	if !ok {
		return "", core.NewValidationError("statistical_method", fmt.Sprintf("experiment %s is not a bandit", exp.ID))
	}
	rows, err := s.bandit.ListBandit(ctx, exp.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load bandit arms: %w", err)
	}
	name, err := s.analyzer.Select(cfg, armsFrom(rows), s.rngPort.Stream(ctx, "bandit.select"))
	if err != nil {
		return "", err
	}
	return variantIDByName(exp, name)
}

// RecordReward applies a stored outcome as a 0/1 reward to its arm,
// recomputes every arm's allocation, writes the rounded split to the
// experiment and appends a regret snapshot. The regret increment is measured
// against the arms as they stood before this reward. An outcome that was
// already counted returns core.ErrOutcomeApplied.
func (s *BanditService) RecordReward(ctx context.Context, o *experiment.Outcome) (*stats.BanditRegret, error) {
	if !o.Outcome.Valid() {
		return nil, core.NewValidationError("outcome", fmt.Sprintf("unknown outcome %q", o.Outcome))
	}
	expID, variantID, reward := o.ExperimentID, o.VariantID, o.Reward()
	exp, err := s.experiments.Get(ctx, expID)
	if err != nil {
		return nil, err
	}
	cfg, ok := exp.Bandit()
	if !ok {
		return nil, core.NewValidationError("statistical_method", fmt.Sprintf("experiment %s is not a bandit", exp.ID))
	}
	variant, ok := exp.VariantByID(variantID)
	if !ok {
		return nil, core.NewNotFoundError("variant", variantID.String())
	}

	before, err := s.bandit.ListBandit(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bandit arms: %w", err)
	}
	increment, bestName, err := analysis.Regret(armsFrom(before), variant.Name)
	if err != nil {
		return nil, err
	}
	optimal, err := variantIDByName(exp, bestName)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if _, err := s.bandit.ApplyReward(ctx, o, now); err != nil {
		return nil, fmt.Errorf("failed to apply reward: %w", err)
	}
	metrics.BanditRewardsTotal.WithLabelValues(string(cfg.Algorithm)).Inc()

	if err := s.reallocate(ctx, exp, cfg, now); err != nil {
		return nil, err
	}

	snap, err := s.bandit.AppendRegret(ctx, exp.ID, increment, optimal, now)
	if err != nil {
		return nil, fmt.Errorf("failed to append regret: %w", err)
	}
	s.logger.Debug("bandit %s: reward %d on %s, cumulative regret %.4f", exp.ID, reward, variant.Name, snap.CumulativeRegret)
	return snap, nil
}

// Arms returns the current arm rows ordered by variant name
func (s *BanditService) Arms(ctx context.Context, expID core.ExperimentID) ([]stats.BanditState, error) {
	return s.bandit.ListBandit(ctx, expID)
}

// Regret returns the regret series oldest first
func (s *BanditService) Regret(ctx context.Context, expID core.ExperimentID) ([]stats.BanditRegret, error) {
	return s.bandit.ListRegret(ctx, expID)
}

func (s *BanditService) reallocate(ctx context.Context, exp *experiment.Experiment, cfg experiment.BanditConfig, now time.Time) error {
	defer metrics.ObserveSince("bandit", time.Now())

	rows, err := s.bandit.ListBandit(ctx, exp.ID)
	if err != nil {
		return fmt.Errorf("failed to reload bandit arms: %w", err)
	}
	allocs, err := s.analyzer.Allocate(cfg, armsFrom(rows), s.engine.BanditAllocationDraws, s.rngPort.Stream(ctx, "bandit.allocate"))
	if err != nil {
		return err
	}

	byName := make(map[string]analysis.ArmAllocation, len(allocs))
	weights := make(map[string]float64, len(allocs))
	for _, a := range allocs {
		byName[a.Name] = a
		weights[a.Name] = a.Weight
	}
	for i := range rows {
		a := byName[rows[i].VariantName]
		rows[i].CurrentAllocation = a.Weight
		rows[i].UCBValue = a.UCB
		rows[i].UpdatedAt = now
	}
	if err := s.bandit.UpdateAllocations(ctx, rows); err != nil {
		return fmt.Errorf("failed to write bandit allocations: %w", err)
	}

	alloc, err := experiment.FromWeights(weights)
	if err != nil {
		return err
	}
	if err := exp.SetAllocation(alloc, true, now); err != nil {
		if errors.Is(err, core.ErrInvalidTransition) {
			// late rewards on a completed experiment keep the final split
			return nil
		}
		return err
	}
	if err := s.experiments.UpdateAllocation(ctx, exp.ID, exp.TrafficAllocation, now); err != nil {
		return fmt.Errorf("failed to write traffic allocation: %w", err)
	}
	return nil
}

func armsFrom(rows []stats.BanditState) []analysis.Arm {
	arms := make([]analysis.Arm, 0, len(rows))
	for _, r := range rows {
		arms = append(arms, analysis.Arm{
			Name:       r.VariantName,
			Successes:  r.SuccessCount,
			Failures:   r.FailureCount,
			Pulls:      r.Pulls,
			MeanReward: r.MeanReward,
		})
	}
	return arms
}

func variantIDByName(exp *experiment.Experiment, name string) (core.VariantID, error) {
	v, ok := exp.VariantByName(name)
	if !ok {
		return "", fmt.Errorf("%w: %q in experiment %s", core.ErrVariantNotFound, name, exp.ID)
	}
	return v.ID, nil
}
