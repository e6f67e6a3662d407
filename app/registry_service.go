package app

import (
	"context"
	"fmt"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/domain/stats"
	"abstats/internal"
	"abstats/ports"
)

// RegistryService owns experiment definitions and their lifecycle
type RegistryService struct {
	experiments ports.ExperimentRepository
	bayesian    ports.BayesianRepository
	bandit      ports.BanditRepository
	logger      *internal.Logger
	now         func() time.Time
}

// NewRegistryService creates a registry service
func NewRegistryService(
	experiments ports.ExperimentRepository,
	bayesian ports.BayesianRepository,
	bandit ports.BanditRepository,
	logger *internal.Logger,
	now func() time.Time,
) *RegistryService {
	return &RegistryService{
		experiments: experiments,
		bayesian:    bayesian,
		bandit:      bandit,
		logger:      logger,
		now:         now,
	}
}

// Create validates the input and stores a draft experiment
func (s *RegistryService) Create(ctx context.Context, in experiment.NewExperiment) (*experiment.Experiment, error) {
	exp, err := experiment.New(in, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.experiments.Create(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to create experiment: %w", err)
	}
	s.logger.Info("created %s experiment %s (%s) with %d variants", exp.Method, exp.ID, exp.Name, len(exp.Variants))
	return exp, nil
}

// Get loads one experiment with its variants
func (s *RegistryService) Get(ctx context.Context, id core.ExperimentID) (*experiment.Experiment, error) {
	return s.experiments.Get(ctx, id)
}

// List returns a tenant's experiments
func (s *RegistryService) List(ctx context.Context, tenantID core.TenantID) ([]*experiment.Experiment, error) {
	return s.experiments.ListByTenant(ctx, tenantID)
}

// UpdateAllocation replaces the traffic split of a draft or paused experiment
func (s *RegistryService) UpdateAllocation(ctx context.Context, id core.ExperimentID, shares map[string]float64) (*experiment.Experiment, error) {
	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	alloc, err := experiment.NewAllocation(shares)
	if err != nil {
		return nil, err
	}
	if err := exp.SetAllocation(alloc, false, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.experiments.UpdateAllocation(ctx, exp.ID, exp.TrafficAllocation, exp.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to update allocation: %w", err)
	}
	return exp, nil
}

// UpdateVariantContent edits a variant's message until the first assignment
func (s *RegistryService) UpdateVariantContent(ctx context.Context, expID core.ExperimentID, variantID core.VariantID, subject, content string) (*experiment.Experiment, error) {
	exp, err := s.experiments.Get(ctx, expID)
	if err != nil {
		return nil, err
	}
	if _, ok := exp.VariantByID(variantID); !ok {
		return nil, core.NewNotFoundError("variant", variantID.String())
	}
	if err := s.experiments.UpdateVariantContent(ctx, expID, variantID, subject, content); err != nil {
		return nil, err
	}
	return s.experiments.Get(ctx, expID)
}

// Start moves a draft experiment to running. Bayesian experiments get one
// prior row per variant and bandit experiments one arm row per variant
// before the status flips, so the first event always finds its state.
func (s *RegistryService) Start(ctx context.Context, id core.ExperimentID) (*experiment.Experiment, error) {
	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := exp.Start(now); err != nil {
		return nil, err
	}

	switch exp.Method {
	case experiment.MethodBayesian:
		if err := s.seedBayesian(ctx, exp, now); err != nil {
			return nil, err
		}
	case experiment.MethodBandit:
		if err := s.seedBandit(ctx, exp, now); err != nil {
			return nil, err
		}
	}

	if err := s.experiments.UpdateLifecycle(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to start experiment: %w", err)
	}
	s.logger.Info("experiment %s started", exp.ID)
	return exp, nil
}

// Pause stops new assignments
func (s *RegistryService) Pause(ctx context.Context, id core.ExperimentID) (*experiment.Experiment, error) {
	return s.transition(ctx, id, func(exp *experiment.Experiment, now time.Time) error {
		return exp.Pause(now)
	})
}

// Resume re-opens a paused experiment
func (s *RegistryService) Resume(ctx context.Context, id core.ExperimentID) (*experiment.Experiment, error) {
	return s.transition(ctx, id, func(exp *experiment.Experiment, now time.Time) error {
		return exp.Resume(now)
	})
}

// Complete ends the experiment, optionally naming the winning variant
func (s *RegistryService) Complete(ctx context.Context, id core.ExperimentID, winner *core.VariantID) (*experiment.Experiment, error) {
	return s.transition(ctx, id, func(exp *experiment.Experiment, now time.Time) error {
		return exp.Complete(winner, now)
	})
}

func (s *RegistryService) transition(ctx context.Context, id core.ExperimentID, apply func(*experiment.Experiment, time.Time) error) (*experiment.Experiment, error) {
	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := exp.Status
	if err := apply(exp, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.experiments.UpdateLifecycle(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to update lifecycle: %w", err)
	}
	s.logger.Info("experiment %s: %s -> %s", exp.ID, from, exp.Status)
	return exp, nil
}

func (s *RegistryService) seedBayesian(ctx context.Context, exp *experiment.Experiment, now time.Time) error {
	cfg := exp.Bayesian()
	rows := make([]stats.BayesianStats, 0, len(exp.Variants))
	for _, v := range exp.SortedVariants() {
		rows = append(rows, stats.NewBayesianStats(exp.ID, v.ID, cfg.PriorAlpha, cfg.PriorBeta, now))
	}
	if err := s.bayesian.SeedBayesian(ctx, rows); err != nil {
		return fmt.Errorf("failed to seed posteriors: %w", err)
	}
	return nil
}

func (s *RegistryService) seedBandit(ctx context.Context, exp *experiment.Experiment, now time.Time) error {
	cfg, _ := exp.Bandit()
	rows := make([]stats.BanditState, 0, len(exp.Variants))
	for _, v := range exp.SortedVariants() {
		share := exp.TrafficAllocation.Percent(v.Name) / 100
		rows = append(rows, stats.BanditState{
			ExperimentID:      exp.ID,
			VariantID:         v.ID,
			VariantName:       v.Name,
			Algorithm:         cfg.Algorithm,
			InitialAllocation: share,
			CurrentAllocation: share,
			UpdatedAt:         now,
		})
	}
	if err := s.bandit.SeedBandit(ctx, rows); err != nil {
		return fmt.Errorf("failed to seed bandit arms: %w", err)
	}
	return nil
}
