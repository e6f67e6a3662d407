// Package simulation replays synthetic traffic through the full service
// stack over the in-memory store. It backs `abctl simulate` and is the
// easiest way to see how each method behaves on a known ground truth.
package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"abstats/app"
	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/internal"
	"abstats/internal/config"
	"abstats/internal/report"
	"abstats/internal/testkit"
)

// Config describes one simulated experiment
type Config struct {
	Method        experiment.Method
	MethodConfig  json.RawMessage
	MinSampleSize int
	Traffic       testkit.TrafficGeneratorConfig
	Engine        config.EngineConfig
}

// Result is what the run produced. Exposures may be below the requested
// recipient count when a sequential experiment stopped early.
type Result struct {
	Exposures int
	Summary   *report.Summary
}

// Run creates and starts the experiment, feeds every visit through
// exposure and outcome recording, and returns the final summary.
func Run(ctx context.Context, cfg Config, logger *internal.Logger) (*Result, error) {
	if len(cfg.Traffic.TrueRates) < 2 {
		return nil, core.NewValidationError("true_rates", "at least two variants are required")
	}
	if logger == nil {
		logger = internal.NopLogger()
	}

	kit := testkit.NewTestKit(cfg.Traffic.Seed)
	kit.Clock = testkit.NewClock(cfg.Traffic.StartDate)
	store := kit.Store
	now := kit.Clock.Now

	bandit := app.NewBanditService(cfg.Engine, store, store, kit.RNG, logger, now)
	assigner := app.NewAssignmentService(store, store, bandit, kit.RNG, logger, now)
	bayesian := app.NewBayesianService(cfg.Engine, store, store, kit.RNG, logger, now)
	sequential := app.NewSequentialService(store, store, store, logger, now)
	frequentist := app.NewFrequentistService(store, store)
	registry := app.NewRegistryService(store, store, store, logger, now)
	events := app.NewEventService(store, store, store, assigner, bayesian, sequential, bandit, logger, now)
	reports := app.NewReportService(store, frequentist, store, sequential, store, store, now)

	names := make([]string, 0, len(cfg.Traffic.TrueRates))
	for name := range cfg.Traffic.TrueRates {
		names = append(names, name)
	}
	sort.Strings(names)

	in := experiment.NewExperiment{
		TenantID:      "simulation",
		Name:          fmt.Sprintf("%s simulation", cfg.Method),
		Channel:       experiment.ChannelEmail,
		Method:        cfg.Method,
		MethodConfig:  cfg.MethodConfig,
		SuccessMetric: "conversion",
		MinSampleSize: cfg.MinSampleSize,
	}
	for _, name := range names {
		in.Variants = append(in.Variants, experiment.NewVariant{Name: name, Subject: "Variant " + name})
	}

	exp, err := registry.Create(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to create experiment: %w", err)
	}
	if exp, err = registry.Start(ctx, exp.ID); err != nil {
		return nil, fmt.Errorf("failed to start experiment: %w", err)
	}

	gen := testkit.NewTrafficGenerator(cfg.Traffic)
	exposures := 0
	for _, visit := range gen.Visits() {
		kit.Clock.Advance(cfg.Traffic.Interval)

		variantID, err := events.RecordExposure(ctx, exp.ID, visit.RecipientID)
		if errors.Is(err, core.ErrExperimentNotRunning) {
			logger.Info("experiment stopped after %d exposures", exposures)
			break
		}
		if err != nil {
			return nil, err
		}
		exposures++

		v, ok := exp.VariantByID(variantID)
		if !ok {
			return nil, fmt.Errorf("%w: variant %s", core.ErrVariantNotFound, variantID)
		}
		if _, err := events.RecordOutcome(ctx, exp.ID, visit.RecipientID, gen.Outcome(v.Name)); err != nil {
			return nil, err
		}
	}

	summary, err := reports.Summary(ctx, exp.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Exposures: exposures, Summary: summary}, nil
}
