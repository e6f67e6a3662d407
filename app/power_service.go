package app

import (
	"context"
	"fmt"
	"time"

	"abstats/domain/core"
	"abstats/domain/stats"
	"abstats/internal/analysis"
	"abstats/ports"
)

// PowerService plans sample sizes and keeps every calculation
type PowerService struct {
	experiments ports.ExperimentRepository
	power       ports.PowerRepository
	analyzer    *analysis.Power
	now         func() time.Time
}

// NewPowerService creates a power service
func NewPowerService(experiments ports.ExperimentRepository, power ports.PowerRepository, now func() time.Time) *PowerService {
	return &PowerService{
		experiments: experiments,
		power:       power,
		analyzer:    analysis.NewPower(),
		now:         now,
	}
}

// Calculate computes the per-variant sample size and stores a new row. When
// the input names an experiment, the variant count defaults to the
// experiment's.
func (s *PowerService) Calculate(ctx context.Context, in stats.PowerInput) (*stats.PowerAnalysis, error) {
	if in.ExperimentID != nil {
		exp, err := s.experiments.Get(ctx, *in.ExperimentID)
		if err != nil {
			return nil, err
		}
		if in.VariantCount == 0 {
			in.VariantCount = len(exp.Variants)
		}
	}

	res, err := s.analyzer.SampleSize(in)
	if err != nil {
		return nil, err
	}

	row := &stats.PowerAnalysis{
		ExperimentID:            in.ExperimentID,
		BaselineRate:            in.BaselineRate,
		MinimumDetectableEffect: in.MinimumDetectableEffect,
		Power:                   in.Power,
		SignificanceLevel:       in.SignificanceLevel,
		DailyTraffic:            in.DailyTraffic,
		SampleSizePerVariant:    res.SampleSizePerVariant,
		TotalSampleSize:         res.TotalSampleSize,
		EstimatedDurationDays:   res.EstimatedDurationDays,
		VariantCount:            in.VariantCount,
		CreatedAt:               s.now().UTC(),
	}
	if err := s.power.CreatePowerAnalysis(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to store power analysis: %w", err)
	}
	return row, nil
}

// Get loads one stored calculation
func (s *PowerService) Get(ctx context.Context, id int64) (*stats.PowerAnalysis, error) {
	return s.power.GetPowerAnalysis(ctx, id)
}

// List returns the calculations attached to an experiment
func (s *PowerService) List(ctx context.Context, expID core.ExperimentID) ([]stats.PowerAnalysis, error) {
	return s.power.ListPowerAnalyses(ctx, expID)
}
