package app

import (
	"context"
	"fmt"
	"time"

	"abstats/domain/core"
	"abstats/domain/stats"
	"abstats/internal/analysis"
	"abstats/internal/metrics"
	"abstats/ports"
)

// FrequentistService computes pairwise two-proportion z-tests on read
type FrequentistService struct {
	experiments ports.ExperimentRepository
	assignments ports.AssignmentRepository
	analyzer    *analysis.Frequentist
}

// NewFrequentistService creates a frequentist service
func NewFrequentistService(experiments ports.ExperimentRepository, assignments ports.AssignmentRepository) *FrequentistService {
	return &FrequentistService{
		experiments: experiments,
		assignments: assignments,
		analyzer:    analysis.NewFrequentist(),
	}
}

// Analyze builds the report from current exposure and conversion counts
func (s *FrequentistService) Analyze(ctx context.Context, expID core.ExperimentID) (*stats.FrequentistReport, error) {
	defer metrics.ObserveSince("frequentist", time.Now())

	exp, err := s.experiments.Get(ctx, expID)
	if err != nil {
		return nil, err
	}
	counts, err := s.assignments.VariantCounts(ctx, expID)
	if err != nil {
		return nil, fmt.Errorf("failed to load variant counts: %w", err)
	}
	return s.analyzer.Analyze(exp, counts), nil
}
