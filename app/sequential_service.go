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
	"abstats/internal/metrics"
	"abstats/ports"
)

// SequentialService runs O'Brien-Fleming interim checks over the append-only log
type SequentialService struct {
	experiments ports.ExperimentRepository
	assignments ports.AssignmentRepository
	sequential  ports.SequentialRepository
	analyzer    *analysis.Sequential
	logger      *internal.Logger
	now         func() time.Time
}

// NewSequentialService creates a sequential service
func NewSequentialService(
	experiments ports.ExperimentRepository,
	assignments ports.AssignmentRepository,
	sequential ports.SequentialRepository,
	logger *internal.Logger,
	now func() time.Time,
) *SequentialService {
	return &SequentialService{
		experiments: experiments,
		assignments: assignments,
		sequential:  sequential,
		analyzer:    analysis.NewSequential(),
		logger:      logger,
		now:         now,
	}
}

// RunCheck performs the next interim check under the experiment lock and
// appends it to the log. Stopping decisions and the last planned look
// complete the experiment in the same transaction.
func (s *SequentialService) RunCheck(ctx context.Context, expID core.ExperimentID) (*stats.SequentialAnalysis, error) {
	defer metrics.ObserveSince("sequential", time.Now())

	exp, err := s.experiments.Get(ctx, expID)
	if err != nil {
		return nil, err
	}
	cfg, ok := exp.Sequential()
	if !ok {
		return nil, core.NewValidationError("statistical_method", fmt.Sprintf("experiment %s is not sequential", exp.ID))
	}

	var out *stats.SequentialAnalysis
	err = s.sequential.WithExperimentLock(ctx, expID, func(ctx context.Context, store ports.SequentialStore) error {
		rows, err := store.ListChecks(ctx, expID)
		if err != nil {
			return err
		}
		state, err := analysis.SequentialState(rows)
		if err != nil {
			return err
		}
		if state.Halted() {
			return fmt.Errorf("%w: experiment %s is %s", core.ErrSequentialHalted, expID, state)
		}
		if exp.Status != experiment.StatusRunning && exp.Status != experiment.StatusPaused {
			return fmt.Errorf("%w: %s is %s", core.ErrExperimentNotRunning, exp.ID, exp.Status)
		}

		counts, err := store.VariantCounts(ctx, expID)
		if err != nil {
			return err
		}
		contrast, err := s.analyzer.LeadingContrast(exp, counts)
		if err != nil {
			return err
		}
		sampleSize := 0
		for _, c := range counts {
			sampleSize += c.Exposures
		}

		checkNumber := len(rows) + 1
		res := s.analyzer.Evaluate(analysis.CheckInput{
			CheckNumber:       checkNumber,
			TotalChecks:       cfg.TotalChecks,
			SampleSize:        sampleSize,
			PlannedSampleSize: cfg.PlannedSampleSize,
			Alpha:             cfg.Alpha,
			ZStatistic:        contrast.ZStat,
		})

		now := s.now().UTC()
		leading := contrast.Treatment.VariantID
		row := &stats.SequentialAnalysis{
			ExperimentID:        expID,
			CheckNumber:         checkNumber,
			TotalChecks:         cfg.TotalChecks,
			SampleSize:          sampleSize,
			PlannedSampleSize:   cfg.PlannedSampleSize,
			InformationFraction: res.InformationFraction,
			AlphaSpent:          res.AlphaSpent,
			ZStatistic:          contrast.ZStat,
			UpperBoundary:       res.UpperBoundary,
			LowerBoundary:       res.LowerBoundary,
			Decision:            res.Decision,
			LeadingVariantID:    &leading,
			CreatedAt:           now,
		}
		if err := store.AppendCheck(ctx, row); err != nil {
			return err
		}

		finished, err := analysis.SequentialState(append(rows, *row))
		if err != nil {
			return err
		}
		switch finished {
		case stats.StateStoppedWinner:
			err = exp.Complete(&leading, now)
		case stats.StateStoppedFutile, stats.StateCompletedPlanned:
			err = exp.Complete(nil, now)
		default:
			out = row
			return nil
		}
		if err != nil {
			return err
		}
		if err := store.UpdateLifecycle(ctx, exp); err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SequentialDecisionsTotal.WithLabelValues(string(out.Decision)).Inc()
	s.logger.Info("sequential check %d/%d on %s: z=%.3f boundary=%.3f decision=%s",
		out.CheckNumber, out.TotalChecks, expID, out.ZStatistic, out.UpperBoundary, out.Decision)
	return out, nil
}

// MaybeCheck runs RunCheck only once the information fraction has reached
// the next scheduled look (k+1)/K. It returns nil when no check was due.
func (s *SequentialService) MaybeCheck(ctx context.Context, expID core.ExperimentID) (*stats.SequentialAnalysis, error) {
	exp, err := s.experiments.Get(ctx, expID)
	if err != nil {
		return nil, err
	}
	cfg, ok := exp.Sequential()
	if !ok || !exp.AcceptsTraffic() {
		return nil, nil
	}
	rows, err := s.sequential.ListChecks(ctx, expID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checks: %w", err)
	}
	state, err := analysis.SequentialState(rows)
	if err != nil {
		return nil, err
	}
	if state.Halted() {
		return nil, nil
	}

	n, err := s.assignments.CountAssignments(ctx, expID)
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}
	next := float64(len(rows)+1) / float64(cfg.TotalChecks)
	if analysis.InformationFraction(n, cfg.PlannedSampleSize) < next {
		return nil, nil
	}

	row, err := s.RunCheck(ctx, expID)
	switch {
	case err == nil:
		return row, nil
	case errors.Is(err, core.ErrInsufficientData), errors.Is(err, core.ErrSequentialHalted):
		// another caller took the look, or one arm has no traffic yet
		s.logger.Debug("sequential check on %s skipped: %v", expID, err)
		return nil, nil
	default:
		return nil, err
	}
}

// Checks returns the interim check log
func (s *SequentialService) Checks(ctx context.Context, expID core.ExperimentID) ([]stats.SequentialAnalysis, error) {
	return s.sequential.ListChecks(ctx, expID)
}

// State derives the sequential state from the log
func (s *SequentialService) State(ctx context.Context, expID core.ExperimentID) (stats.SequentialState, error) {
	rows, err := s.sequential.ListChecks(ctx, expID)
	if err != nil {
		return "", err
	}
	return analysis.SequentialState(rows)
}

// Schedule returns the planned boundaries for the experiment
func (s *SequentialService) Schedule(ctx context.Context, expID core.ExperimentID) ([]analysis.CheckResult, error) {
	exp, err := s.experiments.Get(ctx, expID)
	if err != nil {
		return nil, err
	}
	cfg, ok := exp.Sequential()
	if !ok {
		return nil, core.NewValidationError("statistical_method", fmt.Sprintf("experiment %s is not sequential", exp.ID))
	}
	return s.analyzer.Schedule(cfg.TotalChecks, cfg.Alpha), nil
}
