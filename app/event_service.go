package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/internal"
	"abstats/internal/metrics"
	"abstats/ports"
)

// EventService is the intake for exposures and outcomes. It records the raw
// event and then drives the analyzer that matches the experiment's method.
type EventService struct {
	experiments ports.ExperimentRepository
	assignments ports.AssignmentRepository
	outcomes    ports.OutcomeRepository
	assigner    *AssignmentService
	bayesian    *BayesianService
	sequential  *SequentialService
	bandit      *BanditService
	logger      *internal.Logger
	now         func() time.Time
}

// NewEventService creates an event service
func NewEventService(
	experiments ports.ExperimentRepository,
	assignments ports.AssignmentRepository,
	outcomes ports.OutcomeRepository,
	assigner *AssignmentService,
	bayesian *BayesianService,
	sequential *SequentialService,
	bandit *BanditService,
	logger *internal.Logger,
	now func() time.Time,
) *EventService {
	return &EventService{
		experiments: experiments,
		assignments: assignments,
		outcomes:    outcomes,
		assigner:    assigner,
		bayesian:    bayesian,
		sequential:  sequential,
		bandit:      bandit,
		logger:      logger,
		now:         now,
	}
}

// OutcomeResult reports what an outcome event changed
type OutcomeResult struct {
	VariantID core.VariantID `json:"variant_id"`
	Duplicate bool           `json:"duplicate"`
}

// RecordExposure assigns the recipient (idempotently) and returns the variant
func (s *EventService) RecordExposure(ctx context.Context, expID core.ExperimentID, recipientID core.RecipientID) (core.VariantID, error) {
	return s.assigner.Assign(ctx, expID, recipientID)
}

// RecordOutcome stores the recipient's outcome once and folds it into the
// method's running state. A repeated outcome is a no-op once it has been
// applied; a repeat of an outcome whose earlier application failed resumes
// that application.
func (s *EventService) RecordOutcome(ctx context.Context, expID core.ExperimentID, recipientID core.RecipientID, outcome experiment.OutcomeKind) (*OutcomeResult, error) {
	if !outcome.Valid() {
		return nil, core.NewValidationError("outcome", fmt.Sprintf("unknown outcome %q", outcome))
	}
	exp, err := s.experiments.Get(ctx, expID)
	if err != nil {
		return nil, err
	}
	a, err := s.assignments.GetAssignment(ctx, expID, recipientID)
	if err != nil {
		return nil, err
	}

	o := &experiment.Outcome{
		ExperimentID: expID,
		VariantID:    a.VariantID,
		RecipientID:  recipientID,
		Outcome:      outcome,
		Applied:      exp.Method == experiment.MethodFrequentist,
		RecordedAt:   s.now().UTC(),
	}
	duplicate := false
	err = s.outcomes.CreateOutcome(ctx, o)
	switch {
	case errors.Is(err, core.ErrDuplicateOutcome):
		duplicate = true
		if o, err = s.outcomes.GetOutcome(ctx, expID, recipientID); err != nil {
			return nil, fmt.Errorf("failed to load outcome: %w", err)
		}
		if o.Applied {
			metrics.OutcomesTotal.WithLabelValues("duplicate").Inc()
			return &OutcomeResult{VariantID: o.VariantID, Duplicate: true}, nil
		}
		s.logger.Info("resuming outcome of %s in %s", recipientID, expID)
	case err != nil:
		return nil, fmt.Errorf("failed to record outcome: %w", err)
	default:
		metrics.OutcomesTotal.WithLabelValues(string(outcome)).Inc()
	}

	if err := s.apply(ctx, exp, o); err != nil {
		return nil, err
	}
	return &OutcomeResult{VariantID: o.VariantID, Duplicate: duplicate}, nil
}

// apply folds a pending outcome into the method state. Counter updates mark
// the outcome applied in the same write; idempotent steps mark it after.
func (s *EventService) apply(ctx context.Context, exp *experiment.Experiment, o *experiment.Outcome) error {
	switch exp.Method {
	case experiment.MethodBayesian:
		if _, err := s.bayesian.UpdatePosterior(ctx, o); err != nil && !errors.Is(err, core.ErrOutcomeApplied) {
			return err
		}
		if _, err := s.bayesian.ComputeProbabilityBest(ctx, exp.ID); err != nil {
			return err
		}
	case experiment.MethodSequential:
		if _, err := s.sequential.MaybeCheck(ctx, exp.ID); err != nil {
			return err
		}
		if err := s.outcomes.MarkOutcomeApplied(ctx, exp.ID, o.RecipientID); err != nil {
			return fmt.Errorf("failed to mark outcome: %w", err)
		}
	case experiment.MethodBandit:
		if _, err := s.bandit.RecordReward(ctx, o); err != nil && !errors.Is(err, core.ErrOutcomeApplied) {
			return err
		}
	}
	return nil
}
