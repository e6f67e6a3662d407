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

// AssignmentService binds recipients to variants exactly once
type AssignmentService struct {
	experiments ports.ExperimentRepository
	assignments ports.AssignmentRepository
	bandit      *BanditService
	rngPort     ports.RNGPort
	logger      *internal.Logger
	now         func() time.Time
}

// NewAssignmentService creates an assignment service
func NewAssignmentService(
	experiments ports.ExperimentRepository,
	assignments ports.AssignmentRepository,
	bandit *BanditService,
	rngPort ports.RNGPort,
	logger *internal.Logger,
	now func() time.Time,
) *AssignmentService {
	return &AssignmentService{
		experiments: experiments,
		assignments: assignments,
		bandit:      bandit,
		rngPort:     rngPort,
		logger:      logger,
		now:         now,
	}
}

// Assign returns the recipient's variant, creating the assignment on first
// sight. An existing assignment always wins, including one written by a
// concurrent caller between our read and our insert.
func (s *AssignmentService) Assign(ctx context.Context, expID core.ExperimentID, recipientID core.RecipientID) (core.VariantID, error) {
	exp, err := s.experiments.Get(ctx, expID)
	if err != nil {
		return "", err
	}
	method := string(exp.Method)

	existing, err := s.assignments.GetAssignment(ctx, expID, recipientID)
	switch {
	case err == nil:
		metrics.AssignmentsTotal.WithLabelValues(method, "existing").Inc()
		return existing.VariantID, nil
	case !errors.Is(err, core.ErrAssignmentNotFound):
		metrics.AssignmentsTotal.WithLabelValues(method, "error").Inc()
		return "", fmt.Errorf("failed to read assignment: %w", err)
	}

	if !exp.AcceptsTraffic() {
		return "", fmt.Errorf("%w: %s is %s", core.ErrExperimentNotRunning, exp.ID, exp.Status)
	}

	variantID, err := s.choose(ctx, exp)
	if err != nil {
		metrics.AssignmentsTotal.WithLabelValues(method, "error").Inc()
		return "", err
	}

	a := &experiment.Assignment{
		ExperimentID: expID,
		VariantID:    variantID,
		RecipientID:  recipientID,
		AssignedAt:   s.now().UTC(),
	}
	err = s.assignments.CreateAssignment(ctx, a)
	switch {
	case err == nil:
		metrics.AssignmentsTotal.WithLabelValues(method, "new").Inc()
		return variantID, nil
	case errors.Is(err, core.ErrDuplicateAssignment):
		winner, rerr := s.assignments.GetAssignment(ctx, expID, recipientID)
		if rerr != nil {
			return "", fmt.Errorf("failed to re-read assignment after race: %w", rerr)
		}
		s.logger.Debug("assignment race on %s/%s resolved to %s", expID, recipientID, winner.VariantID)
		metrics.AssignmentsTotal.WithLabelValues(method, "existing").Inc()
		return winner.VariantID, nil
	default:
		metrics.AssignmentsTotal.WithLabelValues(method, "error").Inc()
		return "", fmt.Errorf("failed to create assignment: %w", err)
	}
}

func (s *AssignmentService) choose(ctx context.Context, exp *experiment.Experiment) (core.VariantID, error) {
	if exp.Method == experiment.MethodBandit {
		return s.bandit.selectFor(ctx, exp)
	}
	draw := s.rngPort.Stream(ctx, "assignment").Float64() * 100
	name, err := exp.TrafficAllocation.Pick(draw)
	if err != nil {
		return "", err
	}
	return variantIDByName(exp, name)
}
