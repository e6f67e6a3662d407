package ports

import (
	"context"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
)

// ExperimentRepository stores experiments with their variants
type ExperimentRepository interface {
	// Create inserts a draft experiment and all of its variants
	Create(ctx context.Context, exp *experiment.Experiment) error

	// Get loads an experiment with variants. Missing rows yield core.ErrExperimentNotFound.
	Get(ctx context.Context, id core.ExperimentID) (*experiment.Experiment, error)

	// ListByTenant returns a tenant's experiments, newest first
	ListByTenant(ctx context.Context, tenantID core.TenantID) ([]*experiment.Experiment, error)

	// UpdateLifecycle persists status, timestamps and the winning variant
	UpdateLifecycle(ctx context.Context, exp *experiment.Experiment) error

	// UpdateAllocation replaces traffic_allocation
	UpdateAllocation(ctx context.Context, id core.ExperimentID, alloc experiment.Allocation, updatedAt time.Time) error

	// UpdateVariantContent changes a variant's message. It fails with
	// core.ErrVariantLocked once the experiment has any assignment.
	UpdateVariantContent(ctx context.Context, expID core.ExperimentID, variantID core.VariantID, subject, content string) error
}

// AssignmentRepository stores the recipient to variant mapping
type AssignmentRepository interface {
	// GetAssignment returns core.ErrAssignmentNotFound when the recipient is unassigned
	GetAssignment(ctx context.Context, expID core.ExperimentID, recipientID core.RecipientID) (*experiment.Assignment, error)

	// CreateAssignment returns core.ErrDuplicateAssignment when another writer won the race
	CreateAssignment(ctx context.Context, a *experiment.Assignment) error

	// CountAssignments returns the number of assigned recipients
	CountAssignments(ctx context.Context, expID core.ExperimentID) (int, error)

	// VariantCounts returns exposures and outcome tallies for every variant,
	// including variants with no traffic.
	VariantCounts(ctx context.Context, expID core.ExperimentID) ([]experiment.VariantCounts, error)
}

// OutcomeRepository stores conversion outcomes
type OutcomeRepository interface {
	// CreateOutcome returns core.ErrDuplicateOutcome when the recipient already has one
	CreateOutcome(ctx context.Context, o *experiment.Outcome) error

	// GetOutcome returns the recipient's stored outcome
	GetOutcome(ctx context.Context, expID core.ExperimentID, recipientID core.RecipientID) (*experiment.Outcome, error)

	// MarkOutcomeApplied flags the outcome as folded into the method state
	MarkOutcomeApplied(ctx context.Context, expID core.ExperimentID, recipientID core.RecipientID) error
}
