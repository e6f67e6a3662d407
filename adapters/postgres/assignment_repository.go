package postgres

import (
	"context"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
	apperrors "abstats/internal/errors"
	"abstats/ports"

	"github.com/jmoiron/sqlx"
)

// AssignmentRepositoryImpl implements AssignmentRepository and
// OutcomeRepository for PostgreSQL
type AssignmentRepositoryImpl struct {
	db *sqlx.DB
}

// NewAssignmentRepository creates a new PostgreSQL assignment repository
func NewAssignmentRepository(db *sqlx.DB) ports.AssignmentRepository {
	return &AssignmentRepositoryImpl{db: db}
}

// NewOutcomeRepository creates a new PostgreSQL outcome repository
func NewOutcomeRepository(db *sqlx.DB) ports.OutcomeRepository {
	return &AssignmentRepositoryImpl{db: db}
}

type assignmentRow struct {
	ExperimentID core.ExperimentID `db:"experiment_id"`
	VariantID    core.VariantID    `db:"variant_id"`
	RecipientID  core.RecipientID  `db:"recipient_id"`
	AssignedAt   time.Time         `db:"assigned_at"`
}

// GetAssignment returns the recipient's variant for an experiment
func (r *AssignmentRepositoryImpl) GetAssignment(ctx context.Context, expID core.ExperimentID, recipientID core.RecipientID) (*experiment.Assignment, error) {
	var row assignmentRow
	err := r.db.GetContext(ctx, &row, `
		SELECT experiment_id, variant_id, recipient_id, assigned_at
		FROM ab_assignments
		WHERE experiment_id = $1 AND recipient_id = $2
	`, expID, recipientID)
	if err != nil {
		if isNoRows(err) {
			return nil, core.ErrAssignmentNotFound
		}
		return nil, apperrors.DatabaseErrorf(err, "failed to load assignment of %s", recipientID)
	}
	return &experiment.Assignment{
		ExperimentID: row.ExperimentID,
		VariantID:    row.VariantID,
		RecipientID:  row.RecipientID,
		AssignedAt:   row.AssignedAt,
	}, nil
}

// CreateAssignment inserts an assignment. The primary key on
// (experiment_id, recipient_id) decides concurrent races.
func (r *AssignmentRepositoryImpl) CreateAssignment(ctx context.Context, a *experiment.Assignment) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO ab_assignments (experiment_id, variant_id, recipient_id, assigned_at)
		VALUES (:experiment_id, :variant_id, :recipient_id, :assigned_at)
	`, assignmentRow{
		ExperimentID: a.ExperimentID,
		VariantID:    a.VariantID,
		RecipientID:  a.RecipientID,
		AssignedAt:   a.AssignedAt,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrDuplicateAssignment
		}
		return apperrors.DatabaseErrorf(err, "failed to insert assignment of %s", a.RecipientID)
	}
	return nil
}

// CountAssignments returns the number of assigned recipients
func (r *AssignmentRepositoryImpl) CountAssignments(ctx context.Context, expID core.ExperimentID) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM ab_assignments WHERE experiment_id = $1`, expID); err != nil {
		return 0, apperrors.DatabaseErrorf(err, "failed to count assignments of %s", expID)
	}
	return n, nil
}

// VariantCounts returns exposures and outcome tallies for every variant
func (r *AssignmentRepositoryImpl) VariantCounts(ctx context.Context, expID core.ExperimentID) ([]experiment.VariantCounts, error) {
	return variantCounts(ctx, r.db, expID)
}

// CreateOutcome inserts the recipient's single outcome
func (r *AssignmentRepositoryImpl) CreateOutcome(ctx context.Context, o *experiment.Outcome) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ab_outcomes (experiment_id, variant_id, recipient_id, outcome, applied, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, o.ExperimentID, o.VariantID, o.RecipientID, string(o.Outcome), o.Applied, o.RecordedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrDuplicateOutcome
		}
		return apperrors.DatabaseErrorf(err, "failed to insert outcome of %s", o.RecipientID)
	}
	return nil
}

type outcomeRow struct {
	ExperimentID core.ExperimentID `db:"experiment_id"`
	VariantID    core.VariantID    `db:"variant_id"`
	RecipientID  core.RecipientID  `db:"recipient_id"`
	Outcome      string            `db:"outcome"`
	Applied      bool              `db:"applied"`
	RecordedAt   time.Time         `db:"recorded_at"`
}

func (row *outcomeRow) toDomain() *experiment.Outcome {
	return &experiment.Outcome{
		ExperimentID: row.ExperimentID,
		VariantID:    row.VariantID,
		RecipientID:  row.RecipientID,
		Outcome:      experiment.OutcomeKind(row.Outcome),
		Applied:      row.Applied,
		RecordedAt:   row.RecordedAt,
	}
}

// GetOutcome returns the recipient's stored outcome
func (r *AssignmentRepositoryImpl) GetOutcome(ctx context.Context, expID core.ExperimentID, recipientID core.RecipientID) (*experiment.Outcome, error) {
	var row outcomeRow
	err := r.db.GetContext(ctx, &row, `
		SELECT experiment_id, variant_id, recipient_id, outcome, applied, recorded_at
		FROM ab_outcomes WHERE experiment_id = $1 AND recipient_id = $2
	`, expID, recipientID)
	if err != nil {
		if isNoRows(err) {
			return nil, core.NewNotFoundError("outcome", recipientID.String())
		}
		return nil, apperrors.DatabaseErrorf(err, "failed to load outcome of %s", recipientID)
	}
	return row.toDomain(), nil
}

// MarkOutcomeApplied flags the outcome as folded into the method state
func (r *AssignmentRepositoryImpl) MarkOutcomeApplied(ctx context.Context, expID core.ExperimentID, recipientID core.RecipientID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ab_outcomes SET applied = TRUE WHERE experiment_id = $1 AND recipient_id = $2
	`, expID, recipientID)
	if err != nil {
		return apperrors.DatabaseErrorf(err, "failed to mark outcome of %s", recipientID)
	}
	return requireOne(res, core.NewNotFoundError("outcome", recipientID.String()))
}

// claimOutcome flips applied on a pending outcome inside tx. The row lock
// makes a concurrent claim of the same outcome wait and then miss.
func claimOutcome(ctx context.Context, tx *sqlx.Tx, expID core.ExperimentID, recipientID core.RecipientID) (*experiment.Outcome, error) {
	var row outcomeRow
	err := tx.GetContext(ctx, &row, `
		UPDATE ab_outcomes SET applied = TRUE
		WHERE experiment_id = $1 AND recipient_id = $2 AND NOT applied
		RETURNING experiment_id, variant_id, recipient_id, outcome, applied, recorded_at
	`, expID, recipientID)
	if err == nil {
		return row.toDomain(), nil
	}
	if !isNoRows(err) {
		return nil, apperrors.DatabaseErrorf(err, "failed to claim outcome of %s", recipientID)
	}

	var exists bool
	err = tx.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM ab_outcomes WHERE experiment_id = $1 AND recipient_id = $2)
	`, expID, recipientID)
	if err != nil {
		return nil, apperrors.DatabaseErrorf(err, "failed to inspect outcome of %s", recipientID)
	}
	if exists {
		return nil, core.ErrOutcomeApplied
	}
	return nil, core.NewNotFoundError("outcome", recipientID.String())
}
