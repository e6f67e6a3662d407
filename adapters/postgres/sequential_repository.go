package postgres

import (
	"context"
	"fmt"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/domain/stats"
	apperrors "abstats/internal/errors"
	"abstats/ports"

	"github.com/jmoiron/sqlx"
)

// SequentialRepositoryImpl implements SequentialRepository for PostgreSQL.
// Interim checks for one experiment are serialized with a transaction-scoped
// advisory lock.
type SequentialRepositoryImpl struct {
	db *sqlx.DB
}

// NewSequentialRepository creates a new PostgreSQL sequential repository
func NewSequentialRepository(db *sqlx.DB) ports.SequentialRepository {
	return &SequentialRepositoryImpl{db: db}
}

const sequentialColumns = `id, experiment_id, check_number, total_checks, sample_size, planned_sample_size,
	information_fraction, alpha_spent, z_statistic, upper_boundary, lower_boundary,
	decision, leading_variant_id, created_at`

// ListChecks returns the log ordered by check_number
func (r *SequentialRepositoryImpl) ListChecks(ctx context.Context, expID core.ExperimentID) ([]stats.SequentialAnalysis, error) {
	return listChecks(ctx, r.db, expID)
}

func listChecks(ctx context.Context, q sqlx.QueryerContext, expID core.ExperimentID) ([]stats.SequentialAnalysis, error) {
	rows := []stats.SequentialAnalysis{}
	err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT `+sequentialColumns+` FROM ab_sequential_analysis
		WHERE experiment_id = $1
		ORDER BY check_number
	`, expID)
	if err != nil {
		return nil, apperrors.DatabaseErrorf(err, "failed to list sequential checks of %s", expID)
	}
	return rows, nil
}

// WithExperimentLock runs fn inside a transaction holding the experiment's
// advisory lock. The lock is released on commit or rollback.
func (r *SequentialRepositoryImpl) WithExperimentLock(ctx context.Context, expID core.ExperimentID, fn func(ctx context.Context, store ports.SequentialStore) error) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := advisoryLock(ctx, tx, lockSequential, expID.String()); err != nil {
			return err
		}
		return fn(ctx, &sequentialTx{tx: tx})
	})
}

type sequentialTx struct {
	tx *sqlx.Tx
}

func (s *sequentialTx) ListChecks(ctx context.Context, expID core.ExperimentID) ([]stats.SequentialAnalysis, error) {
	return listChecks(ctx, s.tx, expID)
}

func (s *sequentialTx) AppendCheck(ctx context.Context, row *stats.SequentialAnalysis) error {
	rows, err := sqlx.NamedQueryContext(ctx, s.tx, `
		INSERT INTO ab_sequential_analysis (
			experiment_id, check_number, total_checks, sample_size, planned_sample_size,
			information_fraction, alpha_spent, z_statistic, upper_boundary, lower_boundary,
			decision, leading_variant_id, created_at
		) VALUES (
			:experiment_id, :check_number, :total_checks, :sample_size, :planned_sample_size,
			:information_fraction, :alpha_spent, :z_statistic, :upper_boundary, :lower_boundary,
			:decision, :leading_variant_id, :created_at
		) RETURNING id
	`, row)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: check %d already recorded", core.ErrStateCorruption, row.CheckNumber)
		}
		return apperrors.DatabaseErrorf(err, "failed to append check %d", row.CheckNumber)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&row.ID); err != nil {
			return apperrors.DatabaseErrorf(err, "failed to read check id")
		}
	}
	if err := rows.Err(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: check %d already recorded", core.ErrStateCorruption, row.CheckNumber)
		}
		return apperrors.DatabaseErrorf(err, "failed to append check %d", row.CheckNumber)
	}
	return nil
}

func (s *sequentialTx) VariantCounts(ctx context.Context, expID core.ExperimentID) ([]experiment.VariantCounts, error) {
	return variantCounts(ctx, s.tx, expID)
}

func (s *sequentialTx) UpdateLifecycle(ctx context.Context, exp *experiment.Experiment) error {
	return updateLifecycle(ctx, s.tx, exp)
}
