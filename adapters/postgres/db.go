package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
	apperrors "abstats/internal/errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Advisory lock namespaces
const (
	lockSequential = "ab_sequential_analysis"
	lockRegret     = "ab_bandit_regret"
)

// PoolConfig sizes the connection pool
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to PostgreSQL through lib/pq and verifies the connection
func Open(ctx context.Context, url string, pool PoolConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, apperrors.DatabaseErrorf(err, "failed to open database")
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.DatabaseErrorf(err, "failed to ping database")
	}
	return db, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func experimentNotFound(id core.ExperimentID) error {
	return fmt.Errorf("%w: %s", core.ErrExperimentNotFound, id)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// withTx runs fn in a transaction and commits when it returns nil
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.DatabaseErrorf(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.DatabaseErrorf(err, "failed to commit transaction")
	}
	return nil
}

// advisoryLock takes a transaction-scoped lock on one resource
func advisoryLock(ctx context.Context, tx *sqlx.Tx, namespace, id string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, core.AdvisoryKey(namespace, id)); err != nil {
		return apperrors.DatabaseErrorf(err, "failed to lock %s %s", namespace, id)
	}
	return nil
}

// variantCounts tallies exposures and outcomes for every variant of an
// experiment, ordered by variant name. Variants with no traffic report zeros.
func variantCounts(ctx context.Context, q sqlx.QueryerContext, expID core.ExperimentID) ([]experiment.VariantCounts, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS (SELECT 1 FROM ab_experiments WHERE id = $1)`, expID); err != nil {
		return nil, apperrors.DatabaseErrorf(err, "failed to check experiment %s", expID)
	}
	if !exists {
		return nil, experimentNotFound(expID)
	}

	var counts []experiment.VariantCounts
	err := sqlx.SelectContext(ctx, q, &counts, `
		SELECT
			v.id AS variant_id,
			(SELECT COUNT(*) FROM ab_assignments a
				WHERE a.experiment_id = v.experiment_id AND a.variant_id = v.id) AS exposures,
			(SELECT COUNT(*) FROM ab_outcomes o
				WHERE o.experiment_id = v.experiment_id AND o.variant_id = v.id AND o.outcome = 'success') AS successes,
			(SELECT COUNT(*) FROM ab_outcomes o
				WHERE o.experiment_id = v.experiment_id AND o.variant_id = v.id AND o.outcome = 'failure') AS failures
		FROM ab_variants v
		WHERE v.experiment_id = $1
		ORDER BY v.name
	`, expID)
	if err != nil {
		return nil, apperrors.DatabaseErrorf(err, "failed to count traffic for %s", expID)
	}
	return counts, nil
}
