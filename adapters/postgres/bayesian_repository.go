package postgres

import (
	"context"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/domain/stats"
	apperrors "abstats/internal/errors"
	"abstats/ports"

	"github.com/jmoiron/sqlx"
)

// BayesianRepositoryImpl implements BayesianRepository for PostgreSQL
type BayesianRepositoryImpl struct {
	db *sqlx.DB
}

// NewBayesianRepository creates a new PostgreSQL posterior repository
func NewBayesianRepository(db *sqlx.DB) ports.BayesianRepository {
	return &BayesianRepositoryImpl{db: db}
}

const bayesianColumns = `experiment_id, variant_id, prior_alpha, prior_beta, successes, failures,
	posterior_alpha, posterior_beta, probability_best, credible_low, credible_high, expected_loss, updated_at`

// SeedBayesian inserts prior rows, leaving existing rows alone
func (r *BayesianRepositoryImpl) SeedBayesian(ctx context.Context, rows []stats.BayesianStats) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO ab_bayesian_stats (`+bayesianColumns+`)
		VALUES (:experiment_id, :variant_id, :prior_alpha, :prior_beta, :successes, :failures,
			:posterior_alpha, :posterior_beta, :probability_best, :credible_low, :credible_high, :expected_loss, :updated_at)
		ON CONFLICT (experiment_id, variant_id) DO NOTHING
	`, rows)
	if err != nil {
		return apperrors.DatabaseErrorf(err, "failed to seed posteriors of %s", rows[0].ExperimentID)
	}
	return nil
}

// IncrementPosterior claims the outcome and adds it to the posterior in one
// transaction. The counter UPDATE is relative so concurrent outcomes never
// lose counts.
func (r *BayesianRepositoryImpl) IncrementPosterior(ctx context.Context, o *experiment.Outcome, now time.Time) (*stats.BayesianStats, error) {
	var row stats.BayesianStats
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		claimed, err := claimOutcome(ctx, tx, o.ExperimentID, o.RecipientID)
		if err != nil {
			return err
		}
		successes := claimed.Reward()
		err = tx.GetContext(ctx, &row, `
			UPDATE ab_bayesian_stats
			SET successes = successes + $3::int,
				failures = failures + (1 - $3::int),
				posterior_alpha = prior_alpha + successes + $3::int,
				posterior_beta = prior_beta + failures + (1 - $3::int),
				updated_at = $4
			WHERE experiment_id = $1 AND variant_id = $2
			RETURNING `+bayesianColumns,
			claimed.ExperimentID, claimed.VariantID, successes, now)
		if err != nil {
			if isNoRows(err) {
				return core.NewNotFoundError("bayesian stats", claimed.VariantID.String())
			}
			return apperrors.DatabaseErrorf(err, "failed to update posterior of %s", claimed.VariantID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListBayesian returns all rows for an experiment
func (r *BayesianRepositoryImpl) ListBayesian(ctx context.Context, expID core.ExperimentID) ([]stats.BayesianStats, error) {
	rows := []stats.BayesianStats{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+bayesianColumns+` FROM ab_bayesian_stats
		WHERE experiment_id = $1
		ORDER BY variant_id
	`, expID)
	if err != nil {
		return nil, apperrors.DatabaseErrorf(err, "failed to list posteriors of %s", expID)
	}
	return rows, nil
}

// SaveDerived writes the quantities computed from the whole experiment
func (r *BayesianRepositoryImpl) SaveDerived(ctx context.Context, rows []stats.BayesianStats) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, row := range rows {
			res, err := tx.NamedExecContext(ctx, `
				UPDATE ab_bayesian_stats
				SET probability_best = :probability_best,
					credible_low = :credible_low,
					credible_high = :credible_high,
					expected_loss = :expected_loss,
					updated_at = :updated_at
				WHERE experiment_id = :experiment_id AND variant_id = :variant_id
			`, row)
			if err != nil {
				return apperrors.DatabaseErrorf(err, "failed to save derived stats of %s", row.VariantID)
			}
			if err := requireOne(res, core.NewNotFoundError("bayesian stats", row.VariantID.String())); err != nil {
				return err
			}
		}
		return nil
	})
}
