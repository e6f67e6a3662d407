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

// BanditRepositoryImpl implements BanditRepository for PostgreSQL
type BanditRepositoryImpl struct {
	db *sqlx.DB
}

// NewBanditRepository creates a new PostgreSQL bandit repository
func NewBanditRepository(db *sqlx.DB) ports.BanditRepository {
	return &BanditRepositoryImpl{db: db}
}

const banditColumns = `experiment_id, variant_id, variant_name, algorithm, success_count, failure_count,
	mean_reward, ucb_value, initial_allocation, current_allocation, pulls, cumulative_reward, updated_at`

const regretColumns = `id, experiment_id, total_pulls, cumulative_regret, optimal_variant_id, recorded_at`

// SeedBandit inserts initial arm rows, leaving existing rows alone
func (r *BanditRepositoryImpl) SeedBandit(ctx context.Context, rows []stats.BanditState) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO ab_bandit_state (`+banditColumns+`)
		VALUES (:experiment_id, :variant_id, :variant_name, :algorithm, :success_count, :failure_count,
			:mean_reward, :ucb_value, :initial_allocation, :current_allocation, :pulls, :cumulative_reward, :updated_at)
		ON CONFLICT (experiment_id, variant_id) DO NOTHING
	`, rows)
	if err != nil {
		return apperrors.DatabaseErrorf(err, "failed to seed bandit arms of %s", rows[0].ExperimentID)
	}
	return nil
}

// ListBandit returns all arms ordered by variant name
func (r *BanditRepositoryImpl) ListBandit(ctx context.Context, expID core.ExperimentID) ([]stats.BanditState, error) {
	rows := []stats.BanditState{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+banditColumns+` FROM ab_bandit_state
		WHERE experiment_id = $1
		ORDER BY variant_name
	`, expID)
	if err != nil {
		return nil, apperrors.DatabaseErrorf(err, "failed to list bandit arms of %s", expID)
	}
	return rows, nil
}

// ApplyReward claims the outcome and records it as one pull in the same
// transaction
func (r *BanditRepositoryImpl) ApplyReward(ctx context.Context, o *experiment.Outcome, now time.Time) (*stats.BanditState, error) {
	var row stats.BanditState
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		claimed, err := claimOutcome(ctx, tx, o.ExperimentID, o.RecipientID)
		if err != nil {
			return err
		}
		err = tx.GetContext(ctx, &row, `
			UPDATE ab_bandit_state
			SET pulls = pulls + 1,
				success_count = success_count + $3::int,
				failure_count = failure_count + (1 - $3::int),
				cumulative_reward = cumulative_reward + $3::int,
				mean_reward = (cumulative_reward + $3::int) / (pulls + 1),
				updated_at = $4
			WHERE experiment_id = $1 AND variant_id = $2
			RETURNING `+banditColumns,
			claimed.ExperimentID, claimed.VariantID, claimed.Reward(), now)
		if err != nil {
			if isNoRows(err) {
				return core.NewNotFoundError("bandit state", claimed.VariantID.String())
			}
			return apperrors.DatabaseErrorf(err, "failed to apply reward to %s", claimed.VariantID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpdateAllocations writes current_allocation and ucb_value for each row
func (r *BanditRepositoryImpl) UpdateAllocations(ctx context.Context, rows []stats.BanditState) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, row := range rows {
			res, err := tx.NamedExecContext(ctx, `
				UPDATE ab_bandit_state
				SET current_allocation = :current_allocation, ucb_value = :ucb_value
				WHERE experiment_id = :experiment_id AND variant_id = :variant_id
			`, row)
			if err != nil {
				return apperrors.DatabaseErrorf(err, "failed to update allocation of %s", row.VariantID)
			}
			if err := requireOne(res, core.NewNotFoundError("bandit state", row.VariantID.String())); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendRegret extends the regret series under the experiment's advisory
// lock so concurrent appends never read the same predecessor
func (r *BanditRepositoryImpl) AppendRegret(ctx context.Context, expID core.ExperimentID, increment float64, optimal core.VariantID, now time.Time) (*stats.BanditRegret, error) {
	snap := stats.BanditRegret{
		ExperimentID:     expID,
		OptimalVariantID: optimal,
		RecordedAt:       now,
	}
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := advisoryLock(ctx, tx, lockRegret, expID.String()); err != nil {
			return err
		}

		var last float64
		err := tx.GetContext(ctx, &last, `
			SELECT COALESCE((
				SELECT cumulative_regret FROM ab_bandit_regret
				WHERE experiment_id = $1
				ORDER BY id DESC
				LIMIT 1
			), 0)
		`, expID)
		if err != nil {
			return apperrors.DatabaseErrorf(err, "failed to read regret of %s", expID)
		}
		if err := tx.GetContext(ctx, &snap.TotalPulls, `
			SELECT COALESCE(SUM(pulls), 0) FROM ab_bandit_state WHERE experiment_id = $1
		`, expID); err != nil {
			return apperrors.DatabaseErrorf(err, "failed to sum pulls of %s", expID)
		}

		snap.CumulativeRegret = last + increment
		if err := tx.GetContext(ctx, &snap.ID, `
			INSERT INTO ab_bandit_regret (experiment_id, total_pulls, cumulative_regret, optimal_variant_id, recorded_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, expID, snap.TotalPulls, snap.CumulativeRegret, optimal, now); err != nil {
			return apperrors.DatabaseErrorf(err, "failed to append regret of %s", expID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListRegret returns the regret series oldest first
func (r *BanditRepositoryImpl) ListRegret(ctx context.Context, expID core.ExperimentID) ([]stats.BanditRegret, error) {
	rows := []stats.BanditRegret{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+regretColumns+` FROM ab_bandit_regret
		WHERE experiment_id = $1
		ORDER BY id
	`, expID)
	if err != nil {
		return nil, apperrors.DatabaseErrorf(err, "failed to list regret of %s", expID)
	}
	return rows, nil
}
