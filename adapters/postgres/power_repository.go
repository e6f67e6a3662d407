package postgres

import (
	"context"
	"fmt"

	"abstats/domain/core"
	"abstats/domain/stats"
	apperrors "abstats/internal/errors"
	"abstats/ports"

	"github.com/jmoiron/sqlx"
)

// PowerRepositoryImpl implements PowerRepository for PostgreSQL
type PowerRepositoryImpl struct {
	db *sqlx.DB
}

// NewPowerRepository creates a new PostgreSQL power analysis repository
func NewPowerRepository(db *sqlx.DB) ports.PowerRepository {
	return &PowerRepositoryImpl{db: db}
}

const powerColumns = `id, experiment_id, baseline_rate, minimum_detectable_effect, power, significance_level,
	daily_traffic, sample_size_per_variant, total_sample_size, estimated_duration_days, variant_count, created_at`

// CreatePowerAnalysis inserts a calculation and sets its id
func (r *PowerRepositoryImpl) CreatePowerAnalysis(ctx context.Context, row *stats.PowerAnalysis) error {
	rows, err := r.db.NamedQueryContext(ctx, `
		INSERT INTO ab_power_analysis (
			experiment_id, baseline_rate, minimum_detectable_effect, power, significance_level,
			daily_traffic, sample_size_per_variant, total_sample_size, estimated_duration_days, variant_count, created_at
		) VALUES (
			:experiment_id, :baseline_rate, :minimum_detectable_effect, :power, :significance_level,
			:daily_traffic, :sample_size_per_variant, :total_sample_size, :estimated_duration_days, :variant_count, :created_at
		) RETURNING id
	`, row)
	if err != nil {
		return apperrors.DatabaseErrorf(err, "failed to insert power analysis")
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&row.ID); err != nil {
			return apperrors.DatabaseErrorf(err, "failed to read power analysis id")
		}
	}
	if err := rows.Err(); err != nil {
		return apperrors.DatabaseErrorf(err, "failed to insert power analysis")
	}
	return nil
}

// GetPowerAnalysis loads one calculation
func (r *PowerRepositoryImpl) GetPowerAnalysis(ctx context.Context, id int64) (*stats.PowerAnalysis, error) {
	var row stats.PowerAnalysis
	err := r.db.GetContext(ctx, &row, `SELECT `+powerColumns+` FROM ab_power_analysis WHERE id = $1`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, core.NewNotFoundError("power analysis", fmt.Sprint(id))
		}
		return nil, apperrors.DatabaseErrorf(err, "failed to load power analysis %d", id)
	}
	return &row, nil
}

// ListPowerAnalyses returns an experiment's calculations oldest first
func (r *PowerRepositoryImpl) ListPowerAnalyses(ctx context.Context, expID core.ExperimentID) ([]stats.PowerAnalysis, error) {
	rows := []stats.PowerAnalysis{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+powerColumns+` FROM ab_power_analysis
		WHERE experiment_id = $1
		ORDER BY id
	`, expID)
	if err != nil {
		return nil, apperrors.DatabaseErrorf(err, "failed to list power analyses of %s", expID)
	}
	return rows, nil
}
