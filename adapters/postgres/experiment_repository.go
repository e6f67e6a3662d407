package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
	apperrors "abstats/internal/errors"
	"abstats/ports"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ExperimentRepositoryImpl implements ExperimentRepository for PostgreSQL
type ExperimentRepositoryImpl struct {
	db *sqlx.DB
}

// NewExperimentRepository creates a new PostgreSQL experiment repository
func NewExperimentRepository(db *sqlx.DB) ports.ExperimentRepository {
	return &ExperimentRepositoryImpl{db: db}
}

type experimentRow struct {
	ID                core.ExperimentID `db:"id"`
	TenantID          core.TenantID     `db:"tenant_id"`
	FormID            *string           `db:"form_id"`
	Name              string            `db:"name"`
	Channel           string            `db:"channel"`
	Status            string            `db:"status"`
	TrafficAllocation string            `db:"traffic_allocation"`
	Method            string            `db:"statistical_method"`
	MethodConfig      string            `db:"method_config"`
	SuccessMetric     string            `db:"success_metric"`
	MinSampleSize     int               `db:"min_sample_size"`
	ConfidenceLevel   float64           `db:"confidence_level"`
	WinningVariantID  *core.VariantID   `db:"winning_variant_id"`
	StartedAt         *time.Time        `db:"started_at"`
	EndedAt           *time.Time        `db:"ended_at"`
	CreatedAt         time.Time         `db:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at"`
}

type variantRow struct {
	ID                core.VariantID    `db:"id"`
	ExperimentID      core.ExperimentID `db:"experiment_id"`
	Name              string            `db:"name"`
	Subject           string            `db:"subject"`
	Content           string            `db:"content"`
	DistributionJobID *string           `db:"distribution_job_id"`
	IsControl         bool              `db:"is_control"`
	CreatedAt         time.Time         `db:"created_at"`
}

const experimentColumns = `id, tenant_id, form_id, name, channel, status, traffic_allocation,
	statistical_method, method_config, success_metric, min_sample_size, confidence_level,
	winning_variant_id, started_at, ended_at, created_at, updated_at`

const variantColumns = `id, experiment_id, name, subject, content, distribution_job_id, is_control, created_at`

func toExperimentRow(exp *experiment.Experiment) (*experimentRow, error) {
	alloc, err := json.Marshal(exp.TrafficAllocation)
	if err != nil {
		return nil, fmt.Errorf("failed to encode traffic allocation: %w", err)
	}
	cfg, err := experiment.MarshalMethodConfig(exp.MethodConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to encode method config: %w", err)
	}
	return &experimentRow{
		ID:                exp.ID,
		TenantID:          exp.TenantID,
		FormID:            exp.FormID,
		Name:              exp.Name,
		Channel:           string(exp.Channel),
		Status:            string(exp.Status),
		TrafficAllocation: string(alloc),
		Method:            string(exp.Method),
		MethodConfig:      string(cfg),
		SuccessMetric:     exp.SuccessMetric,
		MinSampleSize:     exp.MinSampleSize,
		ConfidenceLevel:   exp.ConfidenceLevel,
		WinningVariantID:  exp.WinningVariantID,
		StartedAt:         exp.StartedAt,
		EndedAt:           exp.EndedAt,
		CreatedAt:         exp.CreatedAt,
		UpdatedAt:         exp.UpdatedAt,
	}, nil
}

// toDomain rebuilds the aggregate. A stored allocation is restored without
// validation so that a corrupted row still loads and is refused at start.
func (row *experimentRow) toDomain(variants []variantRow) (*experiment.Experiment, error) {
	var shares map[string]float64
	if err := json.Unmarshal([]byte(row.TrafficAllocation), &shares); err != nil {
		return nil, fmt.Errorf("%w: traffic_allocation of %s: %v", core.ErrStateCorruption, row.ID, err)
	}
	method := experiment.Method(row.Method)
	cfg, err := experiment.ParseMethodConfig(method, []byte(row.MethodConfig), row.ConfidenceLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: method_config of %s: %v", core.ErrStateCorruption, row.ID, err)
	}

	exp := &experiment.Experiment{
		ID:                row.ID,
		TenantID:          row.TenantID,
		FormID:            row.FormID,
		Name:              row.Name,
		Channel:           experiment.Channel(row.Channel),
		Status:            experiment.Status(row.Status),
		TrafficAllocation: experiment.RestoreAllocation(shares),
		Method:            method,
		MethodConfig:      cfg,
		SuccessMetric:     row.SuccessMetric,
		MinSampleSize:     row.MinSampleSize,
		ConfidenceLevel:   row.ConfidenceLevel,
		WinningVariantID:  row.WinningVariantID,
		StartedAt:         row.StartedAt,
		EndedAt:           row.EndedAt,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
		Variants:          make([]experiment.Variant, 0, len(variants)),
	}
	for _, v := range variants {
		exp.Variants = append(exp.Variants, experiment.Variant{
			ID:                v.ID,
			ExperimentID:      v.ExperimentID,
			Name:              v.Name,
			Subject:           v.Subject,
			Content:           v.Content,
			DistributionJobID: v.DistributionJobID,
			IsControl:         v.IsControl,
			CreatedAt:         v.CreatedAt,
		})
	}
	return exp, nil
}

// Create inserts the experiment and its variants in one transaction
func (r *ExperimentRepositoryImpl) Create(ctx context.Context, exp *experiment.Experiment) error {
	row, err := toExperimentRow(exp)
	if err != nil {
		return err
	}

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO ab_experiments (`+experimentColumns+`)
			VALUES (:id, :tenant_id, :form_id, :name, :channel, :status, :traffic_allocation,
				:statistical_method, :method_config, :success_metric, :min_sample_size, :confidence_level,
				:winning_variant_id, :started_at, :ended_at, :created_at, :updated_at)
		`, row)
		if err != nil {
			if isUniqueViolation(err) {
				return core.NewValidationError("id", fmt.Sprintf("experiment %s already exists", exp.ID))
			}
			return apperrors.DatabaseErrorf(err, "failed to insert experiment %s", exp.ID)
		}

		for _, v := range exp.Variants {
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO ab_variants (`+variantColumns+`)
				VALUES (:id, :experiment_id, :name, :subject, :content, :distribution_job_id, :is_control, :created_at)
			`, variantRow{
				ID:                v.ID,
				ExperimentID:      exp.ID,
				Name:              v.Name,
				Subject:           v.Subject,
				Content:           v.Content,
				DistributionJobID: v.DistributionJobID,
				IsControl:         v.IsControl,
				CreatedAt:         v.CreatedAt,
			})
			if err != nil {
				if isUniqueViolation(err) {
					return core.NewValidationError("variants", fmt.Sprintf("duplicate variant name %q", v.Name))
				}
				return apperrors.DatabaseErrorf(err, "failed to insert variant %s", v.Name)
			}
		}
		return nil
	})
}

// Get loads an experiment with variants ordered by name
func (r *ExperimentRepositoryImpl) Get(ctx context.Context, id core.ExperimentID) (*experiment.Experiment, error) {
	var row experimentRow
	err := r.db.GetContext(ctx, &row, `SELECT `+experimentColumns+` FROM ab_experiments WHERE id = $1`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, experimentNotFound(id)
		}
		return nil, apperrors.DatabaseErrorf(err, "failed to load experiment %s", id)
	}

	var variants []variantRow
	err = r.db.SelectContext(ctx, &variants, `
		SELECT `+variantColumns+` FROM ab_variants WHERE experiment_id = $1 ORDER BY name
	`, id)
	if err != nil {
		return nil, apperrors.DatabaseErrorf(err, "failed to load variants of %s", id)
	}
	return row.toDomain(variants)
}

// ListByTenant returns a tenant's experiments, newest first
func (r *ExperimentRepositoryImpl) ListByTenant(ctx context.Context, tenantID core.TenantID) ([]*experiment.Experiment, error) {
	var rows []experimentRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+experimentColumns+` FROM ab_experiments
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC
	`, tenantID)
	if err != nil {
		return nil, apperrors.DatabaseErrorf(err, "failed to list experiments for %s", tenantID)
	}
	if len(rows) == 0 {
		return []*experiment.Experiment{}, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID.String()
	}
	var variants []variantRow
	err = r.db.SelectContext(ctx, &variants, `
		SELECT `+variantColumns+` FROM ab_variants
		WHERE experiment_id = ANY($1::uuid[])
		ORDER BY experiment_id, name
	`, pq.Array(ids))
	if err != nil {
		return nil, apperrors.DatabaseErrorf(err, "failed to load variants for %s", tenantID)
	}
	byExperiment := make(map[core.ExperimentID][]variantRow, len(rows))
	for _, v := range variants {
		byExperiment[v.ExperimentID] = append(byExperiment[v.ExperimentID], v)
	}

	out := make([]*experiment.Experiment, 0, len(rows))
	for i := range rows {
		exp, err := rows[i].toDomain(byExperiment[rows[i].ID])
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}

// UpdateLifecycle persists status, timestamps and the winning variant
func (r *ExperimentRepositoryImpl) UpdateLifecycle(ctx context.Context, exp *experiment.Experiment) error {
	return updateLifecycle(ctx, r.db, exp)
}

func updateLifecycle(ctx context.Context, ext sqlx.ExtContext, exp *experiment.Experiment) error {
	res, err := ext.ExecContext(ctx, `
		UPDATE ab_experiments
		SET status = $2, started_at = $3, ended_at = $4, winning_variant_id = $5, updated_at = $6
		WHERE id = $1
	`, exp.ID, string(exp.Status), exp.StartedAt, exp.EndedAt, exp.WinningVariantID, exp.UpdatedAt)
	if err != nil {
		return apperrors.DatabaseErrorf(err, "failed to update lifecycle of %s", exp.ID)
	}
	return requireOne(res, experimentNotFound(exp.ID))
}

// UpdateAllocation replaces traffic_allocation
func (r *ExperimentRepositoryImpl) UpdateAllocation(ctx context.Context, id core.ExperimentID, alloc experiment.Allocation, updatedAt time.Time) error {
	raw, err := json.Marshal(alloc)
	if err != nil {
		return fmt.Errorf("failed to encode traffic allocation: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE ab_experiments SET traffic_allocation = $2, updated_at = $3 WHERE id = $1
	`, id, string(raw), updatedAt)
	if err != nil {
		return apperrors.DatabaseErrorf(err, "failed to update allocation of %s", id)
	}
	return requireOne(res, experimentNotFound(id))
}

// UpdateVariantContent rewrites subject and content unless the experiment
// already has assignments. The guard and the write are one statement.
func (r *ExperimentRepositoryImpl) UpdateVariantContent(ctx context.Context, expID core.ExperimentID, variantID core.VariantID, subject, content string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ab_variants SET subject = $3, content = $4
		WHERE experiment_id = $1 AND id = $2
		  AND NOT EXISTS (SELECT 1 FROM ab_assignments WHERE experiment_id = $1)
	`, expID, variantID, subject, content)
	if err != nil {
		return apperrors.DatabaseErrorf(err, "failed to update variant %s", variantID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.DatabaseErrorf(err, "failed to read rows affected")
	}
	if n == 1 {
		return nil
	}

	// Nothing changed: find out whether the variant is missing or locked.
	var state struct {
		Experiment bool `db:"experiment"`
		Variant    bool `db:"variant"`
	}
	err = r.db.GetContext(ctx, &state, `
		SELECT
			EXISTS (SELECT 1 FROM ab_experiments WHERE id = $1) AS experiment,
			EXISTS (SELECT 1 FROM ab_variants WHERE experiment_id = $1 AND id = $2) AS variant
	`, expID, variantID)
	if err != nil {
		return apperrors.DatabaseErrorf(err, "failed to inspect variant %s", variantID)
	}
	switch {
	case !state.Experiment:
		return experimentNotFound(expID)
	case !state.Variant:
		return fmt.Errorf("%w: %s", core.ErrVariantNotFound, variantID)
	}
	return core.ErrVariantLocked
}

func requireOne(res interface{ RowsAffected() (int64, error) }, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.DatabaseErrorf(err, "failed to read rows affected")
	}
	if n == 0 {
		return notFound
	}
	return nil
}
