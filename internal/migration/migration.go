package migration

import (
	"context"

	"abstats/internal"
	"abstats/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
	logger  *internal.Logger
}

// NewRunner creates a new migration runner
func NewRunner(logger *internal.Logger) *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
		logger:  logger,
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in dependency order. Every statement
// is idempotent.
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	steps := []struct {
		name string
		fn   func(context.Context, *sqlx.DB) error
	}{
		{"ab_experiments", r.createExperimentsTable},
		{"ab_variants", r.createVariantsTable},
		{"ab_assignments", r.createAssignmentsTable},
		{"ab_outcomes", r.createOutcomesTable},
		{"ab_bayesian_stats", r.createBayesianStatsTable},
		{"ab_sequential_analysis", r.createSequentialAnalysisTable},
		{"ab_bandit_state", r.createBanditStateTable},
		{"ab_bandit_regret", r.createBanditRegretTable},
		{"ab_power_analysis", r.createPowerAnalysisTable},
	}
	for _, step := range steps {
		if err := step.fn(ctx, db); err != nil {
			return errors.Wrapf(err, "failed to create %s table", step.name)
		}
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	r.logger.Info("schema migrations %s applied", r.version)
	return nil
}

func (r *MigrationRunner) createExperimentsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ab_experiments (
			id UUID PRIMARY KEY,
			tenant_id VARCHAR(255) NOT NULL,
			form_id VARCHAR(255),
			name VARCHAR(255) NOT NULL,
			channel VARCHAR(20) NOT NULL CHECK (channel IN ('email', 'sms', 'whatsapp')),
			status VARCHAR(20) NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'running', 'paused', 'completed')),
			traffic_allocation JSONB NOT NULL DEFAULT '{}',
			statistical_method VARCHAR(20) NOT NULL DEFAULT 'frequentist'
				CHECK (statistical_method IN ('frequentist', 'bayesian', 'sequential', 'bandit')),
			method_config JSONB NOT NULL DEFAULT '{}',
			success_metric VARCHAR(100) NOT NULL DEFAULT '',
			min_sample_size INTEGER NOT NULL DEFAULT 0 CHECK (min_sample_size >= 0),
			confidence_level DOUBLE PRECISION NOT NULL DEFAULT 0.95,
			winning_variant_id UUID,
			started_at TIMESTAMP WITH TIME ZONE,
			ended_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createVariantsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ab_variants (
			id UUID PRIMARY KEY,
			experiment_id UUID NOT NULL REFERENCES ab_experiments(id) ON DELETE CASCADE,
			name VARCHAR(100) NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			distribution_job_id VARCHAR(255),
			is_control BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			UNIQUE (experiment_id, name)
		)
	`)
	return err
}

func (r *MigrationRunner) createAssignmentsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ab_assignments (
			experiment_id UUID NOT NULL REFERENCES ab_experiments(id) ON DELETE CASCADE,
			variant_id UUID NOT NULL REFERENCES ab_variants(id) ON DELETE CASCADE,
			recipient_id VARCHAR(255) NOT NULL,
			assigned_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (experiment_id, recipient_id)
		)
	`)
	return err
}

func (r *MigrationRunner) createOutcomesTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ab_outcomes (
			experiment_id UUID NOT NULL,
			variant_id UUID NOT NULL REFERENCES ab_variants(id) ON DELETE CASCADE,
			recipient_id VARCHAR(255) NOT NULL,
			outcome VARCHAR(10) NOT NULL CHECK (outcome IN ('success', 'failure')),
			applied BOOLEAN NOT NULL DEFAULT FALSE,
			recorded_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (experiment_id, recipient_id),
			FOREIGN KEY (experiment_id, recipient_id)
				REFERENCES ab_assignments(experiment_id, recipient_id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `ALTER TABLE ab_outcomes ADD COLUMN IF NOT EXISTS applied BOOLEAN NOT NULL DEFAULT FALSE`)
	return err
}

func (r *MigrationRunner) createBayesianStatsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ab_bayesian_stats (
			experiment_id UUID NOT NULL REFERENCES ab_experiments(id) ON DELETE CASCADE,
			variant_id UUID NOT NULL REFERENCES ab_variants(id) ON DELETE CASCADE,
			prior_alpha DOUBLE PRECISION NOT NULL DEFAULT 1 CHECK (prior_alpha > 0),
			prior_beta DOUBLE PRECISION NOT NULL DEFAULT 1 CHECK (prior_beta > 0),
			successes INTEGER NOT NULL DEFAULT 0,
			failures INTEGER NOT NULL DEFAULT 0,
			posterior_alpha DOUBLE PRECISION NOT NULL,
			posterior_beta DOUBLE PRECISION NOT NULL,
			probability_best DOUBLE PRECISION NOT NULL DEFAULT 0,
			credible_low DOUBLE PRECISION NOT NULL DEFAULT 0,
			credible_high DOUBLE PRECISION NOT NULL DEFAULT 0,
			expected_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (experiment_id, variant_id)
		)
	`)
	return err
}

func (r *MigrationRunner) createSequentialAnalysisTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ab_sequential_analysis (
			id BIGSERIAL PRIMARY KEY,
			experiment_id UUID NOT NULL REFERENCES ab_experiments(id) ON DELETE CASCADE,
			check_number INTEGER NOT NULL CHECK (check_number >= 1),
			total_checks INTEGER NOT NULL,
			sample_size INTEGER NOT NULL,
			planned_sample_size INTEGER NOT NULL,
			information_fraction DOUBLE PRECISION NOT NULL,
			alpha_spent DOUBLE PRECISION NOT NULL,
			z_statistic DOUBLE PRECISION NOT NULL,
			upper_boundary DOUBLE PRECISION NOT NULL,
			lower_boundary DOUBLE PRECISION NOT NULL,
			decision VARCHAR(20) NOT NULL CHECK (decision IN ('continue', 'stop_winner', 'stop_futile')),
			leading_variant_id UUID,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			UNIQUE (experiment_id, check_number)
		)
	`)
	return err
}

func (r *MigrationRunner) createBanditStateTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ab_bandit_state (
			experiment_id UUID NOT NULL REFERENCES ab_experiments(id) ON DELETE CASCADE,
			variant_id UUID NOT NULL REFERENCES ab_variants(id) ON DELETE CASCADE,
			variant_name VARCHAR(100) NOT NULL,
			algorithm VARCHAR(20) NOT NULL CHECK (algorithm IN ('thompson', 'ucb1', 'epsilon_greedy')),
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			mean_reward DOUBLE PRECISION NOT NULL DEFAULT 0,
			ucb_value DOUBLE PRECISION,
			initial_allocation DOUBLE PRECISION NOT NULL,
			current_allocation DOUBLE PRECISION NOT NULL,
			pulls INTEGER NOT NULL DEFAULT 0,
			cumulative_reward DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (experiment_id, variant_id)
		)
	`)
	return err
}

func (r *MigrationRunner) createBanditRegretTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ab_bandit_regret (
			id BIGSERIAL PRIMARY KEY,
			experiment_id UUID NOT NULL REFERENCES ab_experiments(id) ON DELETE CASCADE,
			total_pulls INTEGER NOT NULL,
			cumulative_regret DOUBLE PRECISION NOT NULL CHECK (cumulative_regret >= 0),
			optimal_variant_id UUID NOT NULL,
			recorded_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createPowerAnalysisTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ab_power_analysis (
			id BIGSERIAL PRIMARY KEY,
			experiment_id UUID REFERENCES ab_experiments(id) ON DELETE SET NULL,
			baseline_rate DOUBLE PRECISION NOT NULL,
			minimum_detectable_effect DOUBLE PRECISION NOT NULL,
			power DOUBLE PRECISION NOT NULL,
			significance_level DOUBLE PRECISION NOT NULL,
			daily_traffic INTEGER,
			sample_size_per_variant INTEGER NOT NULL,
			total_sample_size INTEGER NOT NULL,
			estimated_duration_days INTEGER,
			variant_count INTEGER NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_ab_experiments_tenant ON ab_experiments(tenant_id, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_ab_experiments_status ON ab_experiments(status)",
		"CREATE INDEX IF NOT EXISTS idx_ab_assignments_variant ON ab_assignments(experiment_id, variant_id)",
		"CREATE INDEX IF NOT EXISTS idx_ab_outcomes_variant ON ab_outcomes(experiment_id, variant_id, outcome)",
		"CREATE INDEX IF NOT EXISTS idx_ab_bandit_regret_experiment ON ab_bandit_regret(experiment_id, id)",
		"CREATE INDEX IF NOT EXISTS idx_ab_power_experiment ON ab_power_analysis(experiment_id)",
	}

	for _, idxSQL := range indexes {
		if _, err := db.ExecContext(ctx, idxSQL); err != nil {
			// Log but don't fail on index creation errors
			r.logger.Warn("failed to create index: %v", err)
		}
	}

	return nil
}
