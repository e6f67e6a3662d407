package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/domain/stats"
	"abstats/internal"
	"abstats/internal/migration"
	"abstats/ports"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDB connects to TEST_DATABASE_URL and applies the schema. Tests are
// skipped when the variable is unset.
func testDB(t *testing.T) *sqlx.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, url, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 2, ConnMaxLifetime: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migration.NewRunner(internal.NopLogger()).Run(ctx, db))
	return db
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// storeOutcome assigns the recipient and records a pending outcome
func storeOutcome(t *testing.T, db *sqlx.DB, expID core.ExperimentID, variantID core.VariantID, recipient string, outcome experiment.OutcomeKind) *experiment.Outcome {
	t.Helper()
	ctx := context.Background()
	rid := core.RecipientID(recipient)
	require.NoError(t, NewAssignmentRepository(db).CreateAssignment(ctx, &experiment.Assignment{
		ExperimentID: expID, VariantID: variantID, RecipientID: rid, AssignedAt: testNow,
	}))
	o := &experiment.Outcome{ExperimentID: expID, VariantID: variantID, RecipientID: rid, Outcome: outcome, RecordedAt: testNow}
	require.NoError(t, NewOutcomeRepository(db).CreateOutcome(ctx, o))
	return o
}

func createExperiment(t *testing.T, repo ports.ExperimentRepository, method experiment.Method, cfg string) *experiment.Experiment {
	t.Helper()
	in := experiment.NewExperiment{
		TenantID:      core.TenantID("tenant-" + core.NewID().String()),
		Name:          "subject line test",
		Channel:       experiment.ChannelEmail,
		Method:        method,
		SuccessMetric: "click",
		MinSampleSize: 100,
		Variants: []experiment.NewVariant{
			{Name: "A", Subject: "Hello", Content: "a", IsControl: true},
			{Name: "B", Subject: "Hi there", Content: "b"},
		},
	}
	if cfg != "" {
		in.MethodConfig = []byte(cfg)
	}
	exp, err := experiment.New(in, testNow)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), exp))
	return exp
}

func TestExperimentRepositoryRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewExperimentRepository(db)

	exp := createExperiment(t, repo, experiment.MethodBayesian, `{"prior_alpha":2,"prior_beta":3}`)

	got, err := repo.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, exp.Name, got.Name)
	assert.Equal(t, experiment.StatusDraft, got.Status)
	assert.Equal(t, []string{"A", "B"}, got.VariantNames())
	assert.Equal(t, 50.0, got.TrafficAllocation.Percent("A"))
	assert.Equal(t, 2.0, got.Bayesian().PriorAlpha)

	list, err := repo.ListByTenant(ctx, exp.TenantID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Variants, 2)

	_, err = repo.Get(ctx, core.NewExperimentID())
	assert.ErrorIs(t, err, core.ErrExperimentNotFound)
}

func TestExperimentRepositoryLifecycleAndAllocation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewExperimentRepository(db)
	exp := createExperiment(t, repo, experiment.MethodFrequentist, "")

	require.NoError(t, exp.Start(testNow.Add(time.Hour)))
	require.NoError(t, repo.UpdateLifecycle(ctx, exp))

	alloc, err := experiment.NewAllocation(map[string]float64{"A": 30, "B": 70})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateAllocation(ctx, exp.ID, alloc, testNow.Add(2*time.Hour)))

	got, err := repo.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, 70.0, got.TrafficAllocation.Percent("B"))
}

func TestVariantContentLocksAfterFirstAssignment(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewExperimentRepository(db)
	assignments := NewAssignmentRepository(db)
	exp := createExperiment(t, repo, experiment.MethodFrequentist, "")
	variantA, _ := exp.VariantByName("A")

	require.NoError(t, repo.UpdateVariantContent(ctx, exp.ID, variantA.ID, "New subject", "new"))

	err := repo.UpdateVariantContent(ctx, exp.ID, core.NewVariantID(), "x", "y")
	assert.ErrorIs(t, err, core.ErrVariantNotFound)

	require.NoError(t, assignments.CreateAssignment(ctx, &experiment.Assignment{
		ExperimentID: exp.ID, VariantID: variantA.ID, RecipientID: "r-1", AssignedAt: testNow,
	}))
	err = repo.UpdateVariantContent(ctx, exp.ID, variantA.ID, "Too late", "late")
	assert.ErrorIs(t, err, core.ErrVariantLocked)
}

func TestAssignmentsAndOutcomesAreUnique(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewExperimentRepository(db)
	assignments := NewAssignmentRepository(db)
	outcomes := NewOutcomeRepository(db)
	exp := createExperiment(t, repo, experiment.MethodFrequentist, "")
	variantA, _ := exp.VariantByName("A")
	variantB, _ := exp.VariantByName("B")

	a := &experiment.Assignment{ExperimentID: exp.ID, VariantID: variantB.ID, RecipientID: "r-1", AssignedAt: testNow}
	require.NoError(t, assignments.CreateAssignment(ctx, a))
	dup := *a
	dup.VariantID = variantA.ID
	assert.ErrorIs(t, assignments.CreateAssignment(ctx, &dup), core.ErrDuplicateAssignment)

	got, err := assignments.GetAssignment(ctx, exp.ID, "r-1")
	require.NoError(t, err)
	assert.Equal(t, variantB.ID, got.VariantID)

	_, err = assignments.GetAssignment(ctx, exp.ID, "nobody")
	assert.ErrorIs(t, err, core.ErrAssignmentNotFound)

	o := &experiment.Outcome{ExperimentID: exp.ID, VariantID: variantB.ID, RecipientID: "r-1", Outcome: experiment.OutcomeSuccess, RecordedAt: testNow}
	require.NoError(t, outcomes.CreateOutcome(ctx, o))
	assert.ErrorIs(t, outcomes.CreateOutcome(ctx, o), core.ErrDuplicateOutcome)

	stored, err := outcomes.GetOutcome(ctx, exp.ID, "r-1")
	require.NoError(t, err)
	assert.False(t, stored.Applied)
	require.NoError(t, outcomes.MarkOutcomeApplied(ctx, exp.ID, "r-1"))
	stored, err = outcomes.GetOutcome(ctx, exp.ID, "r-1")
	require.NoError(t, err)
	assert.True(t, stored.Applied)
	assert.True(t, core.IsNotFoundError(outcomes.MarkOutcomeApplied(ctx, exp.ID, "nobody")))

	counts, err := assignments.VariantCounts(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, experiment.VariantCounts{VariantID: variantA.ID}, counts[0])
	assert.Equal(t, experiment.VariantCounts{VariantID: variantB.ID, Exposures: 1, Successes: 1}, counts[1])

	n, err := assignments.CountAssignments(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIncrementPosteriorIsAtomic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	exp := createExperiment(t, NewExperimentRepository(db), experiment.MethodBayesian, "")
	repo := NewBayesianRepository(db)
	variantA, _ := exp.VariantByName("A")

	require.NoError(t, repo.SeedBayesian(ctx, []stats.BayesianStats{
		stats.NewBayesianStats(exp.ID, variantA.ID, 1, 1, testNow),
	}))
	// Seeding twice keeps the first row
	require.NoError(t, repo.SeedBayesian(ctx, []stats.BayesianStats{
		stats.NewBayesianStats(exp.ID, variantA.ID, 5, 5, testNow),
	}))

	pending := make([]*experiment.Outcome, 20)
	for i := range pending {
		outcome := experiment.OutcomeFailure
		if i%2 == 1 {
			outcome = experiment.OutcomeSuccess
		}
		pending[i] = storeOutcome(t, db, exp.ID, variantA.ID, fmt.Sprintf("r-%02d", i), outcome)
	}

	var wg sync.WaitGroup
	for _, o := range pending {
		wg.Add(1)
		go func(o *experiment.Outcome) {
			defer wg.Done()
			_, err := repo.IncrementPosterior(ctx, o, testNow)
			assert.NoError(t, err)
		}(o)
	}
	wg.Wait()

	// Applying the same outcome again changes nothing
	_, err := repo.IncrementPosterior(ctx, pending[0], testNow)
	assert.ErrorIs(t, err, core.ErrOutcomeApplied)

	rows, err := repo.ListBayesian(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 10, rows[0].Successes)
	assert.Equal(t, 10, rows[0].Failures)
	assert.Equal(t, 11.0, rows[0].PosteriorAlpha)
	assert.Equal(t, 11.0, rows[0].PosteriorBeta)

	rows[0].ProbabilityBest = 0.7
	rows[0].CredibleLow, rows[0].CredibleHigh = 0.3, 0.7
	require.NoError(t, repo.SaveDerived(ctx, rows))
	rows, err = repo.ListBayesian(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.7, rows[0].ProbabilityBest)
	assert.Equal(t, 10, rows[0].Successes)
}

func TestSequentialLogRejectsDuplicateCheck(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	exp := createExperiment(t, NewExperimentRepository(db), experiment.MethodSequential, `{"total_checks":3,"planned_sample_size":200}`)
	repo := NewSequentialRepository(db)

	row := stats.SequentialAnalysis{
		ExperimentID: exp.ID, CheckNumber: 1, TotalChecks: 3, SampleSize: 70, PlannedSampleSize: 200,
		InformationFraction: 0.35, AlphaSpent: 0.001, ZStatistic: 0.4, UpperBoundary: 3.3, LowerBoundary: -3.3,
		Decision: stats.DecisionContinue, CreatedAt: testNow,
	}
	err := repo.WithExperimentLock(ctx, exp.ID, func(ctx context.Context, store ports.SequentialStore) error {
		return store.AppendCheck(ctx, &row)
	})
	require.NoError(t, err)
	assert.NotZero(t, row.ID)

	again := row
	err = repo.WithExperimentLock(ctx, exp.ID, func(ctx context.Context, store ports.SequentialStore) error {
		return store.AppendCheck(ctx, &again)
	})
	assert.ErrorIs(t, err, core.ErrStateCorruption)

	checks, err := repo.ListChecks(ctx, exp.ID)
	require.NoError(t, err)
	assert.Len(t, checks, 1)
}

func TestSequentialLockRollsBackOnError(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	exp := createExperiment(t, NewExperimentRepository(db), experiment.MethodSequential, `{"planned_sample_size":200}`)
	repo := NewSequentialRepository(db)

	err := repo.WithExperimentLock(ctx, exp.ID, func(ctx context.Context, store ports.SequentialStore) error {
		row := stats.SequentialAnalysis{
			ExperimentID: exp.ID, CheckNumber: 1, TotalChecks: 5, PlannedSampleSize: 200,
			Decision: stats.DecisionContinue, CreatedAt: testNow,
		}
		require.NoError(t, store.AppendCheck(ctx, &row))
		return core.ErrInsufficientData
	})
	assert.ErrorIs(t, err, core.ErrInsufficientData)

	checks, err := repo.ListChecks(ctx, exp.ID)
	require.NoError(t, err)
	assert.Empty(t, checks)
}

func TestBanditRewardsAndRegret(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	exp := createExperiment(t, NewExperimentRepository(db), experiment.MethodBandit, `{"algorithm":"ucb1"}`)
	repo := NewBanditRepository(db)

	var seed []stats.BanditState
	for _, v := range exp.SortedVariants() {
		seed = append(seed, stats.BanditState{
			ExperimentID: exp.ID, VariantID: v.ID, VariantName: v.Name, Algorithm: experiment.AlgorithmUCB1,
			InitialAllocation: 0.5, CurrentAllocation: 0.5, UpdatedAt: testNow,
		})
	}
	require.NoError(t, repo.SeedBandit(ctx, seed))

	variantB, _ := exp.VariantByName("B")
	won := storeOutcome(t, db, exp.ID, variantB.ID, "r-1", experiment.OutcomeSuccess)
	arm, err := repo.ApplyReward(ctx, won, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, arm.Pulls)
	assert.Equal(t, 1.0, arm.MeanReward)
	_, err = repo.ApplyReward(ctx, won, testNow)
	assert.ErrorIs(t, err, core.ErrOutcomeApplied)
	arm, err = repo.ApplyReward(ctx, storeOutcome(t, db, exp.ID, variantB.ID, "r-2", experiment.OutcomeFailure), testNow)
	require.NoError(t, err)
	assert.Equal(t, 0.5, arm.MeanReward)
	assert.Equal(t, 1, arm.FailureCount)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.AppendRegret(ctx, exp.ID, 0.1, variantB.ID, testNow)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	series, err := repo.ListRegret(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, series, 10)
	for i := 1; i < len(series); i++ {
		assert.GreaterOrEqual(t, series[i].CumulativeRegret, series[i-1].CumulativeRegret)
	}
	assert.InDelta(t, 1.0, series[9].CumulativeRegret, 1e-9)
	assert.Equal(t, 2, series[9].TotalPulls)

	arms, err := repo.ListBandit(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, arms, 2)
	ucb := 1.2
	arms[0].CurrentAllocation, arms[1].CurrentAllocation = 0.25, 0.75
	arms[1].UCBValue = &ucb
	require.NoError(t, repo.UpdateAllocations(ctx, arms))
	arms, err = repo.ListBandit(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.75, arms[1].CurrentAllocation)
	require.NotNil(t, arms[1].UCBValue)
	assert.Nil(t, arms[0].UCBValue)
}

func TestPowerAnalysisRepository(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	exp := createExperiment(t, NewExperimentRepository(db), experiment.MethodFrequentist, "")
	repo := NewPowerRepository(db)

	traffic, days := 1000, 8
	row := &stats.PowerAnalysis{
		ExperimentID: &exp.ID, BaselineRate: 0.1, MinimumDetectableEffect: 0.2, Power: 0.8, SignificanceLevel: 0.05,
		DailyTraffic: &traffic, SampleSizePerVariant: 3841, TotalSampleSize: 7682, EstimatedDurationDays: &days,
		VariantCount: 2, CreatedAt: testNow,
	}
	require.NoError(t, repo.CreatePowerAnalysis(ctx, row))
	require.NotZero(t, row.ID)

	got, err := repo.GetPowerAnalysis(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, 3841, got.SampleSizePerVariant)
	require.NotNil(t, got.EstimatedDurationDays)
	assert.Equal(t, 8, *got.EstimatedDurationDays)

	list, err := repo.ListPowerAnalyses(ctx, exp.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = repo.GetPowerAnalysis(ctx, -1)
	assert.True(t, core.IsNotFoundError(err))
}
