package app

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/internal"
	"abstats/internal/config"
	"abstats/internal/testkit"

	"github.com/stretchr/testify/require"
)

type harness struct {
	kit         *testkit.TestKit
	registry    *RegistryService
	assignments *AssignmentService
	bayesian    *BayesianService
	sequential  *SequentialService
	bandit      *BanditService
	frequentist *FrequentistService
	power       *PowerService
	events      *EventService
	reports     *ReportService

	recipients int
}

func newHarness(t *testing.T, seed uint64) *harness {
	t.Helper()
	kit := testkit.NewTestKit(seed)
	store := kit.Store
	logger := internal.NopLogger()
	engine := config.DefaultEngineConfig()
	now := kit.Clock.Now

	h := &harness{kit: kit}
	h.registry = NewRegistryService(store, store, store, logger, now)
	h.bandit = NewBanditService(engine, store, store, kit.RNG, logger, now)
	h.assignments = NewAssignmentService(store, store, h.bandit, kit.RNG, logger, now)
	h.bayesian = NewBayesianService(engine, store, store, kit.RNG, logger, now)
	h.sequential = NewSequentialService(store, store, store, logger, now)
	h.frequentist = NewFrequentistService(store, store)
	h.power = NewPowerService(store, store, now)
	h.events = NewEventService(store, store, store, h.assignments, h.bayesian, h.sequential, h.bandit, logger, now)
	h.reports = NewReportService(store, h.frequentist, store, h.sequential, store, store, now)
	return h
}

// input builds an experiment over the named variants with method_config
// given as a JSON object literal (empty for defaults)
func input(method experiment.Method, methodConfig string, names ...string) experiment.NewExperiment {
	in := experiment.NewExperiment{
		TenantID:      "tenant-1",
		Name:          fmt.Sprintf("%s experiment", method),
		Channel:       experiment.ChannelEmail,
		Method:        method,
		SuccessMetric: "click",
		MinSampleSize: 100,
	}
	if methodConfig != "" {
		in.MethodConfig = json.RawMessage(methodConfig)
	}
	for _, n := range names {
		in.Variants = append(in.Variants, experiment.NewVariant{Name: n, Subject: "Subject " + n})
	}
	return in
}

func (h *harness) running(t *testing.T, in experiment.NewExperiment) *experiment.Experiment {
	t.Helper()
	ctx := context.Background()
	exp, err := h.registry.Create(ctx, in)
	require.NoError(t, err)
	exp, err = h.registry.Start(ctx, exp.ID)
	require.NoError(t, err)
	return exp
}

// seedTraffic writes exposures for one variant directly to the store, the
// first successes of them converting and the rest failing
func (h *harness) seedTraffic(t *testing.T, exp *experiment.Experiment, name string, exposures, successes int) {
	t.Helper()
	ctx := context.Background()
	v, ok := exp.VariantByName(name)
	require.True(t, ok, name)
	for i := 0; i < exposures; i++ {
		rid := core.RecipientID(fmt.Sprintf("%s-%04d", name, i))
		require.NoError(t, h.kit.Store.CreateAssignment(ctx, &experiment.Assignment{
			ExperimentID: exp.ID, VariantID: v.ID, RecipientID: rid, AssignedAt: h.kit.Clock.Now(),
		}))
		outcome := experiment.OutcomeFailure
		if i < successes {
			outcome = experiment.OutcomeSuccess
		}
		require.NoError(t, h.kit.Store.CreateOutcome(ctx, &experiment.Outcome{
			ExperimentID: exp.ID, VariantID: v.ID, RecipientID: rid, Outcome: outcome, RecordedAt: h.kit.Clock.Now(),
		}))
	}
}

// pending assigns a fresh recipient to the variant and stores an outcome
// that has not been folded into any method state yet
func (h *harness) pending(t *testing.T, exp *experiment.Experiment, variantID core.VariantID, outcome experiment.OutcomeKind) *experiment.Outcome {
	t.Helper()
	ctx := context.Background()
	h.recipients++
	rid := core.RecipientID(fmt.Sprintf("pending-%05d", h.recipients))
	require.NoError(t, h.kit.Store.CreateAssignment(ctx, &experiment.Assignment{
		ExperimentID: exp.ID, VariantID: variantID, RecipientID: rid, AssignedAt: h.kit.Clock.Now(),
	}))
	o := &experiment.Outcome{
		ExperimentID: exp.ID, VariantID: variantID, RecipientID: rid, Outcome: outcome, RecordedAt: h.kit.Clock.Now(),
	}
	require.NoError(t, h.kit.Store.CreateOutcome(ctx, o))
	return o
}

func variantName(t *testing.T, exp *experiment.Experiment, id core.VariantID) string {
	t.Helper()
	v, ok := exp.VariantByID(id)
	require.True(t, ok, id)
	return v.Name
}
