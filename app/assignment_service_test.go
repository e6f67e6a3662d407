package app

import (
	"context"
	"fmt"
	"testing"

	"abstats/adapters/memory"
	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/internal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignIsIdempotent(t *testing.T) {
	h := newHarness(t, 11)
	ctx := context.Background()
	exp := h.running(t, input(experiment.MethodFrequentist, "", "A", "B", "C"))

	first, err := h.assignments.Assign(ctx, exp.ID, "recipient-1")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := h.assignments.Assign(ctx, exp.ID, "recipient-1")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	n, err := h.kit.Store.CountAssignments(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAssignSplitsTrafficEvenly(t *testing.T) {
	h := newHarness(t, 7)
	ctx := context.Background()
	exp := h.running(t, input(experiment.MethodFrequentist, "", "A", "B"))

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		id, err := h.assignments.Assign(ctx, exp.ID, core.RecipientID(fmt.Sprintf("r-%d", i)))
		require.NoError(t, err)
		counts[variantName(t, exp, id)]++
	}

	assert.Equal(t, 1000, counts["A"]+counts["B"])
	assert.InDelta(t, 500, counts["A"], 50)
}

func TestAssignHonoursSkewedAllocation(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	in := input(experiment.MethodFrequentist, "", "A", "B")
	in.Allocation = map[string]float64{"A": 100, "B": 0}
	exp := h.running(t, in)

	for i := 0; i < 50; i++ {
		id, err := h.assignments.Assign(ctx, exp.ID, core.RecipientID(fmt.Sprintf("r-%d", i)))
		require.NoError(t, err)
		assert.Equal(t, "A", variantName(t, exp, id))
	}
}

func TestAssignRequiresRunning(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	draft, err := h.registry.Create(ctx, input(experiment.MethodFrequentist, "", "A", "B"))
	require.NoError(t, err)
	_, err = h.assignments.Assign(ctx, draft.ID, "recipient-1")
	assert.ErrorIs(t, err, core.ErrExperimentNotRunning)

	exp := h.running(t, input(experiment.MethodFrequentist, "", "A", "B"))
	first, err := h.assignments.Assign(ctx, exp.ID, "recipient-1")
	require.NoError(t, err)
	_, err = h.registry.Pause(ctx, exp.ID)
	require.NoError(t, err)

	// existing assignments still resolve while paused
	again, err := h.assignments.Assign(ctx, exp.ID, "recipient-1")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	_, err = h.assignments.Assign(ctx, exp.ID, "recipient-2")
	assert.ErrorIs(t, err, core.ErrExperimentNotRunning)
}

// racingStore lets a competing writer win every insert
type racingStore struct {
	*memory.Store
	winner core.VariantID
}

func (r *racingStore) CreateAssignment(ctx context.Context, a *experiment.Assignment) error {
	competing := *a
	competing.VariantID = r.winner
	if err := r.Store.CreateAssignment(ctx, &competing); err != nil {
		return err
	}
	return core.ErrDuplicateAssignment
}

func TestAssignRecoversFromInsertRace(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	in := input(experiment.MethodFrequentist, "", "A", "B")
	in.Allocation = map[string]float64{"A": 100, "B": 0}
	exp := h.running(t, in)
	b, _ := exp.VariantByName("B")

	racing := &racingStore{Store: h.kit.Store, winner: b.ID}
	svc := NewAssignmentService(h.kit.Store, racing, h.bandit, h.kit.RNG, internal.NopLogger(), h.kit.Clock.Now)

	got, err := svc.Assign(ctx, exp.ID, "recipient-1")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got)
}
