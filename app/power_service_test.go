package app

import (
	"context"
	"testing"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/domain/stats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPowerCalculateStoresRow(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	traffic := 1000

	row, err := h.power.Calculate(ctx, stats.PowerInput{
		BaselineRate:            0.10,
		MinimumDetectableEffect: 0.20,
		Power:                   0.80,
		SignificanceLevel:       0.05,
		DailyTraffic:            &traffic,
		VariantCount:            2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3841, row.SampleSizePerVariant)
	assert.Equal(t, 7682, row.TotalSampleSize)
	require.NotNil(t, row.EstimatedDurationDays)
	assert.Equal(t, 8, *row.EstimatedDurationDays)
	assert.NotZero(t, row.ID)

	again, err := h.power.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, row.SampleSizePerVariant, again.SampleSizePerVariant)
}

func TestPowerCalculateForExperiment(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	exp, err := h.registry.Create(ctx, input(experiment.MethodFrequentist, "", "A", "B", "C"))
	require.NoError(t, err)

	in := stats.PowerInput{
		ExperimentID:            &exp.ID,
		BaselineRate:            0.10,
		MinimumDetectableEffect: 0.20,
		Power:                   0.80,
		SignificanceLevel:       0.05,
	}
	first, err := h.power.Calculate(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 3, first.VariantCount)
	assert.Equal(t, 3*3841, first.TotalSampleSize)
	assert.Nil(t, first.EstimatedDurationDays)

	second, err := h.power.Calculate(ctx, in)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	rows, err := h.power.List(ctx, exp.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	missing := core.NewExperimentID()
	in.ExperimentID = &missing
	_, err = h.power.Calculate(ctx, in)
	assert.True(t, core.IsNotFoundError(err))
}

func TestPowerCalculateRejectsBadInput(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.power.Calculate(context.Background(), stats.PowerInput{
		BaselineRate:            0.9,
		MinimumDetectableEffect: 0.5,
		Power:                   0.8,
		SignificanceLevel:       0.05,
		VariantCount:            2,
	})
	assert.True(t, core.IsValidationError(err))
}
