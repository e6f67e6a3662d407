package analysis

import (
	"testing"

	"abstats/domain/core"
	"abstats/domain/stats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleSizeReference(t *testing.T) {
	traffic := 1000
	res, err := NewPower().SampleSize(stats.PowerInput{
		BaselineRate:            0.10,
		MinimumDetectableEffect: 0.20,
		Power:                   0.80,
		SignificanceLevel:       0.05,
		VariantCount:            2,
		DailyTraffic:            &traffic,
	})
	require.NoError(t, err)

	assert.Equal(t, 3841, res.SampleSizePerVariant)
	assert.Equal(t, 7682, res.TotalSampleSize)
	require.NotNil(t, res.EstimatedDurationDays)
	assert.Equal(t, 8, *res.EstimatedDurationDays)
}

func TestSampleSizeMonotonic(t *testing.T) {
	p := NewPower()
	base := stats.PowerInput{BaselineRate: 0.1, MinimumDetectableEffect: 0.2, Power: 0.8, SignificanceLevel: 0.05, VariantCount: 2}

	ref, err := p.SampleSize(base)
	require.NoError(t, err)

	morePower := base
	morePower.Power = 0.9
	res, err := p.SampleSize(morePower)
	require.NoError(t, err)
	assert.Greater(t, res.SampleSizePerVariant, ref.SampleSizePerVariant)

	biggerEffect := base
	biggerEffect.MinimumDetectableEffect = 0.5
	res, err = p.SampleSize(biggerEffect)
	require.NoError(t, err)
	assert.Less(t, res.SampleSizePerVariant, ref.SampleSizePerVariant)
	assert.Nil(t, res.EstimatedDurationDays)

	threeArms := base
	threeArms.VariantCount = 3
	res, err = p.SampleSize(threeArms)
	require.NoError(t, err)
	assert.Equal(t, 3*ref.SampleSizePerVariant, res.TotalSampleSize)
}

func TestSampleSizeValidation(t *testing.T) {
	zero := 0
	base := stats.PowerInput{BaselineRate: 0.1, MinimumDetectableEffect: 0.2, Power: 0.8, SignificanceLevel: 0.05, VariantCount: 2}

	tests := []struct {
		name   string
		mutate func(*stats.PowerInput)
		want   error
	}{
		{"baseline zero", func(in *stats.PowerInput) { in.BaselineRate = 0 }, nil},
		{"baseline one", func(in *stats.PowerInput) { in.BaselineRate = 1 }, nil},
		{"no effect", func(in *stats.PowerInput) { in.MinimumDetectableEffect = 0 }, nil},
		{"target above one", func(in *stats.PowerInput) { in.BaselineRate = 0.6; in.MinimumDetectableEffect = 1 }, nil},
		{"power one", func(in *stats.PowerInput) { in.Power = 1 }, nil},
		{"alpha zero", func(in *stats.PowerInput) { in.SignificanceLevel = 0 }, nil},
		{"single variant", func(in *stats.PowerInput) { in.VariantCount = 1 }, nil},
		{"zero traffic", func(in *stats.PowerInput) { in.DailyTraffic = &zero }, nil},
		{"effect too small", func(in *stats.PowerInput) { in.BaselineRate = 0.5; in.MinimumDetectableEffect = 1e-10 }, core.ErrStatisticalComputation},
		{"total too large", func(in *stats.PowerInput) { in.MinimumDetectableEffect = 0.001; in.VariantCount = 1000 }, core.ErrStatisticalComputation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			want := tt.want
			if want == nil {
				want = core.ErrInvalidInput
			}
			res, err := NewPower().SampleSize(in)
			assert.ErrorIs(t, err, want)
			assert.Nil(t, res)
		})
	}
}
