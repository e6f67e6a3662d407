package experiment

import (
	"encoding/json"
	"testing"
	"time"

	"abstats/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func twoArmInput() NewExperiment {
	return NewExperiment{
		TenantID:      "tenant-1",
		Name:          "Subject line test",
		Channel:       ChannelEmail,
		Method:        MethodFrequentist,
		SuccessMetric: "click",
		MinSampleSize: 100,
		Variants: []NewVariant{
			{Name: "A", Subject: "Hello"},
			{Name: "B", Subject: "Hi there"},
		},
	}
}

func TestNewExperimentDefaults(t *testing.T) {
	exp, err := New(twoArmInput(), fixedNow)
	require.NoError(t, err)

	assert.Equal(t, StatusDraft, exp.Status)
	assert.Equal(t, DefaultConfidenceLevel, exp.ConfidenceLevel)
	assert.Equal(t, 50.0, exp.TrafficAllocation.Percent("A"))
	assert.Equal(t, 50.0, exp.TrafficAllocation.Percent("B"))
	assert.Equal(t, MethodFrequentist, exp.MethodConfig.Method())

	control, ok := exp.Control()
	require.True(t, ok)
	assert.Equal(t, "A", control.Name)
	for _, v := range exp.Variants {
		assert.Equal(t, exp.ID, v.ExperimentID)
		assert.False(t, v.ID.String() == "")
	}
}

func TestNewExperimentValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NewExperiment)
	}{
		{"empty name", func(in *NewExperiment) { in.Name = "  " }},
		{"unknown channel", func(in *NewExperiment) { in.Channel = "fax" }},
		{"unknown method", func(in *NewExperiment) { in.Method = "magic" }},
		{"confidence too high", func(in *NewExperiment) { in.ConfidenceLevel = 1 }},
		{"no variants", func(in *NewExperiment) { in.Variants = nil }},
		{"duplicate variant", func(in *NewExperiment) { in.Variants[1].Name = "A" }},
		{"two controls", func(in *NewExperiment) {
			in.Variants[0].IsControl = true
			in.Variants[1].IsControl = true
		}},
		{"allocation short", func(in *NewExperiment) { in.Allocation = map[string]float64{"A": 40, "B": 40} }},
		{"allocation wrong names", func(in *NewExperiment) { in.Allocation = map[string]float64{"A": 50, "C": 50} }},
		{"mismatched config tag", func(in *NewExperiment) {
			in.MethodConfig = json.RawMessage(`{"type":"bandit"}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := twoArmInput()
			tt.mutate(&in)
			_, err := New(in, fixedNow)
			require.Error(t, err)
			assert.True(t, core.IsValidationError(err), "got %v", err)
		})
	}
}

func TestNewSequentialExperimentPlannedSize(t *testing.T) {
	in := twoArmInput()
	in.Method = MethodSequential
	exp, err := New(in, fixedNow)
	require.NoError(t, err)

	seq, ok := exp.Sequential()
	require.True(t, ok)
	assert.Equal(t, 200, seq.PlannedSampleSize)
	assert.InDelta(t, 0.05, seq.Alpha, 1e-12)

	in.MinSampleSize = 0
	_, err = New(in, fixedNow)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestLifecycleTransitions(t *testing.T) {
	exp, err := New(twoArmInput(), fixedNow)
	require.NoError(t, err)

	later := fixedNow.Add(time.Hour)

	assert.ErrorIs(t, exp.Pause(later), core.ErrInvalidTransition)
	assert.ErrorIs(t, exp.Complete(nil, later), core.ErrInvalidTransition)

	require.NoError(t, exp.Start(later))
	assert.Equal(t, StatusRunning, exp.Status)
	require.NotNil(t, exp.StartedAt)
	assert.True(t, exp.AcceptsTraffic())
	assert.ErrorIs(t, exp.Start(later), core.ErrInvalidTransition)

	require.NoError(t, exp.Pause(later))
	assert.False(t, exp.AcceptsTraffic())
	require.NoError(t, exp.Resume(later))

	winner := exp.Variants[1].ID
	require.NoError(t, exp.Complete(&winner, later))
	assert.Equal(t, StatusCompleted, exp.Status)
	assert.Equal(t, &winner, exp.WinningVariantID)
	require.NotNil(t, exp.EndedAt)

	assert.ErrorIs(t, exp.Resume(later), core.ErrInvalidTransition)
}

func TestCompleteRejectsForeignWinner(t *testing.T) {
	exp, err := New(twoArmInput(), fixedNow)
	require.NoError(t, err)
	require.NoError(t, exp.Start(fixedNow))

	stranger := core.NewVariantID()
	assert.ErrorIs(t, exp.Complete(&stranger, fixedNow), core.ErrVariantNotFound)
	assert.Equal(t, StatusRunning, exp.Status)
}

func TestStartRejectsCorruptAllocation(t *testing.T) {
	exp, err := New(twoArmInput(), fixedNow)
	require.NoError(t, err)

	exp.TrafficAllocation = RestoreAllocation(map[string]float64{"A": 30, "B": 30})
	assert.ErrorIs(t, exp.Start(fixedNow), core.ErrInvalidAllocation)
	assert.Equal(t, StatusDraft, exp.Status)
}

func TestSetAllocation(t *testing.T) {
	exp, err := New(twoArmInput(), fixedNow)
	require.NoError(t, err)

	alloc, err := NewAllocation(map[string]float64{"A": 20, "B": 80})
	require.NoError(t, err)
	require.NoError(t, exp.SetAllocation(alloc, false, fixedNow))
	assert.Equal(t, 80.0, exp.TrafficAllocation.Percent("B"))

	require.NoError(t, exp.Start(fixedNow))
	assert.ErrorIs(t, exp.SetAllocation(alloc, false, fixedNow), core.ErrInvalidTransition)
	assert.NoError(t, exp.SetAllocation(alloc, true, fixedNow))

	bad, err := NewAllocation(map[string]float64{"A": 50, "C": 50})
	require.NoError(t, err)
	assert.ErrorIs(t, exp.SetAllocation(bad, true, fixedNow), core.ErrInvalidAllocation)
}
