package experiment

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"abstats/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAllocation(t *testing.T) {
	tests := []struct {
		name    string
		shares  map[string]float64
		wantErr bool
	}{
		{"even split", map[string]float64{"A": 50, "B": 50}, false},
		{"rounded thirds", map[string]float64{"A": 33.33, "B": 33.33, "C": 33.34}, false},
		{"short of 100", map[string]float64{"A": 40, "B": 50}, true},
		{"over 100", map[string]float64{"A": 60, "B": 50}, true},
		{"negative share", map[string]float64{"A": -10, "B": 110}, true},
		{"NaN share", map[string]float64{"A": math.NaN(), "B": 100}, true},
		{"empty", map[string]float64{}, true},
		{"single variant", map[string]float64{"A": 100}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAllocation(tt.shares)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, core.ErrInvalidAllocation), "got %v", err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestEvenAllocation(t *testing.T) {
	alloc, err := EvenAllocation([]string{"C", "A", "B"})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, alloc.Names())
	assert.Equal(t, 33.33, alloc.Percent("A"))
	assert.Equal(t, 33.33, alloc.Percent("B"))
	assert.Equal(t, 33.34, alloc.Percent("C"))
	assert.InDelta(t, 100, alloc.Sum(), AllocationEpsilon)

	_, err = EvenAllocation(nil)
	assert.ErrorIs(t, err, core.ErrInvalidAllocation)
}

func TestFromWeights(t *testing.T) {
	alloc, err := FromWeights(map[string]float64{"A": 1, "B": 1, "C": 1})
	require.NoError(t, err)
	assert.InDelta(t, 100, alloc.Sum(), 1e-9)

	alloc, err = FromWeights(map[string]float64{"A": 0.2, "B": 0.8})
	require.NoError(t, err)
	assert.Equal(t, 20.0, alloc.Percent("A"))
	assert.Equal(t, 80.0, alloc.Percent("B"))

	alloc, err = FromWeights(map[string]float64{"A": 0, "B": 0})
	require.NoError(t, err)
	assert.Equal(t, 50.0, alloc.Percent("A"))

	_, err = FromWeights(map[string]float64{"A": -1, "B": 2})
	assert.ErrorIs(t, err, core.ErrInvalidAllocation)
}

func TestAllocationPick(t *testing.T) {
	alloc, err := NewAllocation(map[string]float64{"B": 30, "A": 70})
	require.NoError(t, err)

	tests := []struct {
		draw float64
		want string
	}{
		{0, "A"},
		{69.99, "A"},
		{70, "B"},
		{99.999, "B"},
	}
	for _, tt := range tests {
		got, err := alloc.Pick(tt.draw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "draw %v", tt.draw)
	}

	_, err = alloc.Pick(100)
	assert.Error(t, err)
	_, err = alloc.Pick(-0.1)
	assert.Error(t, err)
}

func TestAllocationPickSkipsZeroShares(t *testing.T) {
	alloc, err := NewAllocation(map[string]float64{"A": 0, "B": 100})
	require.NoError(t, err)

	for _, draw := range []float64{0, 50, 99.9} {
		got, err := alloc.Pick(draw)
		require.NoError(t, err)
		assert.Equal(t, "B", got)
	}
}

func TestAllocationMatchesVariants(t *testing.T) {
	alloc, err := NewAllocation(map[string]float64{"A": 50, "B": 50})
	require.NoError(t, err)

	assert.NoError(t, alloc.MatchesVariants([]string{"B", "A"}))
	assert.ErrorIs(t, alloc.MatchesVariants([]string{"A", "C"}), core.ErrInvalidAllocation)
	assert.ErrorIs(t, alloc.MatchesVariants([]string{"A"}), core.ErrInvalidAllocation)
}

func TestAllocationJSON(t *testing.T) {
	alloc, err := NewAllocation(map[string]float64{"A": 25, "B": 75})
	require.NoError(t, err)

	data, err := json.Marshal(alloc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"A":25,"B":75}`, string(data))

	// Stored rows are loaded without validation and rejected later
	var restored Allocation
	require.NoError(t, json.Unmarshal([]byte(`{"A":10,"B":10}`), &restored))
	assert.Equal(t, 2, restored.Len())
	assert.ErrorIs(t, restored.Validate(), core.ErrInvalidAllocation)
}
