package experiment

import (
	"encoding/json"
	"testing"

	"abstats/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethodConfigDefaults(t *testing.T) {
	cfg, err := ParseMethodConfig(MethodBayesian, nil, 0.95)
	require.NoError(t, err)
	bayes, ok := cfg.(BayesianConfig)
	require.True(t, ok)
	assert.Equal(t, DefaultPriorAlpha, bayes.PriorAlpha)
	assert.Equal(t, DefaultPriorBeta, bayes.PriorBeta)
	assert.Equal(t, DefaultDraws, bayes.Draws)

	cfg, err = ParseMethodConfig(MethodBandit, []byte("null"), 0.95)
	require.NoError(t, err)
	bandit, ok := cfg.(BanditConfig)
	require.True(t, ok)
	assert.Equal(t, AlgorithmThompson, bandit.Algorithm)

	cfg, err = ParseMethodConfig(MethodSequential, []byte(`{"planned_sample_size":1000}`), 0.9)
	require.NoError(t, err)
	seq, ok := cfg.(SequentialConfig)
	require.True(t, ok)
	assert.Equal(t, DefaultTotalChecks, seq.TotalChecks)
	assert.InDelta(t, 0.1, seq.Alpha, 1e-12)
	assert.Equal(t, 1000, seq.PlannedSampleSize)
}

func TestParseMethodConfigOverrides(t *testing.T) {
	cfg, err := ParseMethodConfig(MethodBandit, []byte(`{"type":"bandit","algorithm":"epsilon_greedy","epsilon":0.2}`), 0.95)
	require.NoError(t, err)
	bandit := cfg.(BanditConfig)
	assert.Equal(t, AlgorithmEpsilonGreedy, bandit.Algorithm)
	assert.Equal(t, 0.2, bandit.Epsilon)
	assert.Equal(t, MethodBandit, bandit.Type)

	cfg, err = ParseMethodConfig(MethodBayesian, []byte(`{"prior_alpha":2,"prior_beta":8,"draws":5000}`), 0.95)
	require.NoError(t, err)
	bayes := cfg.(BayesianConfig)
	assert.Equal(t, 2.0, bayes.PriorAlpha)
	assert.Equal(t, 8.0, bayes.PriorBeta)
	assert.Equal(t, 5000, bayes.Draws)
}

func TestParseMethodConfigRejects(t *testing.T) {
	tests := []struct {
		name   string
		method Method
		raw    string
	}{
		{"tag mismatch", MethodBayesian, `{"type":"sequential"}`},
		{"malformed json", MethodBayesian, `{"prior_alpha":`},
		{"wrong field type", MethodBayesian, `{"prior_alpha":"high"}`},
		{"non-positive prior", MethodBayesian, `{"prior_alpha":0}`},
		{"too few draws", MethodBayesian, `{"draws":10}`},
		{"too many draws", MethodBayesian, `{"draws":2000000000}`},
		{"zero checks", MethodSequential, `{"total_checks":0}`},
		{"alpha out of range", MethodSequential, `{"alpha":1.5}`},
		{"unknown algorithm", MethodBandit, `{"algorithm":"exp3"}`},
		{"epsilon out of range", MethodBandit, `{"algorithm":"epsilon_greedy","epsilon":1}`},
		{"unknown method", Method("anova"), ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMethodConfig(tt.method, []byte(tt.raw), 0.95)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrInvalidInput)
		})
	}
}

func TestMethodConfigRoundTrip(t *testing.T) {
	cfg, err := ParseMethodConfig(MethodSequential, []byte(`{"total_checks":4,"planned_sample_size":800}`), 0.95)
	require.NoError(t, err)

	data, err := MarshalMethodConfig(cfg)
	require.NoError(t, err)

	again, err := ParseMethodConfig(MethodSequential, data, 0.5)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestExperimentConfigAccessors(t *testing.T) {
	exp := &Experiment{Method: MethodFrequentist, MethodConfig: FrequentistConfig{Type: MethodFrequentist}}

	_, ok := exp.Sequential()
	assert.False(t, ok)
	_, ok = exp.Bandit()
	assert.False(t, ok)
	assert.Equal(t, DefaultDraws, exp.Bayesian().Draws)
}

func TestExperimentJSONRoundTrip(t *testing.T) {
	in := twoArmInput()
	in.Method = MethodBandit
	in.MethodConfig = json.RawMessage(`{"algorithm":"ucb1"}`)
	exp, err := New(in, fixedNow)
	require.NoError(t, err)

	data, err := json.Marshal(exp)
	require.NoError(t, err)

	var decoded Experiment
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, exp.ID, decoded.ID)
	assert.Equal(t, exp.TrafficAllocation.Map(), decoded.TrafficAllocation.Map())
	cfg, ok := decoded.Bandit()
	require.True(t, ok)
	assert.Equal(t, AlgorithmUCB1, cfg.Algorithm)
	assert.Len(t, decoded.Variants, 2)
}
