package experiment

import (
	"encoding/json"
	"fmt"

	"abstats/domain/core"

	"github.com/tidwall/gjson"
)

// MethodConfig is the tagged union stored in ab_experiments.method_config.
// The concrete type always matches the experiment's statistical method.
type MethodConfig interface {
	Method() Method
	validate() error
}

// BanditAlgorithm selects the bandit policy
type BanditAlgorithm string

const (
	AlgorithmThompson      BanditAlgorithm = "thompson"
	AlgorithmUCB1          BanditAlgorithm = "ucb1"
	AlgorithmEpsilonGreedy BanditAlgorithm = "epsilon_greedy"
)

// Defaults applied when a method config omits a field
const (
	DefaultPriorAlpha  = 1.0
	DefaultPriorBeta   = 1.0
	DefaultDraws       = 10000
	DefaultTotalChecks = 5
	DefaultEpsilon     = 0.1
)

// Bounds on Monte Carlo draws per variant
const (
	MinDraws = 100
	MaxDraws = 1000000
)

// FrequentistConfig has no tunables; the confidence level lives on the experiment
type FrequentistConfig struct {
	Type Method `json:"type"`
}

// BayesianConfig holds the Beta prior and the Monte Carlo budget
type BayesianConfig struct {
	Type       Method  `json:"type"`
	PriorAlpha float64 `json:"prior_alpha"`
	PriorBeta  float64 `json:"prior_beta"`
	Draws      int     `json:"draws"`
}

// SequentialConfig holds the group-sequential plan
type SequentialConfig struct {
	Type              Method  `json:"type"`
	TotalChecks       int     `json:"total_checks"`
	PlannedSampleSize int     `json:"planned_sample_size"`
	Alpha             float64 `json:"alpha"`
}

// BanditConfig selects the allocation policy
type BanditConfig struct {
	Type      Method          `json:"type"`
	Algorithm BanditAlgorithm `json:"algorithm"`
	Epsilon   float64         `json:"epsilon"`
}

func (FrequentistConfig) Method() Method { return MethodFrequentist }
func (BayesianConfig) Method() Method    { return MethodBayesian }
func (SequentialConfig) Method() Method  { return MethodSequential }
func (BanditConfig) Method() Method      { return MethodBandit }

func (FrequentistConfig) validate() error { return nil }

func (c BayesianConfig) validate() error {
	if c.PriorAlpha <= 0 || c.PriorBeta <= 0 {
		return core.NewValidationError("method_config.prior", "alpha and beta must be positive")
	}
	if c.Draws < MinDraws || c.Draws > MaxDraws {
		return core.NewValidationError("method_config.draws", fmt.Sprintf("must be between %d and %d", MinDraws, MaxDraws))
	}
	return nil
}

func (c SequentialConfig) validate() error {
	if c.TotalChecks < 1 {
		return core.NewValidationError("method_config.total_checks", "must be at least 1")
	}
	if c.PlannedSampleSize < 0 {
		return core.NewValidationError("method_config.planned_sample_size", "must not be negative")
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return core.NewValidationError("method_config.alpha", "must be in (0,1)")
	}
	return nil
}

func (c BanditConfig) validate() error {
	switch c.Algorithm {
	case AlgorithmThompson, AlgorithmUCB1:
	case AlgorithmEpsilonGreedy:
		if c.Epsilon <= 0 || c.Epsilon >= 1 {
			return core.NewValidationError("method_config.epsilon", "must be in (0,1)")
		}
	default:
		return core.NewValidationError("method_config.algorithm", fmt.Sprintf("unknown algorithm %q", c.Algorithm))
	}
	return nil
}

// ParseMethodConfig decodes raw JSON into the concrete config for method. An
// empty payload yields the defaults. The "type" discriminator, when present,
// must equal method.
func ParseMethodConfig(method Method, raw []byte, confidenceLevel float64) (MethodConfig, error) {
	if len(raw) > 0 && string(raw) != "null" {
		if !gjson.ValidBytes(raw) {
			return nil, core.NewValidationError("method_config", "not valid JSON")
		}
		if tag := gjson.GetBytes(raw, "type"); tag.Exists() && tag.String() != string(method) {
			return nil, core.NewValidationError("method_config.type",
				fmt.Sprintf("%q does not match statistical_method %q", tag.String(), method))
		}
	} else {
		raw = nil
	}

	var cfg MethodConfig
	switch method {
	case MethodFrequentist:
		cfg = FrequentistConfig{Type: method}
	case MethodBayesian:
		c := BayesianConfig{PriorAlpha: DefaultPriorAlpha, PriorBeta: DefaultPriorBeta, Draws: DefaultDraws}
		if err := decodeInto(raw, &c); err != nil {
			return nil, err
		}
		c.Type = method
		cfg = c
	case MethodSequential:
		c := SequentialConfig{TotalChecks: DefaultTotalChecks, Alpha: 1 - confidenceLevel}
		if err := decodeInto(raw, &c); err != nil {
			return nil, err
		}
		c.Type = method
		cfg = c
	case MethodBandit:
		c := BanditConfig{Algorithm: AlgorithmThompson, Epsilon: DefaultEpsilon}
		if err := decodeInto(raw, &c); err != nil {
			return nil, err
		}
		c.Type = method
		cfg = c
	default:
		return nil, core.NewValidationError("statistical_method", fmt.Sprintf("unknown method %q", method))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(raw []byte, dst any) error {
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return core.NewValidationError("method_config", err.Error())
	}
	return nil
}

// Bayesian returns the experiment's Bayesian config, or defaults when the
// experiment uses another method.
func (e *Experiment) Bayesian() BayesianConfig {
	if c, ok := e.MethodConfig.(BayesianConfig); ok {
		return c
	}
	return BayesianConfig{Type: MethodBayesian, PriorAlpha: DefaultPriorAlpha, PriorBeta: DefaultPriorBeta, Draws: DefaultDraws}
}

// Sequential returns the experiment's sequential plan
func (e *Experiment) Sequential() (SequentialConfig, bool) {
	c, ok := e.MethodConfig.(SequentialConfig)
	return c, ok
}

// Bandit returns the experiment's bandit policy
func (e *Experiment) Bandit() (BanditConfig, bool) {
	c, ok := e.MethodConfig.(BanditConfig)
	return c, ok
}

// MarshalMethodConfig encodes a config for storage
func MarshalMethodConfig(cfg MethodConfig) ([]byte, error) {
	if cfg == nil {
		return []byte("null"), nil
	}
	return json.Marshal(cfg)
}

// UnmarshalJSON decodes an experiment, resolving method_config against the
// statistical_method of the same document.
func (e *Experiment) UnmarshalJSON(data []byte) error {
	type plain Experiment
	var aux struct {
		plain
		MethodConfig json.RawMessage `json:"method_config"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	cfg, err := ParseMethodConfig(aux.Method, aux.MethodConfig, aux.ConfidenceLevel)
	if err != nil {
		return err
	}
	*e = Experiment(aux.plain)
	e.MethodConfig = cfg
	return nil
}
