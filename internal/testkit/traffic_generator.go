package testkit

import (
	"fmt"
	"math/rand/v2"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
)

// TrafficGeneratorConfig configures the synthetic recipient stream
type TrafficGeneratorConfig struct {
	RecipientCount int                `json:"recipient_count"`
	TrueRates      map[string]float64 `json:"true_rates"`
	StartDate      time.Time          `json:"start_date"`
	Interval       time.Duration      `json:"interval"`
	Seed           uint64             `json:"seed"`
}

// DefaultTrafficConfig returns a two-arm stream where B converts 20% better
func DefaultTrafficConfig() TrafficGeneratorConfig {
	return TrafficGeneratorConfig{
		RecipientCount: 1000,
		TrueRates:      map[string]float64{"A": 0.10, "B": 0.12},
		StartDate:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Interval:       time.Minute,
		Seed:           42,
	}
}

// Visit is one recipient arriving at the experiment
type Visit struct {
	RecipientID core.RecipientID
	ArrivedAt   time.Time
}

// TrafficGenerator produces recipients and Bernoulli conversions per variant
type TrafficGenerator struct {
	config TrafficGeneratorConfig
	rng    *rand.Rand
}

// NewTrafficGenerator creates a new traffic generator
func NewTrafficGenerator(config TrafficGeneratorConfig) *TrafficGenerator {
	return &TrafficGenerator{
		config: config,
		rng:    rand.New(rand.NewPCG(config.Seed, core.Uint64("traffic"))),
	}
}

// Visits returns the recipients in arrival order
func (g *TrafficGenerator) Visits() []Visit {
	visits := make([]Visit, g.config.RecipientCount)
	at := g.config.StartDate
	for i := range visits {
		visits[i] = Visit{
			RecipientID: core.RecipientID(fmt.Sprintf("recipient_%05d", i+1)),
			ArrivedAt:   at,
		}
		at = at.Add(g.config.Interval)
	}
	return visits
}

// Outcome draws whether a recipient shown variant converts
func (g *TrafficGenerator) Outcome(variant string) experiment.OutcomeKind {
	if g.rng.Float64() < g.config.TrueRates[variant] {
		return experiment.OutcomeSuccess
	}
	return experiment.OutcomeFailure
}

// BestRate returns the highest true conversion rate
func (g *TrafficGenerator) BestRate() float64 {
	best := 0.0
	for _, r := range g.config.TrueRates {
		if r > best {
			best = r
		}
	}
	return best
}
