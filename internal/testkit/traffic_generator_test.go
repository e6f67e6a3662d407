package testkit

import (
	"context"
	"testing"

	"abstats/domain/experiment"
)

func TestTrafficGenerator_Visits(t *testing.T) {
	config := DefaultTrafficConfig()
	config.RecipientCount = 10

	visits := NewTrafficGenerator(config).Visits()
	if len(visits) != 10 {
		t.Fatalf("Expected 10 visits, got %d", len(visits))
	}

	seen := make(map[string]bool)
	for i, v := range visits {
		if seen[v.RecipientID.String()] {
			t.Errorf("Duplicate recipient %s", v.RecipientID)
		}
		seen[v.RecipientID.String()] = true
		if i > 0 && !v.ArrivedAt.After(visits[i-1].ArrivedAt) {
			t.Errorf("Visit %d does not arrive after visit %d", i, i-1)
		}
	}
}

func TestTrafficGenerator_ConversionRate(t *testing.T) {
	config := DefaultTrafficConfig()
	config.TrueRates = map[string]float64{"A": 0.3}
	generator := NewTrafficGenerator(config)

	const n = 20000
	successes := 0
	for i := 0; i < n; i++ {
		if generator.Outcome("A") == experiment.OutcomeSuccess {
			successes++
		}
	}
	rate := float64(successes) / n
	if rate < 0.28 || rate > 0.32 {
		t.Errorf("Expected conversion rate near 0.3, got %.4f", rate)
	}
	if generator.Outcome("unknown") != experiment.OutcomeFailure {
		t.Error("Expected unknown variant never to convert")
	}
}

func TestTrafficGenerator_Deterministic(t *testing.T) {
	a := NewTrafficGenerator(DefaultTrafficConfig())
	b := NewTrafficGenerator(DefaultTrafficConfig())
	for i := 0; i < 100; i++ {
		if a.Outcome("B") != b.Outcome("B") {
			t.Fatalf("Generators with the same seed diverged at draw %d", i)
		}
	}
}

func TestRNGAdapter_Reproducible(t *testing.T) {
	ctx := context.Background()
	first := NewRNGAdapter(7)
	second := NewRNGAdapter(7)

	for i := 0; i < 5; i++ {
		x := first.Stream(ctx, "assign").Float64()
		y := second.Stream(ctx, "assign").Float64()
		if x != y {
			t.Fatalf("Stream %d differs: %v vs %v", i, x, y)
		}
	}

	r := NewRNGAdapter(7)
	if r.Stream(ctx, "assign").Float64() == r.Stream(ctx, "assign").Float64() {
		t.Error("Expected successive streams to differ")
	}
}
