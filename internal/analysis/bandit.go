package analysis

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"abstats/domain/core"
	"abstats/domain/experiment"
)

// Arm is the reward history of one bandit variant
type Arm struct {
	Name       string
	Successes  int
	Failures   int
	Pulls      int
	MeanReward float64
}

// ArmAllocation is the recomputed share and UCB value for one arm
type ArmAllocation struct {
	Name   string
	Weight float64
	UCB    *float64
}

// Bandit implements Thompson sampling, UCB1 and epsilon-greedy selection
type Bandit struct {
	dist *Distributions
}

// NewBandit creates a bandit allocator
func NewBandit() *Bandit {
	return &Bandit{dist: NewDistributions()}
}

// Select returns the name of the arm to pull next
func (b *Bandit) Select(cfg experiment.BanditConfig, arms []Arm, rng *rand.Rand) (string, error) {
	sorted, err := sortArms(arms)
	if err != nil {
		return "", err
	}

	switch cfg.Algorithm {
	case experiment.AlgorithmThompson:
		return sorted[b.thompsonDraw(sorted, rng)].Name, nil
	case experiment.AlgorithmUCB1:
		return sorted[b.ucbArgmax(sorted)].Name, nil
	case experiment.AlgorithmEpsilonGreedy:
		if rng.Float64() < cfg.Epsilon {
			return sorted[rng.IntN(len(sorted))].Name, nil
		}
		return sorted[greedyArgmax(sorted)].Name, nil
	default:
		return "", core.NewValidationError("algorithm", fmt.Sprintf("unknown algorithm %q", cfg.Algorithm))
	}
}

// UCB returns mean + sqrt(2 ln N / n), +Inf for an unpulled arm
func (b *Bandit) UCB(arm Arm, totalPulls int) float64 {
	if arm.Pulls == 0 {
		return math.Inf(1)
	}
	if totalPulls < 1 {
		totalPulls = 1
	}
	return arm.MeanReward + math.Sqrt(2*math.Log(float64(totalPulls))/float64(arm.Pulls))
}

// Allocate recomputes traffic weights for every arm. Thompson uses P(best)
// estimated from draws samples; UCB1 is proportional to the finite UCB values
// and uniform while any arm is unpulled; epsilon-greedy gives the leader
// (1-eps)+eps/k and every other arm eps/k. UCB values are reported for UCB1
// only.
func (b *Bandit) Allocate(cfg experiment.BanditConfig, arms []Arm, draws int, rng *rand.Rand) ([]ArmAllocation, error) {
	sorted, err := sortArms(arms)
	if err != nil {
		return nil, err
	}
	k := len(sorted)
	out := make([]ArmAllocation, k)
	for i, a := range sorted {
		out[i].Name = a.Name
	}

	switch cfg.Algorithm {
	case experiment.AlgorithmThompson:
		if draws < 1 {
			draws = 1
		}
		wins := make([]int, k)
		for d := 0; d < draws; d++ {
			wins[b.thompsonDraw(sorted, rng)]++
		}
		for i := range out {
			out[i].Weight = float64(wins[i]) / float64(draws)
		}

	case experiment.AlgorithmUCB1:
		total := totalPulls(sorted)
		anyUnpulled := false
		for i, a := range sorted {
			u := b.UCB(a, total)
			if math.IsInf(u, 1) {
				anyUnpulled = true
				continue
			}
			out[i].UCB = &u
		}
		for i := range out {
			if anyUnpulled {
				out[i].Weight = 1 / float64(k)
			} else {
				out[i].Weight = *out[i].UCB
			}
		}

	case experiment.AlgorithmEpsilonGreedy:
		leader := greedyArgmax(sorted)
		for i := range out {
			out[i].Weight = cfg.Epsilon / float64(k)
			if i == leader {
				out[i].Weight += 1 - cfg.Epsilon
			}
		}

	default:
		return nil, core.NewValidationError("algorithm", fmt.Sprintf("unknown algorithm %q", cfg.Algorithm))
	}

	return out, nil
}

// Regret returns the pseudo-regret of pulling chosen given the arms as they
// stood before the pull, and the name of the best known arm.
func Regret(arms []Arm, chosen string) (float64, string, error) {
	sorted, err := sortArms(arms)
	if err != nil {
		return 0, "", err
	}
	best := sorted[greedyArgmax(sorted)]
	for _, a := range sorted {
		if a.Name == chosen {
			return math.Max(0, best.MeanReward-a.MeanReward), best.Name, nil
		}
	}
	return 0, "", fmt.Errorf("%w: arm %q", core.ErrVariantNotFound, chosen)
}

func (b *Bandit) thompsonDraw(sorted []Arm, rng *rand.Rand) int {
	best, bestDraw := 0, -1.0
	for i, a := range sorted {
		draw := b.dist.BetaSampler(float64(a.Successes)+1, float64(a.Failures)+1, rng).Rand()
		if draw > bestDraw {
			best, bestDraw = i, draw
		}
	}
	return best
}

func (b *Bandit) ucbArgmax(sorted []Arm) int {
	for i, a := range sorted {
		if a.Pulls == 0 {
			return i
		}
	}
	total := totalPulls(sorted)
	best, bestVal := 0, math.Inf(-1)
	for i, a := range sorted {
		if v := b.UCB(a, total); v > bestVal {
			best, bestVal = i, v
		}
	}
	return best
}

func greedyArgmax(sorted []Arm) int {
	best := 0
	for i, a := range sorted {
		if a.MeanReward > sorted[best].MeanReward {
			best = i
		}
	}
	return best
}

func totalPulls(arms []Arm) int {
	n := 0
	for _, a := range arms {
		n += a.Pulls
	}
	return n
}

func sortArms(arms []Arm) ([]Arm, error) {
	if len(arms) == 0 {
		return nil, core.NewAllocationError("experiment has no variants")
	}
	sorted := append([]Arm(nil), arms...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return sorted, nil
}
