package experiment

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"abstats/domain/core"
)

// Percentage is a share of traffic in [0, 100]
type Percentage float64

// AllocationEpsilon is the rounding slack tolerated around a total of 100
const AllocationEpsilon = 0.01

// Allocation maps variant name to the percentage of traffic it receives.
// Values built with NewAllocation always sum to 100 (within AllocationEpsilon).
type Allocation struct {
	shares map[string]Percentage
}

// NewAllocation validates shares and returns an Allocation. It fails with
// core.ErrInvalidAllocation when there are no variants, a share is negative or
// not finite, or the total is not 100.
func NewAllocation(shares map[string]float64) (Allocation, error) {
	a := RestoreAllocation(shares)
	if err := a.Validate(); err != nil {
		return Allocation{}, err
	}
	return a, nil
}

// RestoreAllocation wraps stored shares without validation. Storage adapters
// use it so that a corrupted row is still loadable and rejected at Start.
func RestoreAllocation(shares map[string]float64) Allocation {
	m := make(map[string]Percentage, len(shares))
	for name, pct := range shares {
		m[name] = Percentage(pct)
	}
	return Allocation{shares: m}
}

// EvenAllocation splits 100 across the names in alphabetical order. Shares are
// rounded to two decimals and the remainder goes to the last name.
func EvenAllocation(names []string) (Allocation, error) {
	if len(names) == 0 {
		return Allocation{}, core.NewAllocationError("experiment has no variants")
	}
	sorted := sortedCopy(names)
	each := math.Floor(100.0/float64(len(sorted))*100) / 100
	shares := make(map[string]float64, len(sorted))
	remaining := 100.0
	for i, name := range sorted {
		if i == len(sorted)-1 {
			shares[name] = round2(remaining)
			break
		}
		shares[name] = each
		remaining -= each
	}
	return NewAllocation(shares)
}

// FromWeights normalises non-negative weights to an allocation summing to
// exactly 100 at two-decimal precision. The rounding remainder is applied to
// the largest share.
func FromWeights(weights map[string]float64) (Allocation, error) {
	if len(weights) == 0 {
		return Allocation{}, core.NewAllocationError("experiment has no variants")
	}
	total := 0.0
	for name, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return Allocation{}, core.NewAllocationError(fmt.Sprintf("weight for %q is %v", name, w))
		}
		total += w
	}
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	if total == 0 {
		return EvenAllocation(names)
	}

	shares := make(map[string]float64, len(weights))
	sum := 0.0
	largest := ""
	for _, name := range sortedCopy(names) {
		pct := round2(weights[name] / total * 100)
		shares[name] = pct
		sum += pct
		if largest == "" || pct > shares[largest] {
			largest = name
		}
	}
	shares[largest] = round2(shares[largest] + (100 - sum))
	return NewAllocation(shares)
}

// Validate checks the sum invariant
func (a Allocation) Validate() error {
	if len(a.shares) == 0 {
		return core.NewAllocationError("experiment has no variants")
	}
	for name, pct := range a.shares {
		v := float64(pct)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 100 {
			return core.NewAllocationError(fmt.Sprintf("share for %q is %v", name, v))
		}
	}
	if sum := a.Sum(); math.Abs(sum-100) > AllocationEpsilon {
		return core.NewAllocationError(fmt.Sprintf("shares sum to %.4f, want 100", sum))
	}
	return nil
}

// MatchesVariants checks that the allocation keys are exactly the variant names
func (a Allocation) MatchesVariants(names []string) error {
	if len(names) != len(a.shares) {
		return core.NewAllocationError(fmt.Sprintf("allocation has %d entries for %d variants", len(a.shares), len(names)))
	}
	for _, name := range names {
		if _, ok := a.shares[name]; !ok {
			return core.NewAllocationError(fmt.Sprintf("variant %q missing from allocation", name))
		}
	}
	return nil
}

// Pick walks the shares in alphabetical order and returns the first name whose
// cumulative boundary exceeds draw. draw must be in [0, 100).
func (a Allocation) Pick(draw float64) (string, error) {
	if len(a.shares) == 0 {
		return "", core.NewAllocationError("experiment has no variants")
	}
	if draw < 0 || draw >= 100 || math.IsNaN(draw) {
		return "", core.NewValidationError("draw", fmt.Sprintf("%v outside [0,100)", draw))
	}
	cumulative := 0.0
	last := ""
	for _, name := range a.Names() {
		pct := float64(a.shares[name])
		if pct <= 0 {
			continue
		}
		cumulative += pct
		last = name
		if draw < cumulative {
			return name, nil
		}
	}
	// Totals within epsilon below 100 leave a sliver uncovered
	if last == "" {
		return "", core.NewAllocationError("all shares are zero")
	}
	return last, nil
}

// Names returns the variant names in alphabetical order
func (a Allocation) Names() []string {
	names := make([]string, 0, len(a.shares))
	for name := range a.shares {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Percent returns the share for name, zero when absent
func (a Allocation) Percent(name string) float64 {
	return float64(a.shares[name])
}

// Sum returns the total of all shares
func (a Allocation) Sum() float64 {
	sum := 0.0
	for _, pct := range a.shares {
		sum += float64(pct)
	}
	return sum
}

// Len returns the number of entries
func (a Allocation) Len() int {
	return len(a.shares)
}

// Map returns a copy of the shares
func (a Allocation) Map() map[string]float64 {
	out := make(map[string]float64, len(a.shares))
	for name, pct := range a.shares {
		out[name] = float64(pct)
	}
	return out
}

// MarshalJSON encodes the allocation as a plain object
func (a Allocation) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Map())
}

// UnmarshalJSON decodes a plain object without validating it
func (a *Allocation) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*a = RestoreAllocation(m)
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sortedCopy(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
