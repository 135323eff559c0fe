// Package sampling estimates how far empirical outcome statistics can be from
// the true distribution at a given shot count.
//
// The bound is a Hoeffding-type concentration inequality on the
// total-variation distance of an empirical distribution over a finite
// alphabet: a union bound over the 2^A - 2 proper outcome subsets gives
// TV <= sqrt((ln(2^A - 2) - ln(delta)) / (2N)) with probability 1 - delta.
// Callers use it to judge whether unconstrained inversion (which amplifies
// statistical noise) is trustworthy, or whether constrained correction is the
// safer choice.
package sampling

import (
	"fmt"
	"math"
)

// smallAlphabetLimit is the alphabet size below which the exact ln(2^A - 2)
// term is kept; above it the -2 is negligible and the term reduces to A*ln(2).
const smallAlphabetLimit = 16

// Estimate is a confidence bound on total-variation distance.
type Estimate struct {
	Bound      float64 `json:"bound"`
	Confidence float64 `json:"confidence"`
	Outcomes   int     `json:"outcomes"`
	Shots      int64   `json:"shots"`
}

// TVDistanceBound returns an upper bound on the total-variation distance
// between the empirical distribution over an alphabet of the given size and
// the true distribution, holding with the given confidence level.
func TVDistanceBound(outcomes int, shots int64, confidence float64) (Estimate, error) {
	if outcomes < 2 {
		return Estimate{}, fmt.Errorf("alphabet size %d must be at least 2", outcomes)
	}
	if shots < 1 {
		return Estimate{}, fmt.Errorf("shot count %d must be positive", shots)
	}
	if confidence <= 0 || confidence >= 1 {
		return Estimate{}, fmt.Errorf("confidence level %g must be in (0,1)", confidence)
	}

	delta := 1 - confidence
	var numerator float64
	if outcomes < smallAlphabetLimit {
		numerator = math.Log(math.Pow(2, float64(outcomes))-2) - math.Log(delta)
	} else {
		numerator = float64(outcomes)*math.Ln2 - math.Log(delta)
	}

	return Estimate{
		Bound:      math.Sqrt(numerator / (2 * float64(shots))),
		Confidence: confidence,
		Outcomes:   outcomes,
		Shots:      shots,
	}, nil
}

// SuggestedTolerance derives a constrained-solver convergence tolerance from
// the statistical noise floor of the input: one order of magnitude below the
// 95% TV bound, floored at 1e-10. Iterating the solver past this point only
// resolves structure the shot count cannot support.
func SuggestedTolerance(outcomes int, shots int64) float64 {
	est, err := TVDistanceBound(outcomes, shots, 0.95)
	if err != nil {
		return 1e-6
	}
	tol := est.Bound / 10
	if tol < 1e-10 {
		tol = 1e-10
	}
	return tol
}
