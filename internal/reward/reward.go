// Package reward turns an accuracy score, an individual stake, and the
// round's total pool into a payout, then carves out the protocol fee.
//
// Like the scoring engine, everything here is unsigned 64-bit floor
// arithmetic with 128-bit intermediates, deterministic for any replaying
// verifier, no floats anywhere.
package reward

import "math/bits"

// bonusScale divides the pool-proportional component. The pool bonus is
// scaled down 100x relative to the stake component so a large pool does
// not drown out individual stakes.
const bonusScale = 10_000

// correctThreshold is the accuracy at or above which a prediction counts
// as correct for reputation purposes.
const correctThreshold = 50

// Gross computes the pre-fee reward: a stake-proportional base plus a
// pool-proportional bonus.
//
//	base  = stake * accuracy / 100
//	bonus = pool  * accuracy / 10000
func Gross(accuracy, stake, totalPool uint64) uint64 {
	base := mulDiv(stake, accuracy, 100)
	bonus := mulDiv(totalPool, accuracy, bonusScale)
	return base + bonus
}

// Fee returns the protocol fee withheld from a gross reward at the given
// percentage (0–100, validated at the configuration boundary).
func Fee(gross, feePercent uint64) uint64 {
	return mulDiv(gross, feePercent, 100)
}

// IsCorrect reports whether an accuracy score counts as a correct call.
func IsCorrect(accuracy uint64) bool {
	return accuracy >= correctThreshold
}

// mulDiv computes a*b/den via a 128-bit intermediate. Accuracy is at most
// 100 and fee percentages at most 100, so quotients always fit in 64 bits.
func mulDiv(a, b, den uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, den)
	return q
}
