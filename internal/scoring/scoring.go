// Package scoring implements the hybrid accuracy score combining directional
// correctness with numeric price proximity.
//
// The score is a 0–100 value: half comes from the directional call (bullish,
// bearish, or neutral-within-5%) and half from how close the predicted price
// landed to the realized price.
//
// All arithmetic is unsigned 64-bit with floor division, so a replaying
// verifier reproduces every score bit-for-bit. Products that can exceed
// 64 bits go through a 128-bit intermediate — never float64.
package scoring

import (
	"math/bits"

	"github.com/stakecast/round-engine/internal/model"
)

// MaxScore is the upper bound of the accuracy scale.
const MaxScore = 100

// neutralBandPercent is the absolute percentage move within which a neutral
// call counts as directionally correct.
const neutralBandPercent = 5

// Score computes the hybrid accuracy for one prediction against the realized
// outcome. initialPrice must be non-zero; round creation rejects zero initial
// prices so the percentage-change computation is always defined here.
func Score(predictedPrice, actualPrice uint64, sentiment model.Sentiment, initialPrice uint64) uint64 {
	pa := PriceAccuracy(predictedPrice, actualPrice)
	if DirectionCorrect(sentiment, actualPrice, initialPrice) {
		return (pa + MaxScore) / 2
	}
	return pa / 2
}

// DirectionCorrect reports whether the directional call matched the outcome.
// Bullish is correct iff actual >= initial, bearish iff actual < initial,
// neutral iff the absolute percentage change is within the 5% band
// (|actual-initial| * 100 / initial, floor division).
func DirectionCorrect(sentiment model.Sentiment, actualPrice, initialPrice uint64) bool {
	switch sentiment {
	case model.Bullish:
		return actualPrice >= initialPrice
	case model.Bearish:
		return actualPrice < initialPrice
	case model.Neutral:
		return mulDiv(absDiff(actualPrice, initialPrice), MaxScore, initialPrice) <= neutralBandPercent
	default:
		return false
	}
}

// PriceAccuracy returns 100 minus the percentage error of the predicted
// price relative to the actual price, floored at zero when the error
// exceeds 100%.
func PriceAccuracy(predictedPrice, actualPrice uint64) uint64 {
	if actualPrice == 0 {
		return 0
	}
	errPct := mulDiv(absDiff(predictedPrice, actualPrice), MaxScore, actualPrice)
	if errPct >= MaxScore {
		return 0
	}
	return MaxScore - errPct
}

func absDiff(a, b uint64) uint64 {
	if a >= b {
		return a - b
	}
	return b - a
}

// mulDiv computes a*b/den with a 128-bit intermediate product so large
// prices cannot overflow. den must be non-zero. A quotient that does not
// fit in 64 bits saturates to MaxUint64; callers only compare such values
// against small percentage bounds.
func mulDiv(a, b, den uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, den)
	return q
}
