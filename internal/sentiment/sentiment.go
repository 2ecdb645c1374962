// Package sentiment maintains the per-round crowd sentiment aggregate.
//
// The weighted average uses an incremental truncating recurrence:
//
//	weighted' = (weighted * total + value) / (total + 1)
//
// with floor division at every step. Each step re-truncates, so precision
// loss accumulates; the recurrence is part of the external contract and
// must not be replaced with a higher-precision running sum.
package sentiment

import "github.com/stakecast/round-engine/internal/model"

// Apply folds one accepted submission into the aggregate in place.
// The caller persists the updated aggregate within the same serialized
// transition that recorded the prediction.
func Apply(agg *model.SentimentAggregate, s model.Sentiment) {
	switch s {
	case model.Bearish:
		agg.Bearish++
	case model.Neutral:
		agg.Neutral++
	case model.Bullish:
		agg.Bullish++
	}

	agg.Weighted = (agg.Weighted*agg.Total + uint64(s)) / (agg.Total + 1)
	agg.Total++
}

// Consistent reports whether the per-sentiment counters sum to the total.
// Holds for every aggregate produced by Apply; exposed for audits.
func Consistent(agg *model.SentimentAggregate) bool {
	return agg.Bearish+agg.Neutral+agg.Bullish == agg.Total
}
