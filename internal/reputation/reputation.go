// Package reputation maintains the global per-predictor track record.
//
// Records are purely cumulative, with no decay or aging, so the full
// history stays auditable. A predictor with no history scores a neutral 50.
package reputation

import "github.com/stakecast/round-engine/internal/model"

// DefaultScore is the reputation of a predictor with no claimed predictions.
const DefaultScore = 50

// New returns the lazily-created default record for a predictor.
func New(predictor string) *model.Reputation {
	return &model.Reputation{
		Predictor: predictor,
		Score:     DefaultScore,
	}
}

// Apply folds one claimed prediction into the record in place: total always
// increments, correct increments iff the call was correct, net earnings
// accumulate, and the score is recomputed as correct*100/total (floor).
func Apply(rec *model.Reputation, isCorrect bool, netEarnings uint64) {
	rec.Total++
	if isCorrect {
		rec.Correct++
	}
	rec.NetEarnings += netEarnings
	rec.Score = rec.Correct * 100 / rec.Total
}
