// Package model defines the core domain types shared across the round engine.
// All prices and stakes are unsigned integer micro-units, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sentiment is the tri-state directional belief submitted with a stake.
type Sentiment uint8

const (
	Bearish Sentiment = 1
	Neutral Sentiment = 2
	Bullish Sentiment = 3
)

// Valid reports whether s is one of the three accepted sentiment values.
func (s Sentiment) Valid() bool {
	return s >= Bearish && s <= Bullish
}

func (s Sentiment) String() string {
	switch s {
	case Bearish:
		return "bearish"
	case Neutral:
		return "neutral"
	case Bullish:
		return "bullish"
	default:
		return "invalid"
	}
}

// MicroUnitsPerToken is the fixed-point scale for stake and reward amounts.
const MicroUnitsPerToken = 1_000_000

// Tokens renders an amount of micro-units as a token-denominated decimal.
// Display only; engine arithmetic never leaves integer micro-units.
func Tokens(units uint64) decimal.Decimal {
	return decimal.NewFromUint64(units).Shift(-6)
}

// RoundKey identifies a round by asset and monotonic round id.
type RoundKey struct {
	Asset   string `json:"asset"`
	RoundID uint64 `json:"round_id"`
}

// PredictionKey identifies one predictor's entry in one round.
type PredictionKey struct {
	Asset     string `json:"asset"`
	RoundID   uint64 `json:"round_id"`
	Predictor string `json:"predictor"`
}

// Round phases derived from chain height and the resolved flag.
const (
	PhaseOpen               = "open"
	PhaseAwaitingResolution = "awaiting_resolution"
	PhaseResolved           = "resolved"
)

// Round is one prediction round for one asset. Created once, mutated by
// accepted submissions (TotalStaked) and exactly once by resolution
// (FinalPrice, Resolved), never deleted.
type Round struct {
	Asset        string    `json:"asset" db:"asset"`
	RoundID      uint64    `json:"round_id" db:"round_id"`
	StartHeight  uint64    `json:"start_height" db:"start_height"`
	EndHeight    uint64    `json:"end_height" db:"end_height"`       // submission deadline
	TargetHeight uint64    `json:"target_height" db:"target_height"` // evaluation height
	InitialPrice uint64    `json:"initial_price" db:"initial_price"`
	FinalPrice   uint64    `json:"final_price" db:"final_price"` // 0 until resolved
	TotalStaked  uint64    `json:"total_staked" db:"total_staked"`
	Resolved     bool      `json:"resolved" db:"resolved"`
	Creator      string    `json:"creator" db:"creator"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Key returns the composite identifier of the round.
func (r *Round) Key() RoundKey {
	return RoundKey{Asset: r.Asset, RoundID: r.RoundID}
}

// Phase returns the lifecycle phase of the round at the given chain height.
func (r *Round) Phase(height uint64) string {
	if r.Resolved {
		return PhaseResolved
	}
	if height > r.EndHeight {
		return PhaseAwaitingResolution
	}
	return PhaseOpen
}

// Prediction is one predictor's staked entry. Created once at submission,
// mutated exactly once (Rewarded set true) at claim, never deleted.
type Prediction struct {
	Asset          string    `json:"asset" db:"asset"`
	RoundID        uint64    `json:"round_id" db:"round_id"`
	Predictor      string    `json:"predictor" db:"predictor"`
	Sentiment      Sentiment `json:"sentiment" db:"sentiment"`
	PredictedPrice uint64    `json:"predicted_price" db:"predicted_price"`
	Stake          uint64    `json:"stake" db:"stake"`
	SubmitHeight   uint64    `json:"submit_height" db:"submit_height"`
	Rewarded       bool      `json:"rewarded" db:"rewarded"`
}

// Key returns the composite identifier of the prediction.
func (p *Prediction) Key() PredictionKey {
	return PredictionKey{Asset: p.Asset, RoundID: p.RoundID, Predictor: p.Predictor}
}

// SentimentAggregate holds per-round crowd sentiment counters and the
// running truncating weighted average. Created with the round, mutated on
// every accepted submission, read-only thereafter.
type SentimentAggregate struct {
	Asset    string `json:"asset" db:"asset"`
	RoundID  uint64 `json:"round_id" db:"round_id"`
	Bearish  uint64 `json:"bearish_count" db:"bearish_count"`
	Neutral  uint64 `json:"neutral_count" db:"neutral_count"`
	Bullish  uint64 `json:"bullish_count" db:"bullish_count"`
	Total    uint64 `json:"total_predictions" db:"total_predictions"`
	Weighted uint64 `json:"weighted_sentiment" db:"weighted_sentiment"`
}

// Reputation is the global per-predictor track record. Created lazily on
// first claim, purely cumulative, never deleted.
type Reputation struct {
	Predictor   string `json:"predictor" db:"predictor"`
	Total       uint64 `json:"total_predictions" db:"total_predictions"`
	Correct     uint64 `json:"correct_predictions" db:"correct_predictions"`
	NetEarnings uint64 `json:"net_earnings" db:"net_earnings"`
	Score       uint64 `json:"reputation_score" db:"reputation_score"`
}

// Stats are the process-wide counters maintained across all rounds.
type Stats struct {
	TotalRounds uint64 `json:"total_rounds"`
	TotalVolume uint64 `json:"total_volume"`
}
