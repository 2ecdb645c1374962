package round

import (
	"errors"
	"net/http"

	"github.com/stakecast/round-engine/internal/config"
	"github.com/stakecast/round-engine/internal/escrow"
	"github.com/stakecast/round-engine/internal/store"
)

// Guard errors. Every failed transition returns exactly one of these (or a
// store/escrow error) and leaves all state untouched.
var (
	// ErrOwnerOnly is returned when resolution is attempted by a caller
	// who is neither the owner nor the round creator.
	ErrOwnerOnly = errors.New("round: owner or creator only")

	// ErrInvalidAsset is returned for an empty or overlong asset id.
	ErrInvalidAsset = errors.New("round: asset id must be 1-20 characters")

	// ErrInvalidSentiment is returned for sentiment values outside {1,2,3}.
	ErrInvalidSentiment = errors.New("round: sentiment must be bearish, neutral or bullish")

	// ErrInsufficientStake is returned for stakes below the configured
	// minimum.
	ErrInsufficientStake = errors.New("round: stake below minimum")

	// ErrInvalidTimeframe is returned when a round is created with a zero
	// duration, evaluation window or initial price, or resolved with a
	// zero final price.
	ErrInvalidTimeframe = errors.New("round: duration, evaluation window and price must be positive")

	// ErrPredictionClosed is returned for submissions after the round's
	// end height.
	ErrPredictionClosed = errors.New("round: submission window closed")

	// ErrPredictionActive is returned when resolution is attempted before
	// the target height, or a claim before resolution.
	ErrPredictionActive = errors.New("round: round still active")

	// ErrAlreadyResolved is returned for a second resolution attempt or a
	// submission into a resolved round.
	ErrAlreadyResolved = errors.New("round: already resolved")

	// ErrAlreadyPredicted is returned when a predictor already has an
	// entry in the round.
	ErrAlreadyPredicted = errors.New("round: already predicted this round")

	// ErrAlreadyRewarded is returned for a second claim on the same
	// prediction.
	ErrAlreadyRewarded = errors.New("round: reward already claimed")
)

// statusFor maps domain errors onto HTTP status codes: validation failures
// are 400, authorization 403, missing records 404, phase violations 409.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAsset),
		errors.Is(err, ErrInvalidSentiment),
		errors.Is(err, ErrInsufficientStake),
		errors.Is(err, ErrInvalidTimeframe),
		errors.Is(err, config.ErrInvalidFee),
		errors.Is(err, config.ErrInvalidMinStake):
		return http.StatusBadRequest
	case errors.Is(err, ErrOwnerOnly), errors.Is(err, config.ErrOwnerOnly):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPredictionClosed),
		errors.Is(err, ErrPredictionActive),
		errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, ErrAlreadyPredicted),
		errors.Is(err, ErrAlreadyRewarded),
		errors.Is(err, escrow.ErrInsufficientFunds):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// reason returns the guard-rejection label recorded in metrics.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrOwnerOnly):
		return "owner_only"
	case errors.Is(err, ErrInvalidAsset):
		return "invalid_asset"
	case errors.Is(err, ErrInvalidSentiment):
		return "invalid_sentiment"
	case errors.Is(err, ErrInsufficientStake):
		return "insufficient_stake"
	case errors.Is(err, ErrInvalidTimeframe):
		return "invalid_timeframe"
	case errors.Is(err, ErrPredictionClosed):
		return "prediction_closed"
	case errors.Is(err, ErrPredictionActive):
		return "prediction_active"
	case errors.Is(err, ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, ErrAlreadyPredicted):
		return "already_predicted"
	case errors.Is(err, ErrAlreadyRewarded):
		return "already_rewarded"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, escrow.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "internal"
	}
}
