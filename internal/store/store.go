// Package store defines the persistence interface for the round engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for development and testing).
//
// The store is an ordered keyspace addressed by composite keys; callers
// serialize whole read-modify-write transitions above this layer. Multi-write
// transitions run inside WithTx so they commit or roll back as one unit.
package store

import (
	"context"
	"errors"

	"github.com/stakecast/round-engine/internal/model"
)

var (
	// ErrNotFound is returned when a round, prediction, aggregate or
	// reputation record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when creating a record whose key is
	// already present.
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the persistence interface.
type Store interface {
	// WithTx runs fn against a transactional view of the store. All writes
	// fn issues commit together; any error from fn rolls every one of them
	// back and is returned unchanged.
	WithTx(ctx context.Context, fn func(Store) error) error

	// --- Rounds ---

	// CreateRound persists a new round together with its empty sentiment
	// aggregate.
	CreateRound(ctx context.Context, r *model.Round, agg *model.SentimentAggregate) error

	// GetRound retrieves a round by key.
	GetRound(ctx context.Context, key model.RoundKey) (*model.Round, error)

	// ListRounds returns rounds, newest first. Empty asset means all assets.
	ListRounds(ctx context.Context, asset string) ([]model.Round, error)

	// SetRoundStake updates the round's total staked amount.
	SetRoundStake(ctx context.Context, key model.RoundKey, totalStaked uint64) error

	// MarkResolved sets the final price and the resolved flag.
	MarkResolved(ctx context.Context, key model.RoundKey, finalPrice uint64) error

	// --- Predictions ---

	// CreatePrediction persists a new prediction. Returns ErrAlreadyExists
	// if this predictor already has an entry in the round.
	CreatePrediction(ctx context.Context, p *model.Prediction) error

	// GetPrediction retrieves a prediction by key.
	GetPrediction(ctx context.Context, key model.PredictionKey) (*model.Prediction, error)

	// ListPredictionsByRound returns all predictions of a round.
	ListPredictionsByRound(ctx context.Context, key model.RoundKey) ([]model.Prediction, error)

	// MarkRewarded flips the prediction's rewarded flag.
	MarkRewarded(ctx context.Context, key model.PredictionKey) error

	// --- Sentiment aggregates ---

	// GetAggregate retrieves the sentiment aggregate of a round.
	GetAggregate(ctx context.Context, key model.RoundKey) (*model.SentimentAggregate, error)

	// PutAggregate writes the full aggregate back.
	PutAggregate(ctx context.Context, agg *model.SentimentAggregate) error

	// --- Reputation ---

	// GetReputation retrieves a predictor's reputation record.
	GetReputation(ctx context.Context, predictor string) (*model.Reputation, error)

	// PutReputation writes the full reputation record back.
	PutReputation(ctx context.Context, rec *model.Reputation) error

	// --- Process-wide counters ---

	// NextRoundID increments the total-rounds counter and returns the new
	// value as the freshly allocated round id.
	NextRoundID(ctx context.Context) (uint64, error)

	// AddVolume adds an accepted stake to the global volume counter.
	AddVolume(ctx context.Context, amount uint64) error

	// GetStats returns the global counters.
	GetStats(ctx context.Context) (*model.Stats, error)
}
