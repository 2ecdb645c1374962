package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stakecast/round-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot single-key lookups (rounds, aggregates, reputation).
// Writes go to the primary and invalidate the affected keys; list and
// counter operations pass through.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// WithTx delegates the transaction to the primary and hands fn a cached
// wrapper around the transactional store, so invalidations fire on writes
// made inside the transaction. A rollback after an invalidation only costs
// a cache miss.
func (s *CachedStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return s.primary.WithTx(ctx, func(tx Store) error {
		return fn(NewCachedStore(tx, s.rdb, s.ttl))
	})
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateRound(ctx context.Context, r *model.Round, agg *model.SentimentAggregate) error {
	if err := s.primary.CreateRound(ctx, r, agg); err != nil {
		return err
	}
	s.cacheJSON(ctx, roundKey(r.Key()), r)
	s.cacheJSON(ctx, aggregateKey(r.Key()), agg)
	return nil
}

func (s *CachedStore) SetRoundStake(ctx context.Context, key model.RoundKey, totalStaked uint64) error {
	if err := s.primary.SetRoundStake(ctx, key, totalStaked); err != nil {
		return err
	}
	s.rdb.Del(ctx, roundKey(key))
	return nil
}

func (s *CachedStore) MarkResolved(ctx context.Context, key model.RoundKey, finalPrice uint64) error {
	if err := s.primary.MarkResolved(ctx, key, finalPrice); err != nil {
		return err
	}
	s.rdb.Del(ctx, roundKey(key))
	return nil
}

func (s *CachedStore) CreatePrediction(ctx context.Context, p *model.Prediction) error {
	return s.primary.CreatePrediction(ctx, p)
}

func (s *CachedStore) MarkRewarded(ctx context.Context, key model.PredictionKey) error {
	return s.primary.MarkRewarded(ctx, key)
}

func (s *CachedStore) PutAggregate(ctx context.Context, agg *model.SentimentAggregate) error {
	if err := s.primary.PutAggregate(ctx, agg); err != nil {
		return err
	}
	s.rdb.Del(ctx, aggregateKey(model.RoundKey{Asset: agg.Asset, RoundID: agg.RoundID}))
	return nil
}

func (s *CachedStore) PutReputation(ctx context.Context, rec *model.Reputation) error {
	if err := s.primary.PutReputation(ctx, rec); err != nil {
		return err
	}
	s.rdb.Del(ctx, reputationKey(rec.Predictor))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRound(ctx context.Context, key model.RoundKey) (*model.Round, error) {
	data, err := s.rdb.Get(ctx, roundKey(key)).Bytes()
	if err == nil {
		var r model.Round
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	r, err := s.primary.GetRound(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, roundKey(key), r)
	return r, nil
}

func (s *CachedStore) GetAggregate(ctx context.Context, key model.RoundKey) (*model.SentimentAggregate, error) {
	data, err := s.rdb.Get(ctx, aggregateKey(key)).Bytes()
	if err == nil {
		var agg model.SentimentAggregate
		if json.Unmarshal(data, &agg) == nil {
			return &agg, nil
		}
	}

	agg, err := s.primary.GetAggregate(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, aggregateKey(key), agg)
	return agg, nil
}

func (s *CachedStore) GetReputation(ctx context.Context, predictor string) (*model.Reputation, error) {
	data, err := s.rdb.Get(ctx, reputationKey(predictor)).Bytes()
	if err == nil {
		var rec model.Reputation
		if json.Unmarshal(data, &rec) == nil {
			return &rec, nil
		}
	}

	rec, err := s.primary.GetReputation(ctx, predictor)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, reputationKey(predictor), rec)
	return rec, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetPrediction(ctx context.Context, key model.PredictionKey) (*model.Prediction, error) {
	return s.primary.GetPrediction(ctx, key)
}

func (s *CachedStore) ListRounds(ctx context.Context, asset string) ([]model.Round, error) {
	return s.primary.ListRounds(ctx, asset)
}

func (s *CachedStore) ListPredictionsByRound(ctx context.Context, key model.RoundKey) ([]model.Prediction, error) {
	return s.primary.ListPredictionsByRound(ctx, key)
}

func (s *CachedStore) NextRoundID(ctx context.Context) (uint64, error) {
	return s.primary.NextRoundID(ctx)
}

func (s *CachedStore) AddVolume(ctx context.Context, amount uint64) error {
	return s.primary.AddVolume(ctx, amount)
}

func (s *CachedStore) GetStats(ctx context.Context) (*model.Stats, error) {
	return s.primary.GetStats(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func roundKey(k model.RoundKey) string {
	return fmt.Sprintf("round:%s:%d", k.Asset, k.RoundID)
}

func aggregateKey(k model.RoundKey) string {
	return fmt.Sprintf("sentiment:%s:%d", k.Asset, k.RoundID)
}

func reputationKey(predictor string) string {
	return fmt.Sprintf("reputation:%s", predictor)
}
