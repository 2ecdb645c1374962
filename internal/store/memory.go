package store

import (
	"context"
	"sync"

	"github.com/stakecast/round-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps keyed by the composite
// key structs. Used for testing and development.
type MemoryStore struct {
	mu          sync.RWMutex
	rounds      map[model.RoundKey]*model.Round
	order       []model.RoundKey // insertion order for listing
	predictions map[model.PredictionKey]*model.Prediction
	aggregates  map[model.RoundKey]*model.SentimentAggregate
	reputations map[string]*model.Reputation
	stats       model.Stats
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds:      make(map[model.RoundKey]*model.Round),
		predictions: make(map[model.PredictionKey]*model.Prediction),
		aggregates:  make(map[model.RoundKey]*model.SentimentAggregate),
		reputations: make(map[string]*model.Reputation),
	}
}

// WithTx runs fn with rollback-on-error semantics: the full state is
// snapshotted up front and restored if fn fails. Callers serialize
// transitions, so no other writer can interleave between snapshot and
// restore.
func (s *MemoryStore) WithTx(_ context.Context, fn func(Store) error) error {
	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	rounds      map[model.RoundKey]*model.Round
	order       []model.RoundKey
	predictions map[model.PredictionKey]*model.Prediction
	aggregates  map[model.RoundKey]*model.SentimentAggregate
	reputations map[string]*model.Reputation
	stats       model.Stats
}

func (s *MemoryStore) snapshot() memorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := memorySnapshot{
		rounds:      make(map[model.RoundKey]*model.Round, len(s.rounds)),
		order:       append([]model.RoundKey(nil), s.order...),
		predictions: make(map[model.PredictionKey]*model.Prediction, len(s.predictions)),
		aggregates:  make(map[model.RoundKey]*model.SentimentAggregate, len(s.aggregates)),
		reputations: make(map[string]*model.Reputation, len(s.reputations)),
		stats:       s.stats,
	}
	for k, r := range s.rounds {
		rc := *r
		snap.rounds[k] = &rc
	}
	for k, p := range s.predictions {
		pc := *p
		snap.predictions[k] = &pc
	}
	for k, a := range s.aggregates {
		ac := *a
		snap.aggregates[k] = &ac
	}
	for k, rec := range s.reputations {
		rc := *rec
		snap.reputations[k] = &rc
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rounds = snap.rounds
	s.order = snap.order
	s.predictions = snap.predictions
	s.aggregates = snap.aggregates
	s.reputations = snap.reputations
	s.stats = snap.stats
}

func (s *MemoryStore) CreateRound(_ context.Context, r *model.Round, agg *model.SentimentAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Key()
	if _, ok := s.rounds[key]; ok {
		return ErrAlreadyExists
	}

	// Store copies to avoid external mutation.
	rc := *r
	ac := *agg
	s.rounds[key] = &rc
	s.aggregates[key] = &ac
	s.order = append(s.order, key)
	return nil
}

func (s *MemoryStore) GetRound(_ context.Context, key model.RoundKey) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[key]
	if !ok {
		return nil, ErrNotFound
	}
	rc := *r
	return &rc, nil
}

func (s *MemoryStore) ListRounds(_ context.Context, asset string) ([]model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rounds := make([]model.Round, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		r := s.rounds[s.order[i]]
		if asset != "" && r.Asset != asset {
			continue
		}
		rounds = append(rounds, *r)
	}
	return rounds, nil
}

func (s *MemoryStore) SetRoundStake(_ context.Context, key model.RoundKey, totalStaked uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[key]
	if !ok {
		return ErrNotFound
	}
	r.TotalStaked = totalStaked
	return nil
}

func (s *MemoryStore) MarkResolved(_ context.Context, key model.RoundKey, finalPrice uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[key]
	if !ok {
		return ErrNotFound
	}
	r.FinalPrice = finalPrice
	r.Resolved = true
	return nil
}

func (s *MemoryStore) CreatePrediction(_ context.Context, p *model.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.Key()
	if _, ok := s.predictions[key]; ok {
		return ErrAlreadyExists
	}
	pc := *p
	s.predictions[key] = &pc
	return nil
}

func (s *MemoryStore) GetPrediction(_ context.Context, key model.PredictionKey) (*model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.predictions[key]
	if !ok {
		return nil, ErrNotFound
	}
	pc := *p
	return &pc, nil
}

func (s *MemoryStore) ListPredictionsByRound(_ context.Context, key model.RoundKey) ([]model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Prediction
	for k, p := range s.predictions {
		if k.Asset == key.Asset && k.RoundID == key.RoundID {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (s *MemoryStore) MarkRewarded(_ context.Context, key model.PredictionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.predictions[key]
	if !ok {
		return ErrNotFound
	}
	p.Rewarded = true
	return nil
}

func (s *MemoryStore) GetAggregate(_ context.Context, key model.RoundKey) (*model.SentimentAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.aggregates[key]
	if !ok {
		return nil, ErrNotFound
	}
	ac := *agg
	return &ac, nil
}

func (s *MemoryStore) PutAggregate(_ context.Context, agg *model.SentimentAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.RoundKey{Asset: agg.Asset, RoundID: agg.RoundID}
	if _, ok := s.aggregates[key]; !ok {
		return ErrNotFound
	}
	ac := *agg
	s.aggregates[key] = &ac
	return nil
}

func (s *MemoryStore) GetReputation(_ context.Context, predictor string) (*model.Reputation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.reputations[predictor]
	if !ok {
		return nil, ErrNotFound
	}
	rc := *rec
	return &rc, nil
}

func (s *MemoryStore) PutReputation(_ context.Context, rec *model.Reputation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc := *rec
	s.reputations[rec.Predictor] = &rc
	return nil
}

func (s *MemoryStore) NextRoundID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalRounds++
	return s.stats.TotalRounds, nil
}

func (s *MemoryStore) AddVolume(_ context.Context, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalVolume += amount
	return nil
}

func (s *MemoryStore) GetStats(_ context.Context) (*model.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.stats
	return &st, nil
}
