// Package round implements the lifecycle controller for prediction rounds:
// the HTTP handlers and guard logic for creating rounds, submitting staked
// predictions, resolving against the realized price, and claiming rewards.
//
// Every state-changing operation runs as one serialized read-modify-write
// transition under the service mutex; a failed guard aborts the transition
// with no state mutation.
package round

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stakecast/round-engine/internal/chain"
	"github.com/stakecast/round-engine/internal/config"
	"github.com/stakecast/round-engine/internal/escrow"
	"github.com/stakecast/round-engine/internal/metrics"
	"github.com/stakecast/round-engine/internal/model"
	"github.com/stakecast/round-engine/internal/reputation"
	"github.com/stakecast/round-engine/internal/reward"
	"github.com/stakecast/round-engine/internal/scoring"
	"github.com/stakecast/round-engine/internal/sentiment"
	"github.com/stakecast/round-engine/internal/store"
)

// maxAssetLen bounds the asset identifier length.
const maxAssetLen = 20

// Service orchestrates round lifecycle transitions. The mutex serializes
// state-changing operations (single-instance); for horizontal scaling,
// replace with database-level locking or the host ledger's transaction
// sequencing.
type Service struct {
	store   store.Store
	ledger  escrow.Ledger
	heights chain.HeightSource
	params  *config.Params
	hub     *EventHub // optional, nil disables broadcasts
	mu      sync.Mutex
}

// NewService creates a new round lifecycle service.
// Pass nil for hub if event broadcasting is not needed.
func NewService(st store.Store, ledger escrow.Ledger, heights chain.HeightSource, params *config.Params, hub *EventHub) *Service {
	return &Service{
		store:   st,
		ledger:  ledger,
		heights: heights,
		params:  params,
		hub:     hub,
	}
}

// --- Request/Response types ---

// CreateRoundRequest is the JSON body for POST /api/v1/rounds.
type CreateRoundRequest struct {
	Asset            string `json:"asset"`
	Creator          string `json:"creator"`
	DurationBlocks   uint64 `json:"duration_blocks"`
	EvaluationBlocks uint64 `json:"evaluation_blocks"`
	InitialPrice     uint64 `json:"initial_price"`
}

// RoundView is a round together with its lifecycle phase at the current
// chain height.
type RoundView struct {
	model.Round
	Phase        string          `json:"phase"`
	StakedTokens decimal.Decimal `json:"staked_tokens"`
}

// SubmitRequest is the JSON body for POST /api/v1/predictions.
type SubmitRequest struct {
	Asset          string          `json:"asset"`
	RoundID        uint64          `json:"round_id"`
	Predictor      string          `json:"predictor"`
	Sentiment      model.Sentiment `json:"sentiment"`
	PredictedPrice uint64          `json:"predicted_price"`
	Stake          uint64          `json:"stake"`
}

// SubmitResponse echoes the accepted prediction and the round's new totals.
type SubmitResponse struct {
	Prediction  model.Prediction `json:"prediction"`
	TotalStaked uint64           `json:"total_staked"`
	StakeTokens decimal.Decimal  `json:"stake_tokens"`
}

// ResolveRequest is the JSON body for POST /api/v1/rounds/{asset}/{roundID}/resolve.
type ResolveRequest struct {
	Caller     string `json:"caller"`
	FinalPrice uint64 `json:"final_price"`
}

// ClaimRequest is the JSON body for POST /api/v1/rounds/{asset}/{roundID}/claim.
type ClaimRequest struct {
	Predictor string `json:"predictor"`
}

// ClaimResponse reports the scored outcome of a claim.
type ClaimResponse struct {
	AccuracyScore uint64          `json:"accuracy_score"`
	RewardAmount  uint64          `json:"reward_amount"`
	ProtocolFee   uint64          `json:"protocol_fee"`
	IsCorrect     bool            `json:"is_correct"`
	RewardTokens  decimal.Decimal `json:"reward_tokens"`
	FeeTokens     decimal.Decimal `json:"fee_tokens"`
}

// ParamsRequest is the JSON body for PUT /api/v1/admin/params. Omitted
// fields are left unchanged.
type ParamsRequest struct {
	Caller     string  `json:"caller"`
	MinStake   *uint64 `json:"min_stake,omitempty"`
	FeePercent *uint64 `json:"fee_percent,omitempty"`
}

// ParamsResponse is the current runtime parameter set.
type ParamsResponse struct {
	MinStake   uint64 `json:"min_stake"`
	FeePercent uint64 `json:"fee_percent"`
}

// StatsResponse is the global counter view.
type StatsResponse struct {
	model.Stats
	VolumeTokens decimal.Decimal `json:"volume_tokens"`
}

// --- State-changing handlers ---

// CreateRound handles POST /api/v1/rounds.
// Anyone may create a round; the heights are anchored at the current chain
// height.
func (s *Service) CreateRound(w http.ResponseWriter, r *http.Request) {
	var req CreateRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Asset == "" || len(req.Asset) > maxAssetLen {
		rejected(w, "create", ErrInvalidAsset)
		return
	}
	if req.Creator == "" {
		writeError(w, "creator is required", http.StatusBadRequest)
		return
	}
	if req.DurationBlocks == 0 || req.EvaluationBlocks == 0 || req.InitialPrice == 0 {
		rejected(w, "create", ErrInvalidTimeframe)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	height := s.heights.Height()
	round := &model.Round{
		Asset:        req.Asset,
		StartHeight:  height,
		EndHeight:    height + req.DurationBlocks,
		TargetHeight: height + req.DurationBlocks + req.EvaluationBlocks,
		InitialPrice: req.InitialPrice,
		Creator:      req.Creator,
		CreatedAt:    time.Now().UTC(),
	}

	// The id counter and the round row commit together, so a failed insert
	// never burns an id or inflates the round count.
	var id uint64
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		if id, err = tx.NextRoundID(ctx); err != nil {
			return err
		}
		round.RoundID = id
		agg := &model.SentimentAggregate{Asset: req.Asset, RoundID: id}
		return tx.CreateRound(ctx, round, agg)
	})
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.RoundsCreated.WithLabelValues(req.Asset).Inc()
	slog.Info("round created",
		"asset", req.Asset,
		"round", id,
		"start", round.StartHeight,
		"end", round.EndHeight,
		"target", round.TargetHeight,
		"initial_price", req.InitialPrice,
		"creator", req.Creator,
	)

	s.broadcast(Event{
		Type:    EventRoundCreated,
		Asset:   req.Asset,
		RoundID: id,
		Phase:   model.PhaseOpen,
	})

	writeJSON(w, http.StatusCreated, round)
}

// SubmitPrediction handles POST /api/v1/predictions.
// On success the stake moves from the predictor into protocol escrow and
// the round's sentiment aggregate absorbs the submission.
func (s *Service) SubmitPrediction(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Predictor == "" {
		writeError(w, "predictor is required", http.StatusBadRequest)
		return
	}
	if !req.Sentiment.Valid() {
		rejected(w, "submit", ErrInvalidSentiment)
		return
	}
	if req.Stake < s.params.MinStake() {
		rejected(w, "submit", ErrInsufficientStake)
		return
	}

	ctx := r.Context()
	key := model.RoundKey{Asset: req.Asset, RoundID: req.RoundID}

	s.mu.Lock()
	defer s.mu.Unlock()

	round, err := s.store.GetRound(ctx, key)
	if err != nil {
		rejected(w, "submit", err)
		return
	}
	if round.Resolved {
		rejected(w, "submit", ErrAlreadyResolved)
		return
	}

	height := s.heights.Height()
	if height > round.EndHeight {
		rejected(w, "submit", ErrPredictionClosed)
		return
	}

	pkey := model.PredictionKey{Asset: req.Asset, RoundID: req.RoundID, Predictor: req.Predictor}
	if _, err := s.store.GetPrediction(ctx, pkey); err == nil {
		rejected(w, "submit", ErrAlreadyPredicted)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	agg, err := s.store.GetAggregate(ctx, key)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// All guards passed: move the stake into escrow, then record.
	if err := s.ledger.Transfer(ctx, req.Predictor, escrow.AccountEscrow, req.Stake); err != nil {
		rejected(w, "submit", err)
		return
	}

	pred := &model.Prediction{
		Asset:          req.Asset,
		RoundID:        req.RoundID,
		Predictor:      req.Predictor,
		Sentiment:      req.Sentiment,
		PredictedPrice: req.PredictedPrice,
		Stake:          req.Stake,
		SubmitHeight:   height,
	}
	sentiment.Apply(agg, req.Sentiment)
	newTotal := round.TotalStaked + req.Stake

	// The prediction, aggregate, round total and volume counter commit as
	// one unit; a failure anywhere rolls all of them back.
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreatePrediction(ctx, pred); err != nil {
			return err
		}
		if err := tx.PutAggregate(ctx, agg); err != nil {
			return err
		}
		if err := tx.SetRoundStake(ctx, key, newTotal); err != nil {
			return err
		}
		return tx.AddVolume(ctx, req.Stake)
	})
	if err != nil {
		// Return the stake; the submission never happened.
		if rerr := s.ledger.Transfer(ctx, escrow.AccountEscrow, req.Predictor, req.Stake); rerr != nil {
			slog.Error("stake refund failed", "predictor", req.Predictor, "err", rerr)
		}
		if errors.Is(err, store.ErrAlreadyExists) {
			rejected(w, "submit", ErrAlreadyPredicted)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.PredictionsTotal.WithLabelValues(req.Sentiment.String()).Inc()
	metrics.StakedVolume.Add(float64(req.Stake))
	slog.Info("prediction accepted",
		"asset", req.Asset,
		"round", req.RoundID,
		"predictor", req.Predictor,
		"sentiment", req.Sentiment.String(),
		"predicted_price", req.PredictedPrice,
		"stake", req.Stake,
		"total_staked", newTotal,
	)

	s.broadcast(Event{
		Type:      EventPredictionAccepted,
		Asset:     req.Asset,
		RoundID:   req.RoundID,
		Predictor: req.Predictor,
		Sentiment: req.Sentiment.String(),
		Weighted:  agg.Weighted,
	})

	writeJSON(w, http.StatusOK, SubmitResponse{
		Prediction:  *pred,
		TotalStaked: newTotal,
		StakeTokens: model.Tokens(req.Stake),
	})
}

// ResolveRound handles POST /api/v1/rounds/{asset}/{roundID}/resolve.
// Only the protocol owner or the round creator may resolve, and only at or
// after the target height. The final price is an externally asserted input
// trusted to the resolving authority.
func (s *Service) ResolveRound(w http.ResponseWriter, r *http.Request) {
	key, ok := roundKeyParam(w, r)
	if !ok {
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.FinalPrice == 0 {
		rejected(w, "resolve", ErrInvalidTimeframe)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	round, err := s.store.GetRound(ctx, key)
	if err != nil {
		rejected(w, "resolve", err)
		return
	}
	if req.Caller != round.Creator && !s.params.IsOwner(req.Caller) {
		rejected(w, "resolve", ErrOwnerOnly)
		return
	}
	if round.Resolved {
		rejected(w, "resolve", ErrAlreadyResolved)
		return
	}
	if s.heights.Height() < round.TargetHeight {
		rejected(w, "resolve", ErrPredictionActive)
		return
	}

	if err := s.store.MarkResolved(ctx, key, req.FinalPrice); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	round.FinalPrice = req.FinalPrice
	round.Resolved = true

	metrics.RoundsResolved.WithLabelValues(key.Asset).Inc()
	slog.Info("round resolved",
		"asset", key.Asset,
		"round", key.RoundID,
		"final_price", req.FinalPrice,
		"total_staked", round.TotalStaked,
		"resolver", req.Caller,
	)

	s.broadcast(Event{
		Type:    EventRoundResolved,
		Asset:   key.Asset,
		RoundID: key.RoundID,
		Phase:   model.PhaseResolved,
	})

	writeJSON(w, http.StatusOK, round)
}

// ClaimReward handles POST /api/v1/rounds/{asset}/{roundID}/claim.
// Scores the caller's prediction against the resolved price, pays the net
// reward from escrow, and folds the outcome into the predictor's
// reputation. The rewarded flag makes the claim exactly-once.
func (s *Service) ClaimReward(w http.ResponseWriter, r *http.Request) {
	key, ok := roundKeyParam(w, r)
	if !ok {
		return
	}

	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Predictor == "" {
		writeError(w, "predictor is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	round, err := s.store.GetRound(ctx, key)
	if err != nil {
		rejected(w, "claim", err)
		return
	}
	if !round.Resolved {
		rejected(w, "claim", ErrPredictionActive)
		return
	}

	pkey := model.PredictionKey{Asset: key.Asset, RoundID: key.RoundID, Predictor: req.Predictor}
	pred, err := s.store.GetPrediction(ctx, pkey)
	if err != nil {
		rejected(w, "claim", err)
		return
	}
	if pred.Rewarded {
		rejected(w, "claim", ErrAlreadyRewarded)
		return
	}

	accuracy := scoring.Score(pred.PredictedPrice, round.FinalPrice, pred.Sentiment, round.InitialPrice)
	gross := reward.Gross(accuracy, pred.Stake, round.TotalStaked)
	fee := reward.Fee(gross, s.params.FeePercent())
	net := gross - fee
	correct := reward.IsCorrect(accuracy)

	// Pay out before marking: a failed transfer leaves the claim open.
	if net > 0 {
		if err := s.ledger.Transfer(ctx, escrow.AccountEscrow, req.Predictor, net); err != nil {
			rejected(w, "claim", err)
			return
		}
	}
	feePaid := false
	if fee > 0 {
		if err := s.ledger.Transfer(ctx, escrow.AccountEscrow, escrow.AccountTreasury, fee); err != nil {
			slog.Error("fee transfer failed", "asset", key.Asset, "round", key.RoundID, "err", err)
		} else {
			feePaid = true
		}
	}

	// The reward mark and the reputation update commit together. If the
	// commit fails the payout is reversed, so a retried claim cannot pay
	// twice.
	var rec *model.Reputation
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.MarkRewarded(ctx, pkey); err != nil {
			return err
		}
		var err error
		if rec, err = tx.GetReputation(ctx, req.Predictor); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			rec = reputation.New(req.Predictor)
		}
		reputation.Apply(rec, correct, net)
		return tx.PutReputation(ctx, rec)
	})
	if err != nil {
		if net > 0 {
			if rerr := s.ledger.Transfer(ctx, req.Predictor, escrow.AccountEscrow, net); rerr != nil {
				slog.Error("reward refund failed", "predictor", req.Predictor, "err", rerr)
			}
		}
		if feePaid {
			if rerr := s.ledger.Transfer(ctx, escrow.AccountTreasury, escrow.AccountEscrow, fee); rerr != nil {
				slog.Error("fee refund failed", "asset", key.Asset, "round", key.RoundID, "err", rerr)
			}
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.ClaimsTotal.WithLabelValues(strconv.FormatBool(correct)).Inc()
	metrics.RewardsPaid.Add(float64(net))
	metrics.FeesCollected.Add(float64(fee))
	slog.Info("reward claimed",
		"asset", key.Asset,
		"round", key.RoundID,
		"predictor", req.Predictor,
		"accuracy", accuracy,
		"net_reward", net,
		"fee", fee,
		"correct", correct,
		"reputation", rec.Score,
	)

	s.broadcast(Event{
		Type:      EventRewardClaimed,
		Asset:     key.Asset,
		RoundID:   key.RoundID,
		Predictor: req.Predictor,
	})

	writeJSON(w, http.StatusOK, ClaimResponse{
		AccuracyScore: accuracy,
		RewardAmount:  net,
		ProtocolFee:   fee,
		IsCorrect:     correct,
		RewardTokens:  model.Tokens(net),
		FeeTokens:     model.Tokens(fee),
	})
}

// UpdateParams handles PUT /api/v1/admin/params. Owner only.
func (s *Service) UpdateParams(w http.ResponseWriter, r *http.Request) {
	var req ParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.params.Update(req.Caller, req.MinStake, req.FeePercent); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("params updated",
		"caller", req.Caller,
		"min_stake", s.params.MinStake(),
		"fee_percent", s.params.FeePercent(),
	)

	writeJSON(w, http.StatusOK, ParamsResponse{
		MinStake:   s.params.MinStake(),
		FeePercent: s.params.FeePercent(),
	})
}

// --- Read-only views ---

// GetRound handles GET /api/v1/rounds/{asset}/{roundID}.
func (s *Service) GetRound(w http.ResponseWriter, r *http.Request) {
	key, ok := roundKeyParam(w, r)
	if !ok {
		return
	}

	round, err := s.store.GetRound(r.Context(), key)
	if err != nil {
		writeError(w, "round not found", statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, RoundView{
		Round:        *round,
		Phase:        round.Phase(s.heights.Height()),
		StakedTokens: model.Tokens(round.TotalStaked),
	})
}

// ListRounds handles GET /api/v1/rounds, optionally filtered by ?asset=.
func (s *Service) ListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.store.ListRounds(r.Context(), r.URL.Query().Get("asset"))
	if err != nil {
		writeError(w, "failed to list rounds", http.StatusInternalServerError)
		return
	}
	if rounds == nil {
		rounds = []model.Round{}
	}

	height := s.heights.Height()
	views := make([]RoundView, 0, len(rounds))
	for _, round := range rounds {
		views = append(views, RoundView{
			Round:        round,
			Phase:        round.Phase(height),
			StakedTokens: model.Tokens(round.TotalStaked),
		})
	}

	writeJSON(w, http.StatusOK, views)
}

// GetSentiment handles GET /api/v1/rounds/{asset}/{roundID}/sentiment.
func (s *Service) GetSentiment(w http.ResponseWriter, r *http.Request) {
	key, ok := roundKeyParam(w, r)
	if !ok {
		return
	}

	agg, err := s.store.GetAggregate(r.Context(), key)
	if err != nil {
		writeError(w, "sentiment aggregate not found", statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, agg)
}

// GetPrediction handles GET /api/v1/rounds/{asset}/{roundID}/predictions/{predictor}.
func (s *Service) GetPrediction(w http.ResponseWriter, r *http.Request) {
	key, ok := roundKeyParam(w, r)
	if !ok {
		return
	}
	predictor := chi.URLParam(r, "predictor")

	pred, err := s.store.GetPrediction(r.Context(), model.PredictionKey{
		Asset:     key.Asset,
		RoundID:   key.RoundID,
		Predictor: predictor,
	})
	if err != nil {
		writeError(w, "prediction not found", statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, pred)
}

// GetReputation handles GET /api/v1/reputation/{predictor}.
func (s *Service) GetReputation(w http.ResponseWriter, r *http.Request) {
	predictor := chi.URLParam(r, "predictor")

	rec, err := s.store.GetReputation(r.Context(), predictor)
	if err != nil {
		writeError(w, "reputation not found", statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetStats handles GET /api/v1/stats.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		writeError(w, "failed to load stats", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Stats:        *stats,
		VolumeTokens: model.Tokens(stats.TotalVolume),
	})
}

// --- Helpers ---

func (s *Service) broadcast(ev Event) {
	if s.hub != nil {
		s.hub.Broadcast(ev)
	}
}

// roundKeyParam parses the {asset}/{roundID} URL parameters.
func roundKeyParam(w http.ResponseWriter, r *http.Request) (model.RoundKey, bool) {
	asset := chi.URLParam(r, "asset")
	idStr := chi.URLParam(r, "roundID")

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return model.RoundKey{}, false
	}
	return model.RoundKey{Asset: asset, RoundID: id}, true
}

// rejected records a guard rejection and writes the error response.
func rejected(w http.ResponseWriter, op string, err error) {
	metrics.GuardRejections.WithLabelValues(op, reason(err)).Inc()
	writeError(w, err.Error(), statusFor(err))
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
