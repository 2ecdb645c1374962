package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stakecast/round-engine/internal/model"
)

// pgDB is the query surface shared by pgxpool.Pool and pgx.Tx, so the same
// store methods run either directly against the pool or inside WithTx.
type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Amounts and prices are stored as BIGINT micro-units.
type PostgresStore struct {
	db pgDB
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

// WithTx runs fn against a store bound to a single transaction. Inside an
// existing transaction this opens a savepoint, so nesting behaves.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PostgresStore) CreateRound(ctx context.Context, r *model.Round, agg *model.SentimentAggregate) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO rounds (asset, round_id, start_height, end_height, target_height,
		                     initial_price, final_price, total_staked, resolved, creator, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.Asset, int64(r.RoundID), int64(r.StartHeight), int64(r.EndHeight), int64(r.TargetHeight),
		int64(r.InitialPrice), int64(r.FinalPrice), int64(r.TotalStaked), r.Resolved, r.Creator, r.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO sentiment_aggregates (asset, round_id, bearish_count, neutral_count,
		                                   bullish_count, total_predictions, weighted_sentiment)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		agg.Asset, int64(agg.RoundID), int64(agg.Bearish), int64(agg.Neutral),
		int64(agg.Bullish), int64(agg.Total), int64(agg.Weighted),
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetRound(ctx context.Context, key model.RoundKey) (*model.Round, error) {
	var r model.Round
	var roundID, startH, endH, targetH, initial, final, staked int64

	err := s.db.QueryRow(ctx,
		`SELECT asset, round_id, start_height, end_height, target_height,
		        initial_price, final_price, total_staked, resolved, creator, created_at
		 FROM rounds WHERE asset = $1 AND round_id = $2`, key.Asset, int64(key.RoundID)).
		Scan(&r.Asset, &roundID, &startH, &endH, &targetH,
			&initial, &final, &staked, &r.Resolved, &r.Creator, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get round %s/%d: %w", key.Asset, key.RoundID, err)
	}

	r.RoundID = uint64(roundID)
	r.StartHeight = uint64(startH)
	r.EndHeight = uint64(endH)
	r.TargetHeight = uint64(targetH)
	r.InitialPrice = uint64(initial)
	r.FinalPrice = uint64(final)
	r.TotalStaked = uint64(staked)
	return &r, nil
}

func (s *PostgresStore) ListRounds(ctx context.Context, asset string) ([]model.Round, error) {
	query := `SELECT asset, round_id, start_height, end_height, target_height,
	                 initial_price, final_price, total_staked, resolved, creator, created_at
	          FROM rounds`
	args := []any{}
	if asset != "" {
		query += ` WHERE asset = $1`
		args = append(args, asset)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []model.Round
	for rows.Next() {
		var r model.Round
		var roundID, startH, endH, targetH, initial, final, staked int64
		if err := rows.Scan(&r.Asset, &roundID, &startH, &endH, &targetH,
			&initial, &final, &staked, &r.Resolved, &r.Creator, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.RoundID = uint64(roundID)
		r.StartHeight = uint64(startH)
		r.EndHeight = uint64(endH)
		r.TargetHeight = uint64(targetH)
		r.InitialPrice = uint64(initial)
		r.FinalPrice = uint64(final)
		r.TotalStaked = uint64(staked)
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func (s *PostgresStore) SetRoundStake(ctx context.Context, key model.RoundKey, totalStaked uint64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE rounds SET total_staked = $3 WHERE asset = $1 AND round_id = $2`,
		key.Asset, int64(key.RoundID), int64(totalStaked))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkResolved(ctx context.Context, key model.RoundKey, finalPrice uint64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE rounds SET final_price = $3, resolved = TRUE WHERE asset = $1 AND round_id = $2`,
		key.Asset, int64(key.RoundID), int64(finalPrice))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreatePrediction(ctx context.Context, p *model.Prediction) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO predictions (asset, round_id, predictor, sentiment, predicted_price,
		                          stake, submit_height, rewarded)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.Asset, int64(p.RoundID), p.Predictor, int16(p.Sentiment), int64(p.PredictedPrice),
		int64(p.Stake), int64(p.SubmitHeight), p.Rewarded,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *PostgresStore) GetPrediction(ctx context.Context, key model.PredictionKey) (*model.Prediction, error) {
	var p model.Prediction
	var roundID, predicted, stake, submitH int64
	var sentiment int16

	err := s.db.QueryRow(ctx,
		`SELECT asset, round_id, predictor, sentiment, predicted_price, stake, submit_height, rewarded
		 FROM predictions WHERE asset = $1 AND round_id = $2 AND predictor = $3`,
		key.Asset, int64(key.RoundID), key.Predictor).
		Scan(&p.Asset, &roundID, &p.Predictor, &sentiment, &predicted, &stake, &submitH, &p.Rewarded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get prediction %s/%d/%s: %w", key.Asset, key.RoundID, key.Predictor, err)
	}

	p.RoundID = uint64(roundID)
	p.Sentiment = model.Sentiment(sentiment)
	p.PredictedPrice = uint64(predicted)
	p.Stake = uint64(stake)
	p.SubmitHeight = uint64(submitH)
	return &p, nil
}

func (s *PostgresStore) ListPredictionsByRound(ctx context.Context, key model.RoundKey) ([]model.Prediction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT asset, round_id, predictor, sentiment, predicted_price, stake, submit_height, rewarded
		 FROM predictions WHERE asset = $1 AND round_id = $2 ORDER BY submit_height`,
		key.Asset, int64(key.RoundID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var predictions []model.Prediction
	for rows.Next() {
		var p model.Prediction
		var roundID, predicted, stake, submitH int64
		var sentiment int16
		if err := rows.Scan(&p.Asset, &roundID, &p.Predictor, &sentiment,
			&predicted, &stake, &submitH, &p.Rewarded); err != nil {
			return nil, err
		}
		p.RoundID = uint64(roundID)
		p.Sentiment = model.Sentiment(sentiment)
		p.PredictedPrice = uint64(predicted)
		p.Stake = uint64(stake)
		p.SubmitHeight = uint64(submitH)
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}

func (s *PostgresStore) MarkRewarded(ctx context.Context, key model.PredictionKey) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE predictions SET rewarded = TRUE
		 WHERE asset = $1 AND round_id = $2 AND predictor = $3`,
		key.Asset, int64(key.RoundID), key.Predictor)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetAggregate(ctx context.Context, key model.RoundKey) (*model.SentimentAggregate, error) {
	var agg model.SentimentAggregate
	var roundID, bearish, neutral, bullish, total, weighted int64

	err := s.db.QueryRow(ctx,
		`SELECT asset, round_id, bearish_count, neutral_count, bullish_count,
		        total_predictions, weighted_sentiment
		 FROM sentiment_aggregates WHERE asset = $1 AND round_id = $2`,
		key.Asset, int64(key.RoundID)).
		Scan(&agg.Asset, &roundID, &bearish, &neutral, &bullish, &total, &weighted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get aggregate %s/%d: %w", key.Asset, key.RoundID, err)
	}

	agg.RoundID = uint64(roundID)
	agg.Bearish = uint64(bearish)
	agg.Neutral = uint64(neutral)
	agg.Bullish = uint64(bullish)
	agg.Total = uint64(total)
	agg.Weighted = uint64(weighted)
	return &agg, nil
}

func (s *PostgresStore) PutAggregate(ctx context.Context, agg *model.SentimentAggregate) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE sentiment_aggregates
		 SET bearish_count = $3, neutral_count = $4, bullish_count = $5,
		     total_predictions = $6, weighted_sentiment = $7
		 WHERE asset = $1 AND round_id = $2`,
		agg.Asset, int64(agg.RoundID), int64(agg.Bearish), int64(agg.Neutral),
		int64(agg.Bullish), int64(agg.Total), int64(agg.Weighted))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetReputation(ctx context.Context, predictor string) (*model.Reputation, error) {
	var rec model.Reputation
	var total, correct, earnings, score int64

	err := s.db.QueryRow(ctx,
		`SELECT predictor, total_predictions, correct_predictions, net_earnings, reputation_score
		 FROM reputations WHERE predictor = $1`, predictor).
		Scan(&rec.Predictor, &total, &correct, &earnings, &score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reputation %s: %w", predictor, err)
	}

	rec.Total = uint64(total)
	rec.Correct = uint64(correct)
	rec.NetEarnings = uint64(earnings)
	rec.Score = uint64(score)
	return &rec, nil
}

func (s *PostgresStore) PutReputation(ctx context.Context, rec *model.Reputation) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO reputations (predictor, total_predictions, correct_predictions,
		                          net_earnings, reputation_score)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (predictor) DO UPDATE
		 SET total_predictions = EXCLUDED.total_predictions,
		     correct_predictions = EXCLUDED.correct_predictions,
		     net_earnings = EXCLUDED.net_earnings,
		     reputation_score = EXCLUDED.reputation_score`,
		rec.Predictor, int64(rec.Total), int64(rec.Correct),
		int64(rec.NetEarnings), int64(rec.Score))
	return err
}

func (s *PostgresStore) NextRoundID(ctx context.Context) (uint64, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`UPDATE engine_stats SET total_rounds = total_rounds + 1
		 WHERE singleton = TRUE
		 RETURNING total_rounds`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("next round id: %w", err)
	}
	return uint64(id), nil
}

func (s *PostgresStore) AddVolume(ctx context.Context, amount uint64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE engine_stats SET total_volume = total_volume + $1 WHERE singleton = TRUE`,
		int64(amount))
	return err
}

func (s *PostgresStore) GetStats(ctx context.Context) (*model.Stats, error) {
	var rounds, volume int64
	err := s.db.QueryRow(ctx,
		`SELECT total_rounds, total_volume FROM engine_stats WHERE singleton = TRUE`).
		Scan(&rounds, &volume)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return &model.Stats{TotalRounds: uint64(rounds), TotalVolume: uint64(volume)}, nil
}
