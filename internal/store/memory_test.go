package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stakecast/round-engine/internal/model"
)

func testRound(asset string, id uint64) (*model.Round, *model.SentimentAggregate) {
	r := &model.Round{
		Asset:        asset,
		RoundID:      id,
		StartHeight:  100,
		EndHeight:    110,
		TargetHeight: 115,
		InitialPrice: 100_000_000,
		Creator:      "owner",
	}
	agg := &model.SentimentAggregate{Asset: asset, RoundID: id}
	return r, agg
}

func TestMemoryStore_RoundLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	r, agg := testRound("BTC", 1)
	if err := s.CreateRound(ctx, r, agg); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRound(ctx, r, agg); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create: err = %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetRound(ctx, r.Key())
	if err != nil {
		t.Fatal(err)
	}
	if got.Asset != "BTC" || got.RoundID != 1 || got.InitialPrice != 100_000_000 {
		t.Fatalf("unexpected round: %+v", got)
	}

	if err := s.SetRoundStake(ctx, r.Key(), 5_000_000); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkResolved(ctx, r.Key(), 130_000_000); err != nil {
		t.Fatal(err)
	}

	got, _ = s.GetRound(ctx, r.Key())
	if !got.Resolved || got.FinalPrice != 130_000_000 || got.TotalStaked != 5_000_000 {
		t.Fatalf("after resolve: %+v", got)
	}
}

func TestMemoryStore_GetRoundNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetRound(context.Background(), model.RoundKey{Asset: "BTC", RoundID: 9}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_CopyOnRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r, agg := testRound("BTC", 1)
	s.CreateRound(ctx, r, agg)

	got, _ := s.GetRound(ctx, r.Key())
	got.TotalStaked = 999

	again, _ := s.GetRound(ctx, r.Key())
	if again.TotalStaked != 0 {
		t.Fatal("mutation through returned copy leaked into store")
	}
}

func TestMemoryStore_ListRoundsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for id := uint64(1); id <= 3; id++ {
		r, agg := testRound("BTC", id)
		s.CreateRound(ctx, r, agg)
	}
	r, agg := testRound("ETH", 4)
	s.CreateRound(ctx, r, agg)

	all, err := s.ListRounds(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("len = %d, want 4", len(all))
	}
	if all[0].RoundID != 4 || all[3].RoundID != 1 {
		t.Fatalf("not newest-first: %d..%d", all[0].RoundID, all[3].RoundID)
	}

	btc, _ := s.ListRounds(ctx, "BTC")
	if len(btc) != 3 || btc[0].RoundID != 3 {
		t.Fatalf("asset filter: %+v", btc)
	}
}

func TestMemoryStore_Predictions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r, agg := testRound("BTC", 1)
	s.CreateRound(ctx, r, agg)

	p := &model.Prediction{
		Asset:          "BTC",
		RoundID:        1,
		Predictor:      "alice",
		Sentiment:      model.Bullish,
		PredictedPrice: 120_000_000,
		Stake:          1_000_000,
		SubmitHeight:   102,
	}
	if err := s.CreatePrediction(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := s.CreatePrediction(ctx, p); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate prediction: err = %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetPrediction(ctx, p.Key())
	if err != nil {
		t.Fatal(err)
	}
	if got.Rewarded {
		t.Fatal("fresh prediction already rewarded")
	}

	if err := s.MarkRewarded(ctx, p.Key()); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetPrediction(ctx, p.Key())
	if !got.Rewarded {
		t.Fatal("MarkRewarded did not stick")
	}

	list, _ := s.ListPredictionsByRound(ctx, r.Key())
	if len(list) != 1 || list[0].Predictor != "alice" {
		t.Fatalf("list = %+v", list)
	}
}

func TestMemoryStore_Aggregates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r, agg := testRound("BTC", 1)
	s.CreateRound(ctx, r, agg)

	got, err := s.GetAggregate(ctx, r.Key())
	if err != nil {
		t.Fatal(err)
	}
	got.Bullish++
	got.Total++
	got.Weighted = 3
	if err := s.PutAggregate(ctx, got); err != nil {
		t.Fatal(err)
	}

	again, _ := s.GetAggregate(ctx, r.Key())
	if again.Bullish != 1 || again.Total != 1 || again.Weighted != 3 {
		t.Fatalf("aggregate = %+v", again)
	}

	// PutAggregate never creates rounds out of thin air.
	orphan := &model.SentimentAggregate{Asset: "ETH", RoundID: 7}
	if err := s.PutAggregate(ctx, orphan); !errors.Is(err, ErrNotFound) {
		t.Fatalf("orphan put: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_Reputation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.GetReputation(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	rec := &model.Reputation{Predictor: "alice", Total: 1, Correct: 1, Score: 100}
	if err := s.PutReputation(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetReputation(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.Score != 100 {
		t.Fatalf("score = %d, want 100", got.Score)
	}
}

func TestMemoryStore_Counters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := s.NextRoundID(ctx)
	if err != nil || id != 1 {
		t.Fatalf("first id = %d, %v; want 1", id, err)
	}
	id, _ = s.NextRoundID(ctx)
	if id != 2 {
		t.Fatalf("second id = %d, want 2", id)
	}

	s.AddVolume(ctx, 1_000_000)
	s.AddVolume(ctx, 500_000)

	st, err := s.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalRounds != 2 || st.TotalVolume != 1_500_000 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestMemoryStore_WithTxCommitsOrRestores(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	errBoom := errors.New("boom")
	r, agg := testRound("BTC", 1)
	err := s.WithTx(ctx, func(tx Store) error {
		if _, err := tx.NextRoundID(ctx); err != nil {
			return err
		}
		if err := tx.CreateRound(ctx, r, agg); err != nil {
			return err
		}
		if err := tx.AddVolume(ctx, 1_000_000); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}

	// Every write inside the failed transaction was rolled back.
	if _, err := s.GetRound(ctx, r.Key()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("round survived rollback: %v", err)
	}
	st, _ := s.GetStats(ctx)
	if st.TotalRounds != 0 || st.TotalVolume != 0 {
		t.Fatalf("stats after rollback = %+v", st)
	}

	err = s.WithTx(ctx, func(tx Store) error {
		return tx.CreateRound(ctx, r, agg)
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRound(ctx, r.Key()); err != nil {
		t.Fatalf("committed round missing: %v", err)
	}
}
