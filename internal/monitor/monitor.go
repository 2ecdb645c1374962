// Package monitor runs the periodic sweep over rounds awaiting resolution.
//
// Resolution is an externally triggered transition, so nothing in the
// engine forces it to happen; stakes in a round that nobody resolves stay
// escrowed indefinitely. The sweep does not resolve anything; it only
// surfaces the exposure through the resolvable-rounds gauge and the log.
package monitor

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/stakecast/round-engine/internal/chain"
	"github.com/stakecast/round-engine/internal/metrics"
	"github.com/stakecast/round-engine/internal/store"
)

// Sweeper periodically counts rounds past their target height that remain
// unresolved.
type Sweeper struct {
	store   store.Store
	heights chain.HeightSource
	cron    *cron.Cron
	baseCtx context.Context
}

// NewSweeper creates a sweeper over the given store and height source.
func NewSweeper(st store.Store, heights chain.HeightSource, baseCtx context.Context) *Sweeper {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Sweeper{
		store:   st,
		heights: heights,
		cron:    cron.New(),
		baseCtx: baseCtx,
	}
}

// Start schedules the sweep at the given cron spec (e.g. "@every 1m") and
// starts the scheduler.
func (s *Sweeper) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep(s.baseCtx) }); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("resolution sweep started", "spec", spec)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("resolution sweep stopped")
}

// Sweep counts resolvable rounds once and updates the gauge. Exported so
// hosts can trigger it outside the schedule.
func (s *Sweeper) Sweep(ctx context.Context) {
	rounds, err := s.store.ListRounds(ctx, "")
	if err != nil {
		slog.Error("resolution sweep failed", "err", err)
		return
	}

	height := s.heights.Height()
	var resolvable int
	var escrowed uint64
	for _, r := range rounds {
		if !r.Resolved && height >= r.TargetHeight {
			resolvable++
			escrowed += r.TotalStaked
		}
	}

	metrics.ResolvableRounds.Set(float64(resolvable))
	if resolvable > 0 {
		slog.Warn("rounds awaiting resolution",
			"count", resolvable,
			"escrowed_stake", escrowed,
			"height", height,
		)
	}
}
