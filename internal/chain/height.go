// Package chain abstracts the host's notion of current block height.
//
// The engine never reads wall-clock time directly: every deadline in a
// round is expressed in block heights, and the height source is the single
// authority for "now". Production deployments wire the hosting ledger's
// height; the interval clock below derives a height from a genesis instant
// for standalone operation.
package chain

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrInvalidInterval is returned when a clock is configured with a
// non-positive block interval.
var ErrInvalidInterval = errors.New("chain: block interval must be positive")

// HeightSource reports the current block height.
type HeightSource interface {
	Height() uint64
}

// IntervalClock derives the current height from elapsed time since a
// genesis instant at a fixed block interval. Height is monotonic as long
// as the process clock is.
type IntervalClock struct {
	genesis  time.Time
	interval time.Duration
}

// NewIntervalClock creates a height source ticking once per interval
// starting at genesis.
func NewIntervalClock(genesis time.Time, interval time.Duration) (*IntervalClock, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &IntervalClock{genesis: genesis, interval: interval}, nil
}

// Height returns the number of whole intervals elapsed since genesis.
func (c *IntervalClock) Height() uint64 {
	elapsed := time.Since(c.genesis)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / c.interval)
}

// Manual is a height source advanced explicitly. Used in tests and by
// hosts that push height updates instead of deriving them from time.
type Manual struct {
	height atomic.Uint64
}

// NewManual creates a manual height source at the given height.
func NewManual(height uint64) *Manual {
	m := &Manual{}
	m.height.Store(height)
	return m
}

// Height returns the currently set height.
func (m *Manual) Height() uint64 {
	return m.height.Load()
}

// Set moves the source to the given height.
func (m *Manual) Set(height uint64) {
	m.height.Store(height)
}

// Advance moves the source forward by delta blocks.
func (m *Manual) Advance(delta uint64) {
	m.height.Add(delta)
}
