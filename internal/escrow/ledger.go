// Package escrow is the boundary to the ledger system holding the staked
// currency. The round engine only ever asks it to move funds between a
// caller account and the two protocol accounts; account custody, balances
// and settlement belong to the host ledger.
package escrow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Protocol-owned accounts. Stakes sit in AccountEscrow between submission
// and claim; fees accumulate in AccountTreasury.
const (
	AccountEscrow   = "protocol:escrow"
	AccountTreasury = "protocol:treasury"
)

var (
	// ErrInsufficientFunds is returned when the source account cannot
	// cover the transfer.
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")

	// ErrZeroAmount is returned for transfers of zero units.
	ErrZeroAmount = errors.New("escrow: transfer amount must be positive")
)

// Ledger moves staked currency between accounts. Implementations must make
// each transfer atomic: either the full amount moves or nothing does.
type Ledger interface {
	// Transfer moves amount micro-units from one account to another.
	Transfer(ctx context.Context, from, to string, amount uint64) error

	// Balance returns the current balance of an account in micro-units.
	Balance(ctx context.Context, account string) (uint64, error)
}

// Entry is an immutable record of one completed transfer.
type Entry struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    uint64          `json:"amount"`
	Tokens    decimal.Decimal `json:"tokens"` // display denomination
	Timestamp time.Time       `json:"timestamp"`
}

// MemoryLedger implements Ledger with in-process balances. Used for
// development and tests; production deployments plug the host ledger in.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]uint64
	entries  []Entry
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]uint64)}
}

// Mint credits an account out of thin air. Test and bootstrap helper;
// the host ledger's deposits play this role in production.
func (l *MemoryLedger) Mint(account string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

func (l *MemoryLedger) Transfer(_ context.Context, from, to string, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[from] < amount {
		return ErrInsufficientFunds
	}
	l.balances[from] -= amount
	l.balances[to] += amount

	l.entries = append(l.entries, Entry{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Amount:    amount,
		Tokens:    decimal.NewFromUint64(amount).Shift(-6),
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (l *MemoryLedger) Balance(_ context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

// Entries returns a copy of the transfer log, oldest first.
func (l *MemoryLedger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
