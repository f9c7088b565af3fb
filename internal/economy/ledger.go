package economy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Scrimzay/rtsim/internal/types"
	"github.com/sasha-s/go-deadlock"
)

var (
	ErrInsufficientResources = errors.New("insufficient resources")
	ErrUnknownPlayer         = errors.New("unknown player")
	ErrNegativeAmount        = errors.New("negative amount")
)

// Ledger keeps food/ore balances per player. HasEnough, Deduct and Deposit are
// the only primitives the simulation mutates balances through.
type Ledger struct {
	mu       deadlock.Mutex
	balances map[types.PlayerID]*types.Cost
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[types.PlayerID]*types.Cost)}
}

// Open registers a player with a starting balance. Reopening resets the balance.
func (l *Ledger) Open(player types.PlayerID, initial types.Cost) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := initial
	l.balances[player] = &b
}

func (l *Ledger) Balance(player types.PlayerID) (types.Cost, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[player]
	if !ok {
		return types.Cost{}, false
	}
	return *b, true
}

func (l *Ledger) Players() []types.PlayerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.PlayerID, 0, len(l.balances))
	for p := range l.balances {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (l *Ledger) HasEnough(player types.PlayerID, cost types.Cost) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[player]
	return ok && b.Covers(cost)
}

// Deduct takes both amounts or neither.
func (l *Ledger) Deduct(player types.PlayerID, cost types.Cost) error {
	if cost.Food < 0 || cost.Ore < 0 {
		return ErrNegativeAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[player]
	if !ok {
		return fmt.Errorf("deduct %s: %w", player, ErrUnknownPlayer)
	}
	if !b.Covers(cost) {
		return fmt.Errorf("need %s, have %s: %w", cost, *b, ErrInsufficientResources)
	}
	b.Food -= cost.Food
	b.Ore -= cost.Ore
	return nil
}

func (l *Ledger) Deposit(player types.PlayerID, kind types.ResourceKind, amount int) error {
	switch kind {
	case types.ResourceFood:
		return l.Refund(player, types.Cost{Food: amount})

	case types.ResourceOre:
		return l.Refund(player, types.Cost{Ore: amount})

	default:
		return fmt.Errorf("deposit %v: unknown resource", kind)
	}
}

// Refund credits a whole cost back, used when queued production is cancelled.
func (l *Ledger) Refund(player types.PlayerID, cost types.Cost) error {
	if cost.Food < 0 || cost.Ore < 0 {
		return ErrNegativeAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[player]
	if !ok {
		return fmt.Errorf("deposit %s: %w", player, ErrUnknownPlayer)
	}
	b.Food += cost.Food
	b.Ore += cost.Ore
	return nil
}

// Set overwrites a balance. Only the client replica uses this, to take the
// server's numbers verbatim.
func (l *Ledger) Set(player types.PlayerID, balance types.Cost) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := balance
	l.balances[player] = &b
}
