package world

import (
	"fmt"

	"github.com/Scrimzay/rtsim/internal/techtree"
	"github.com/Scrimzay/rtsim/internal/types"
)

type MoveState uint8

const (
	StateIdle MoveState = iota
	StateMoving
	StateGathering
	StateReturning
	StateAttacking
)

func (s MoveState) String() string {
	switch s {
	case StateIdle:
		return "idle"

	case StateMoving:
		return "moving"

	case StateGathering:
		return "gathering"

	case StateReturning:
		return "returning"

	case StateAttacking:
		return "attacking"

	default:
		return "unknown"
	}
}

func (s MoveState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *MoveState) UnmarshalText(b []byte) error {
	for v := StateIdle; v <= StateAttacking; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown move state %q", b)
}

type OrderKind uint8

const (
	OrderNone OrderKind = iota
	OrderMove
	OrderGather
	OrderReturn
)

func (k OrderKind) String() string {
	switch k {
	case OrderMove:
		return "move"

	case OrderGather:
		return "gather"

	case OrderReturn:
		return "return"

	default:
		return "none"
	}
}

func (k OrderKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *OrderKind) UnmarshalText(b []byte) error {
	for v := OrderNone; v <= OrderReturn; v++ {
		if v.String() == string(b) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("unknown order %q", b)
}

// Order is what a unit is walking toward. Paths are not shipped over the
// wire, replicas rebuild them from Dest.
type Order struct {
	Kind OrderKind   `json:"kind"`
	Dest types.Point `json:"dest"`
}

type Carried struct {
	Kind   types.ResourceKind `json:"kind"`
	Amount int                `json:"amount"`
}

// Ability names accepted by activateAbility
const (
	AbilityStealth = "stealth"
)

// this is for per-unit attributes
type Unit struct {
	ID      types.EntityID
	Owner   types.PlayerID
	Faction types.Faction
	Kind    types.UnitKind

	X, Y float64 // Tile space, centers on integers

	Health    float64
	MaxHealth float64
	Attack    float64
	Defense   float64
	Speed     float64 // Tiles per second
	Range     float64

	State MoveState
	Order Order
	Path  []types.Point

	Carried    *Carried
	GatherTile *types.Point // Resource tile the unit keeps coming back to
	GatherKind types.ResourceKind
	Target     types.EntityID

	LastStand       bool // Stripling protection still unused
	StealthTicks    int
	AbilityCooldown int

	gatherProgress float64 // Fractional gather carried between gather ticks
}

func (u *Unit) Tile() types.Point {
	return types.TileAt(u.X, u.Y)
}

func (u *Unit) Stealthed() bool {
	return u.StealthTicks > 0
}

func (u *Unit) carrying() int {
	if u.Carried == nil {
		return 0
	}
	return u.Carried.Amount
}

// newUnit builds a unit from base stats plus the owner's researched modifiers.
func newUnit(id types.EntityID, owner types.PlayerID, faction types.Faction, kind types.UnitKind, at types.Point, mods []techtree.Effect) *Unit {
	base := kind.BaseStats()
	u := &Unit{
		ID:        id,
		Owner:     owner,
		Faction:   faction,
		Kind:      kind,
		X:         float64(at.X),
		Y:         float64(at.Y),
		MaxHealth: base.MaxHealth,
		Attack:    base.Attack,
		Defense:   base.Defense,
		Speed:     base.Speed,
		Range:     base.Range,
		State:     StateIdle,
		LastStand: kind == types.UnitStriplingWarrior,
	}
	for _, e := range mods {
		if e.Stat.IsUnitStat() && e.Covers(kind) {
			u.applyStat(e.Stat, e.Modifier)
		}
	}
	u.Health = u.MaxHealth
	return u
}

// applyStat mutates one stat. Max health changes drag current health along.
func (u *Unit) applyStat(stat techtree.Stat, m techtree.Modifier) {
	switch stat {
	case techtree.StatAttack:
		u.Attack = m.Apply(u.Attack)

	case techtree.StatDefense:
		u.Defense = m.Apply(u.Defense)

	case techtree.StatSpeed:
		u.Speed = m.Apply(u.Speed)

	case techtree.StatRange:
		u.Range = m.Apply(u.Range)

	case techtree.StatMaxHealth:
		old := u.MaxHealth
		u.MaxHealth = m.Apply(u.MaxHealth)
		if m.Op == techtree.OpMul {
			u.Health = u.Health * u.MaxHealth / old
		} else {
			u.Health += u.MaxHealth - old
		}
		if u.Health > u.MaxHealth {
			u.Health = u.MaxHealth
		}
	}
}

func (u *Unit) clearOrder() {
	u.Path = nil
	u.Order = Order{}
}

func (u *Unit) goIdle() {
	u.clearOrder()
	u.State = StateIdle
	u.Target = 0
}
