package types

import "fmt"

type UnitKind uint8

const (
	UnitWorker UnitKind = iota + 1
	UnitMelee
	UnitRanged
	UnitCavalry
	UnitHero
	UnitStriplingWarrior
	UnitLamaniteScout
)

var AllUnitKinds = []UnitKind{
	UnitWorker, UnitMelee, UnitRanged, UnitCavalry, UnitHero, UnitStriplingWarrior, UnitLamaniteScout,
}

func (k UnitKind) String() string {
	switch k {
	case UnitWorker:
		return "worker"

	case UnitMelee:
		return "melee"

	case UnitRanged:
		return "ranged"

	case UnitCavalry:
		return "cavalry"

	case UnitHero:
		return "hero"

	case UnitStriplingWarrior:
		return "striplingWarrior"

	case UnitLamaniteScout:
		return "lamaniteScout"

	default:
		return "unknown"
	}
}

func ParseUnitKind(s string) (UnitKind, error) {
	for _, k := range AllUnitKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown unit type %q", s)
}

func (k UnitKind) Valid() bool {
	return k >= UnitWorker && k <= UnitLamaniteScout
}

func (k UnitKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid unit kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *UnitKind) UnmarshalText(b []byte) error {
	v, err := ParseUnitKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Base numbers before any research. Speed is tiles per second, range is in tiles.
type Stats struct {
	MaxHealth float64 `json:"maxHealth"`
	Attack    float64 `json:"attack"`
	Defense   float64 `json:"defense"`
	Speed     float64 `json:"speed"`
	Range     float64 `json:"range"`
}

func (k UnitKind) BaseStats() Stats {
	switch k {
	case UnitWorker:
		return Stats{MaxHealth: 40, Attack: 3, Defense: 0, Speed: 2.0, Range: 1.5}

	case UnitMelee:
		return Stats{MaxHealth: 100, Attack: 12, Defense: 3, Speed: 1.8, Range: 1.5}

	case UnitRanged:
		return Stats{MaxHealth: 70, Attack: 10, Defense: 1, Speed: 1.8, Range: 5}

	case UnitCavalry:
		return Stats{MaxHealth: 120, Attack: 14, Defense: 2, Speed: 3.0, Range: 1.5}

	case UnitHero:
		return Stats{MaxHealth: 300, Attack: 25, Defense: 6, Speed: 2.2, Range: 1.5}

	case UnitStriplingWarrior:
		return Stats{MaxHealth: 110, Attack: 13, Defense: 4, Speed: 2.0, Range: 1.5}

	case UnitLamaniteScout:
		return Stats{MaxHealth: 60, Attack: 9, Defense: 1, Speed: 3.2, Range: 4}

	default:
		return Stats{}
	}
}

func (k UnitKind) Cost() Cost {
	switch k {
	case UnitWorker:
		return Cost{Food: 50}

	case UnitMelee:
		return Cost{Food: 60, Ore: 20}

	case UnitRanged:
		return Cost{Food: 50, Ore: 40}

	case UnitCavalry:
		return Cost{Food: 80, Ore: 60}

	case UnitHero:
		return Cost{Food: 200, Ore: 150}

	case UnitStriplingWarrior:
		return Cost{Food: 70, Ore: 40}

	case UnitLamaniteScout:
		return Cost{Food: 60, Ore: 30}

	default:
		return Cost{}
	}
}

// Seconds of production at 1x speed
func (k UnitKind) BuildTime() float64 {
	switch k {
	case UnitWorker:
		return 10

	case UnitMelee:
		return 15

	case UnitRanged:
		return 18

	case UnitCavalry:
		return 22

	case UnitHero:
		return 40

	case UnitStriplingWarrior:
		return 20

	case UnitLamaniteScout:
		return 16

	default:
		return 0
	}
}

// How much a unit hauls before it has to walk back to a depot. Zero means it cant gather.
func (k UnitKind) CarryCapacity() int {
	switch k {
	case UnitWorker:
		return 12

	default:
		return 0
	}
}

// Workers never pick fights on their own
func (k UnitKind) IsCombatant() bool {
	switch k {
	case UnitMelee, UnitRanged, UnitCavalry, UnitHero, UnitStriplingWarrior, UnitLamaniteScout:
		return true

	default:
		return false
	}
}

// Faction that may train this kind, FactionNone means anyone
func (k UnitKind) RequiredFaction() Faction {
	switch k {
	case UnitStriplingWarrior:
		return FactionNephite

	case UnitLamaniteScout:
		return FactionLamanite

	default:
		return FactionNone
	}
}

// Kinds this one deals 1.5x against
func (k UnitKind) Counters() []UnitKind {
	switch k {
	case UnitMelee:
		return []UnitKind{UnitCavalry}

	case UnitCavalry:
		return []UnitKind{UnitRanged}

	case UnitRanged:
		return []UnitKind{UnitMelee}

	case UnitHero:
		return []UnitKind{UnitMelee, UnitCavalry}

	case UnitStriplingWarrior:
		return []UnitKind{UnitRanged, UnitLamaniteScout}

	case UnitLamaniteScout:
		return []UnitKind{UnitWorker, UnitRanged}

	default:
		return nil
	}
}

// Inverse of Counters: attackers that get the 1.5x against this kind
func (k UnitKind) WeakTo() []UnitKind {
	var out []UnitKind
	for _, a := range AllUnitKinds {
		if a.Beats(k) {
			out = append(out, a)
		}
	}
	return out
}

func (k UnitKind) Beats(target UnitKind) bool {
	for _, c := range k.Counters() {
		if c == target {
			return true
		}
	}
	return false
}

// Second table, kept apart from the counter table on purpose. Attackers listed
// here deal an extra 1.25x to this kind, on top of any counter bonus.
func (k UnitKind) Weaknesses() []UnitKind {
	switch k {
	case UnitWorker:
		return []UnitKind{UnitCavalry, UnitLamaniteScout}

	case UnitRanged:
		return []UnitKind{UnitCavalry}

	case UnitLamaniteScout:
		return []UnitKind{UnitRanged}

	case UnitHero:
		return []UnitKind{UnitRanged}

	default:
		return nil
	}
}

func (k UnitKind) VulnerableTo(attacker UnitKind) bool {
	for _, a := range k.Weaknesses() {
		if a == attacker {
			return true
		}
	}
	return false
}
