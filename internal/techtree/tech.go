package techtree

import (
	"errors"
	"fmt"

	"github.com/Scrimzay/rtsim/internal/types"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var (
	ErrUnknownTech          = errors.New("unknown tech")
	ErrAlreadyResearched    = errors.New("already researched")
	ErrMissingPrerequisites = errors.New("missing prerequisites")
	ErrWrongFaction         = errors.New("tech not available to faction")
	ErrConditionUnmet       = errors.New("unlock condition not met")
)

type Stat string

const (
	StatAttack              Stat = "attack"
	StatDefense             Stat = "defense"
	StatMaxHealth           Stat = "maxHealth"
	StatSpeed               Stat = "speed"
	StatRange               Stat = "range"
	StatFoodGatherRate      Stat = "foodGatherRate"
	StatOreGatherRate       Stat = "oreGatherRate"
	StatUnitProductionSpeed Stat = "unitProductionSpeed"
	StatBuildingDefense     Stat = "buildingDefense"
	StatBuildingMaxHealth   Stat = "buildingMaxHealth"
)

// Unit stats are copied onto every unit, the rest live on the player or building.
func (s Stat) IsUnitStat() bool {
	switch s {
	case StatAttack, StatDefense, StatMaxHealth, StatSpeed, StatRange:
		return true

	default:
		return false
	}
}

func (s Stat) IsBuildingStat() bool {
	return s == StatBuildingDefense || s == StatBuildingMaxHealth
}

type ModOp uint8

const (
	OpAdd ModOp = iota + 1
	OpMul
)

func (o ModOp) String() string {
	switch o {
	case OpAdd:
		return "add"

	case OpMul:
		return "mul"

	default:
		return "unknown"
	}
}

func (o ModOp) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *ModOp) UnmarshalText(b []byte) error {
	switch string(b) {
	case "add":
		*o = OpAdd

	case "mul":
		*o = OpMul

	default:
		return fmt.Errorf("unknown modifier op %q", b)
	}
	return nil
}

type Modifier struct {
	Op    ModOp   `json:"op"`
	Value float64 `json:"value"`
}

func (m Modifier) Apply(v float64) float64 {
	switch m.Op {
	case OpAdd:
		return v + m.Value

	case OpMul:
		return v * m.Value

	default:
		return v
	}
}

// Effect changes one stat. Units narrows a unit stat to some kinds, empty means all.
type Effect struct {
	Stat     Stat             `json:"stat"`
	Modifier Modifier         `json:"modifier"`
	Units    []types.UnitKind `json:"units,omitempty"`
}

func (e Effect) Covers(kind types.UnitKind) bool {
	if len(e.Units) == 0 {
		return true
	}
	for _, k := range e.Units {
		if k == kind {
			return true
		}
	}
	return false
}

// Unlock adds a trainable unit kind to a building kind
type Unlock struct {
	Building types.BuildingKind `json:"building"`
	Unit     types.UnitKind     `json:"unit"`
}

type Tech struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Faction       types.Faction `json:"faction"` // FactionNone = both
	Prerequisites []string      `json:"prerequisites"`
	Cost          types.Cost    `json:"cost"`
	Effects       []Effect      `json:"effects"`
	Unlocks       []Unlock      `json:"unlocks,omitempty"`
	Condition     string        `json:"condition,omitempty"`

	program *vm.Program
}

func (t *Tech) AvailableTo(f types.Faction) bool {
	return t.Faction == types.FactionNone || t.Faction == f
}

// ConditionEnv is what unlock conditions can see about the researching player.
type ConditionEnv struct {
	Buildings map[string]int
	Units     map[string]int
	Food      int
	Ore       int
	Tick      int
}

func (t *Tech) compile() error {
	if t.Condition == "" {
		return nil
	}
	prog, err := expr.Compile(t.Condition, expr.Env(ConditionEnv{}), expr.AsBool())
	if err != nil {
		return fmt.Errorf("compile condition for %q: %w", t.ID, err)
	}
	t.program = prog
	return nil
}

func (t *Tech) conditionMet(env ConditionEnv) (bool, error) {
	if t.program == nil {
		return true, nil
	}
	result, err := vm.Run(t.program, env)
	if err != nil {
		return false, err
	}
	ok, _ := result.(bool)
	return ok, nil
}
