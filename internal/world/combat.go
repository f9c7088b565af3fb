package world

import (
	"math"

	"github.com/Scrimzay/rtsim/internal/types"
)

const (
	CounterMultiplier  = 1.5
	WeaknessMultiplier = 1.25
)

// Damage is what one hit from attacker does to target: the base, then the
// counter bonus, then the weakness bonus. The two bonuses come from separate
// tables and stack when both apply.
func Damage(attacker, target *Unit) float64 {
	dmg := math.Max(1, attacker.Attack-target.Defense)
	if attacker.Kind.Beats(target.Kind) {
		dmg *= CounterMultiplier
	}
	if target.Kind.VulnerableTo(attacker.Kind) {
		dmg *= WeaknessMultiplier
	}
	return dmg
}

// Buildings have no counters or weaknesses
func BuildingDamage(attacker *Unit, target *Building) float64 {
	return math.Max(1, attacker.Attack-target.Defense)
}

func unitDist(a, b *Unit) float64 {
	return hypot(a.X-b.X, a.Y-b.Y)
}

// acquireUnit finds the nearest live hostile unit in range. Stealthed units
// are invisible to acquisition. Ties go to the lower id.
func (w *World) acquireUnit(u *Unit, ids []types.EntityID) *Unit {
	var best *Unit
	bestD := 0.0
	for _, id := range ids {
		t := w.units[id]
		if t == nil || t.Owner == u.Owner || t.Health <= 0 || t.Stealthed() {
			continue
		}
		d := unitDist(u, t)
		if d > u.Range {
			continue
		}
		if best == nil || d < bestD {
			best, bestD = t, d
		}
	}
	return best
}

func (w *World) acquireBuilding(u *Unit) *Building {
	var best *Building
	bestD := 0.0
	for _, id := range w.buildingIDs() {
		b := w.buildings[id]
		if b.Owner == u.Owner || b.Health <= 0 {
			continue
		}
		d := b.DistanceTo(u.X, u.Y)
		if d > u.Range {
			continue
		}
		if best == nil || d < bestD {
			best, bestD = b, d
		}
	}
	return best
}

func (w *World) hitUnit(attacker, target *Unit) {
	dmg := Damage(attacker, target)
	if target.Health-dmg <= 0 && target.LastStand {
		target.Health = 1
		target.LastStand = false
		w.emit(Event{Kind: EventLastStand, Entity: target.ID, Player: target.Owner, Unit: target.Kind, X: target.X, Y: target.Y})
		return
	}
	target.Health -= dmg
}

type swing struct {
	attacker *Unit
	unit     *Unit
	building *Building
}

// stepCombat is one combat round. Targets are picked against the state at
// the start of the round and every swing lands, so a unit killed this round
// still strikes back. Units that lose their target pick their walk back up.
func (w *World) stepCombat() {
	ids := w.unitIDs()
	var swings []swing
	for _, id := range ids {
		u := w.units[id]
		if u.Health <= 0 || !u.Kind.IsCombatant() {
			continue
		}
		if t := w.acquireUnit(u, ids); t != nil {
			u.State = StateAttacking
			u.Target = t.ID
			swings = append(swings, swing{attacker: u, unit: t})
			continue
		}
		if b := w.acquireBuilding(u); b != nil {
			u.State = StateAttacking
			u.Target = b.ID
			swings = append(swings, swing{attacker: u, building: b})
			continue
		}
		if u.State == StateAttacking {
			u.Target = 0
			if len(u.Path) > 0 {
				u.State = StateMoving
			} else {
				u.goIdle()
			}
		}
	}
	for _, s := range swings {
		if s.unit != nil {
			w.hitUnit(s.attacker, s.unit)
		} else {
			s.building.Health -= BuildingDamage(s.attacker, s.building)
		}
	}

	for _, id := range ids {
		u := w.units[id]
		if u.Health > 0 {
			continue
		}
		w.removeUnit(u)
		w.emit(Event{Kind: EventDeath, Entity: u.ID, Player: u.Owner, Unit: u.Kind, X: u.X, Y: u.Y})
	}
	for _, id := range w.buildingIDs() {
		if b := w.buildings[id]; b.Health <= 0 {
			w.log.Info("building destroyed", "building", b.ID, "kind", b.Kind, "owner", b.Owner)
			w.destroyBuilding(b)
		}
	}
}

func (w *World) removeUnit(u *Unit) {
	delete(w.units, u.ID)
	for p, sel := range w.selection {
		out := sel[:0]
		for _, id := range sel {
			if id != u.ID {
				out = append(out, id)
			}
		}
		w.selection[p] = out
	}
}

// stepAbilities counts down stealth and cooldown timers every tick.
func (w *World) stepAbilities() {
	for _, u := range w.units {
		if u.StealthTicks > 0 {
			u.StealthTicks--
		}
		if u.AbilityCooldown > 0 {
			u.AbilityCooldown--
		}
	}
}

// activateAbility fires ability on every eligible unit, erroring if none can.
func (w *World) activateAbility(units []*Unit, ability string) ([]types.EntityID, error) {
	switch ability {
	case AbilityStealth:
		var fired []types.EntityID
		for _, u := range units {
			if u.Kind != types.UnitLamaniteScout || u.AbilityCooldown > 0 {
				continue
			}
			u.StealthTicks = w.opts.StealthTicks
			u.AbilityCooldown = w.opts.StealthCooldown
			fired = append(fired, u.ID)
			w.emit(Event{Kind: EventStealth, Entity: u.ID, Player: u.Owner, Unit: u.Kind, X: u.X, Y: u.Y})
		}
		if len(fired) == 0 {
			return nil, intentErr(CodeAbilityCooldown, "no scout ready to use %s", ability)
		}
		return fired, nil

	default:
		return nil, intentErr(CodeUnknownAbility, "unknown ability %q", ability)
	}
}
