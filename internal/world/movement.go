package world

import (
	"math"

	"github.com/Scrimzay/rtsim/internal/pathfinding"
	"github.com/Scrimzay/rtsim/internal/types"
)

func hypot(dx, dy float64) float64 {
	return math.Hypot(dx, dy)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// routeTo replaces the unit's path and order in one go. Returns false when
// there is no route. Already standing on the resolved goal counts as a route.
func (w *World) routeTo(u *Unit, dest types.Point, kind OrderKind) bool {
	start := u.Tile()
	goal, ok := pathfinding.ResolveGoal(w.grid, start, dest)
	if !ok {
		return false
	}
	var path []types.Point
	if goal != start {
		path = pathfinding.FindPath(w.grid, start, goal)
		if path == nil {
			return false
		}
	}
	u.Path = path
	u.Order = Order{Kind: kind, Dest: dest}
	return true
}

// moveUnitsTo gives every unit a fresh path to target. Unreachable targets
// leave the unit idle, that is the normal "no route" outcome.
func (w *World) moveUnitsTo(units []*Unit, target types.Point) {
	for _, u := range units {
		u.GatherTile = nil
		u.Target = 0
		if !w.routeTo(u, target, OrderMove) {
			w.log.Debug("no route", "unit", u.ID, "from", u.Tile(), "to", target)
			u.goIdle()
			continue
		}
		if len(u.Path) == 0 {
			u.goIdle()
			continue
		}
		u.State = StateMoving
	}
}

// MoveUnitsTo is the direct entry point, intents go through Apply.
func (w *World) MoveUnitsTo(player types.PlayerID, ids []types.EntityID, target types.Point) error {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	units, err := w.ownedUnits(player, ids)
	if err != nil {
		return err
	}
	w.moveUnitsTo(units, target)
	return nil
}

func (w *World) stepMovement() {
	for _, id := range w.unitIDs() {
		u := w.units[id]
		if u.State != StateMoving && u.State != StateReturning {
			continue
		}
		w.advance(u)
	}
}

// advance walks a unit along its path by speed*dt, snapping onto each
// waypoint center it reaches so positions never drift.
func (w *World) advance(u *Unit) {
	budget := u.Speed * w.dt
	for budget > 0 && len(u.Path) > 0 {
		next := u.Path[0]
		if !w.grid.Walkable(next) {
			// Something got built on the path
			kind, dest := u.Order.Kind, u.Order.Dest
			if !w.routeTo(u, dest, kind) {
				u.goIdle()
				return
			}
			continue
		}
		dx, dy := float64(next.X)-u.X, float64(next.Y)-u.Y
		d := hypot(dx, dy)
		if d <= budget {
			u.X, u.Y = float64(next.X), float64(next.Y)
			budget -= d
			u.Path = u.Path[1:]
			continue
		}
		u.X += dx / d * budget
		u.Y += dy / d * budget
		budget = 0
	}
	if len(u.Path) == 0 {
		w.arrive(u)
	}
}

func (w *World) arrive(u *Unit) {
	switch u.Order.Kind {
	case OrderGather:
		if u.GatherTile != nil && w.inGatherReach(u, *u.GatherTile) {
			u.Path = nil
			u.State = StateGathering
			return
		}
		u.goIdle()

	case OrderReturn:
		if w.opts.Predictive {
			// The server decides what happens at the depot
			u.Path = nil
			return
		}
		w.tryDeposit(u)

	default:
		u.goIdle()
	}
}

// Repath rebuilds a unit's path from where it stands toward its current order.
// Client replicas call this after snapping a unit to the server's position.
func (w *World) Repath(id types.EntityID) bool {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	return w.repath(id)
}

func (w *World) repath(id types.EntityID) bool {
	u, ok := w.units[id]
	if !ok {
		return false
	}
	if u.Order.Kind == OrderNone || (u.State != StateMoving && u.State != StateReturning) {
		u.Path = nil
		return true
	}
	return w.routeTo(u, u.Order.Dest, u.Order.Kind)
}
