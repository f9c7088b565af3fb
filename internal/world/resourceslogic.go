package world

import (
	"github.com/Scrimzay/rtsim/internal/techtree"
	"github.com/Scrimzay/rtsim/internal/types"
)

const (
	gatherReach  = 1.5 // Distance from the resource tile a unit can work it from
	depositReach = 1.5 // Distance from a depot footprint a unit can drop off at
)

func (w *World) inGatherReach(u *Unit, tile types.Point) bool {
	return hypot(u.X-float64(tile.X), u.Y-float64(tile.Y)) <= gatherReach
}

// gatherMultiplier stacks the faction passive with any researched gather bonus.
func (w *World) gatherMultiplier(player types.PlayerID, kind types.ResourceKind) float64 {
	p := w.players[player]
	mult := p.Faction.GatherMultiplier(kind)
	stat := techtree.StatFoodGatherRate
	if kind == types.ResourceOre {
		stat = techtree.StatOreGatherRate
	}
	for _, e := range w.tech.Modifiers(player) {
		if e.Stat == stat {
			mult = e.Modifier.Apply(mult)
		}
	}
	return mult
}

// orderGather sends a unit to work tile. The unit remembers the tile so it can
// come back after each drop off.
func (w *World) orderGather(u *Unit, tile types.Point, kind types.ResourceKind) {
	t := tile
	u.GatherTile = &t
	u.GatherKind = kind
	u.Target = 0
	if w.inGatherReach(u, tile) {
		u.Path = nil
		u.Order = Order{Kind: OrderGather, Dest: tile}
		u.State = StateGathering
		return
	}
	if !w.routeTo(u, tile, OrderGather) {
		u.goIdle()
		u.GatherTile = nil
		return
	}
	u.State = StateMoving
}

// stepGathering runs once per gather interval for every unit working a tile.
func (w *World) stepGathering() {
	for _, id := range w.unitIDs() {
		u := w.units[id]
		if u.State != StateGathering || u.GatherTile == nil {
			continue
		}
		tile := *u.GatherTile
		t, _ := w.grid.Tile(tile)
		if t.Resource == nil {
			if u.carrying() > 0 {
				w.startReturn(u)
			} else {
				w.redirect(u)
			}
			continue
		}
		if u.Carried != nil && u.Carried.Amount > 0 && u.Carried.Kind != t.Resource.Kind {
			w.startReturn(u)
			continue
		}
		if !w.inGatherReach(u, tile) {
			w.orderGather(u, tile, t.Resource.Kind)
			continue
		}

		capacity := u.Kind.CarryCapacity()
		u.gatherProgress += w.opts.GatherRate * w.gatherMultiplier(u.Owner, t.Resource.Kind)
		want := int(u.gatherProgress)
		u.gatherProgress -= float64(want)
		take := min(want, capacity-u.carrying())
		kind, got := w.grid.Withdraw(tile, take)
		if got > 0 {
			if u.Carried == nil {
				u.Carried = &Carried{Kind: kind}
			}
			u.Carried.Kind = kind
			u.Carried.Amount += got
		}

		if u.carrying() >= capacity {
			w.startReturn(u)
			continue
		}
		if t, _ := w.grid.Tile(tile); t.Resource == nil {
			if u.carrying() > 0 {
				w.startReturn(u)
			} else {
				w.redirect(u)
			}
		}
	}
}

// nearestDepot is the closest friendly cityCenter or storehouse.
func (w *World) nearestDepot(u *Unit) *Building {
	var best *Building
	bestD := 0.0
	for _, id := range w.buildingIDs() {
		b := w.buildings[id]
		if b.Owner != u.Owner || !b.Kind.IsDepot() {
			continue
		}
		if d := b.DistanceTo(u.X, u.Y); best == nil || d < bestD {
			best, bestD = b, d
		}
	}
	return best
}

// approachTile picks the free tile hugging the footprint closest to the unit.
func (w *World) approachTile(b *Building, u *Unit) (types.Point, bool) {
	var best types.Point
	found := false
	bestD := 0.0
	for _, p := range ring(b.Origin.X-1, b.Origin.Y-1, b.Origin.X+b.Size, b.Origin.Y+b.Size) {
		if !w.grid.Walkable(p) {
			continue
		}
		if d := hypot(u.X-float64(p.X), u.Y-float64(p.Y)); !found || d < bestD {
			best, bestD, found = p, d, true
		}
	}
	return best, found
}

func (w *World) startReturn(u *Unit) {
	depot := w.nearestDepot(u)
	if depot == nil {
		w.log.Debug("no depot to return to", "unit", u.ID)
		u.goIdle()
		return
	}
	if depot.DistanceTo(u.X, u.Y) <= depositReach {
		w.deposit(u, depot)
		return
	}
	dest, ok := w.approachTile(depot, u)
	if !ok {
		dest = depot.Origin
	}
	if !w.routeTo(u, dest, OrderReturn) {
		u.goIdle()
		return
	}
	u.State = StateReturning
	if len(u.Path) == 0 {
		w.tryDeposit(u)
	}
}

// tryDeposit runs when a returning unit runs out of path.
func (w *World) tryDeposit(u *Unit) {
	depot := w.nearestDepot(u)
	if depot == nil {
		u.goIdle()
		return
	}
	if depot.DistanceTo(u.X, u.Y) > depositReach {
		// Depot moved on us (destroyed or a closer one went up), walk again
		dest, ok := w.approachTile(depot, u)
		if !ok || !w.routeTo(u, dest, OrderReturn) || len(u.Path) == 0 {
			u.goIdle()
		}
		return
	}
	w.deposit(u, depot)
}

// deposit drops the load into the ledger then heads back to work.
func (w *World) deposit(u *Unit, depot *Building) {
	if c := u.Carried; c != nil && c.Amount > 0 {
		if err := w.ledger.Deposit(u.Owner, c.Kind, c.Amount); err != nil {
			w.log.Warn("deposit failed", "unit", u.ID, "error", err)
		}
	}
	u.Carried = nil

	if u.GatherTile == nil {
		u.goIdle()
		return
	}
	if t, _ := w.grid.Tile(*u.GatherTile); t.Resource != nil {
		w.orderGather(u, *u.GatherTile, t.Resource.Kind)
		return
	}
	w.redirect(u)
}

// redirect moves a unit off a depleted tile to the nearest tile of the same kind.
func (w *World) redirect(u *Unit) {
	from := u.Tile()
	if u.GatherTile != nil {
		from = *u.GatherTile
	}
	if next, ok := w.grid.NearestResource(from, u.GatherKind); ok {
		w.orderGather(u, next, u.GatherKind)
		return
	}
	u.goIdle()
	u.GatherTile = nil
}

// OrderGather is the direct entry point, intents go through Apply.
func (w *World) OrderGather(player types.PlayerID, ids []types.EntityID, tile types.Point) error {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	units, err := w.ownedUnits(player, ids)
	if err != nil {
		return err
	}
	return w.orderGatherAll(units, tile)
}

func (w *World) orderGatherAll(units []*Unit, tile types.Point) error {
	t, ok := w.grid.Tile(tile)
	if !ok || t.Resource == nil {
		return intentErr(CodeNoResource, "no resource at %v", tile)
	}
	for _, u := range units {
		if u.Kind.CarryCapacity() == 0 {
			return intentErr(CodeCannotGather, "unit %d (%s) cannot gather", u.ID, u.Kind)
		}
	}
	for _, u := range units {
		w.orderGather(u, tile, t.Resource.Kind)
	}
	return nil
}
