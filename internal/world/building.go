package world

import (
	"github.com/Scrimzay/rtsim/internal/techtree"
	"github.com/Scrimzay/rtsim/internal/types"
)

const (
	maxSpawnRadius = 6
	timeEpsilon    = 1e-9
)

type ProductionItem struct {
	Unit      types.UnitKind `json:"unitType"`
	Remaining float64        `json:"remainingTime"` // Seconds
	Cost      types.Cost     `json:"cost"`          // What cancelling refunds
	Held      bool           `json:"held"`          // Done but no room to spawn yet
}

type Building struct {
	ID        types.EntityID
	Owner     types.PlayerID
	Faction   types.Faction
	Kind      types.BuildingKind
	Origin    types.Point
	Size      int
	Health    float64
	MaxHealth float64
	Defense   float64
	Queue     []ProductionItem
	OriginOp  string // Intent that created it, lets a client swap its predicted copy
}

func (b *Building) Footprint() []types.Point {
	return footprint(b.Origin, b.Size)
}

// DistanceTo measures from a float position to the nearest footprint tile center.
func (b *Building) DistanceTo(x, y float64) float64 {
	cx := clamp(x, float64(b.Origin.X), float64(b.Origin.X+b.Size-1))
	cy := clamp(y, float64(b.Origin.Y), float64(b.Origin.Y+b.Size-1))
	return hypot(x-cx, y-cy)
}

func (b *Building) applyStat(stat techtree.Stat, m techtree.Modifier) {
	switch stat {
	case techtree.StatBuildingDefense:
		b.Defense = m.Apply(b.Defense)

	case techtree.StatBuildingMaxHealth:
		old := b.MaxHealth
		b.MaxHealth = m.Apply(b.MaxHealth)
		if m.Op == techtree.OpMul {
			b.Health = b.Health * b.MaxHealth / old
		} else {
			b.Health += b.MaxHealth - old
		}
	}
}

// placeBuilding claims the footprint and registers the building, no payment.
func (w *World) placeBuilding(owner types.PlayerID, kind types.BuildingKind, origin types.Point) (*Building, error) {
	size := kind.Size()
	if err := w.checkPlacement(origin, size); err != nil {
		return nil, err
	}
	id := w.allocID()
	if err := w.grid.Occupy(id, origin, size); err != nil {
		return nil, err
	}
	b := &Building{
		ID:        id,
		Owner:     owner,
		Faction:   w.players[owner].Faction,
		Kind:      kind,
		Origin:    origin,
		Size:      size,
		MaxHealth: kind.MaxHealth(),
		Defense:   kind.Defense(),
	}
	for _, e := range w.tech.Modifiers(owner) {
		if e.Stat.IsBuildingStat() {
			b.applyStat(e.Stat, e.Modifier)
		}
	}
	b.Health = b.MaxHealth
	w.buildings[id] = b
	return b, nil
}

// checkPlacement adds the unit check on top of the grid's own footprint rules.
func (w *World) checkPlacement(origin types.Point, size int) error {
	if err := w.grid.CheckFootprint(origin, size); err != nil {
		return err
	}
	for _, u := range w.units {
		t := u.Tile()
		if t.X >= origin.X && t.X < origin.X+size && t.Y >= origin.Y && t.Y < origin.Y+size {
			return ErrFootprintBlocked
		}
	}
	return nil
}

func (w *World) destroyBuilding(b *Building) {
	w.grid.Release(b.ID, b.Origin, b.Size)
	delete(w.buildings, b.ID)
	w.emit(Event{Kind: EventDestroyed, Entity: b.ID, Player: b.Owner, Building: b.Kind,
		X: float64(b.Origin.X), Y: float64(b.Origin.Y)})
}

func (w *World) productionSpeed(player types.PlayerID) float64 {
	speed := 1.0
	for _, e := range w.tech.Modifiers(player) {
		if e.Stat == techtree.StatUnitProductionSpeed {
			speed = e.Modifier.Apply(speed)
		}
	}
	return speed
}

func (w *World) canProduce(b *Building, kind types.UnitKind) bool {
	for _, k := range w.tech.Producible(b.Owner, b.Faction, b.Kind) {
		if k == kind {
			return true
		}
	}
	return false
}

// rescaleQueues shrinks remaining time on every queued item when production speed changes.
func (w *World) rescaleQueues(player types.PlayerID, oldSpeed, newSpeed float64) {
	if oldSpeed == newSpeed || newSpeed <= 0 {
		return
	}
	for _, id := range w.buildingIDs() {
		b := w.buildings[id]
		if b.Owner != player {
			continue
		}
		for i := range b.Queue {
			b.Queue[i].Remaining = b.Queue[i].Remaining * oldSpeed / newSpeed
		}
	}
}

// stepProduction advances the head of every queue. A finished head spawns the
// same tick or, with no room around the building, waits as held.
func (w *World) stepProduction() {
	for _, id := range w.buildingIDs() {
		b := w.buildings[id]
		if len(b.Queue) == 0 {
			continue
		}
		head := &b.Queue[0]
		if head.Remaining > timeEpsilon {
			head.Remaining -= w.dt
			if head.Remaining > timeEpsilon {
				continue
			}
		}
		head.Remaining = 0

		at, ok := w.spawnTile(b)
		if !ok {
			if !head.Held {
				w.log.Debug("production held, no room", "building", b.ID, "unit", head.Unit)
			}
			head.Held = true
			continue
		}
		u := w.spawnUnit(b.Owner, head.Unit, at)
		w.emit(Event{Kind: EventSpawned, Entity: u.ID, Player: u.Owner, Unit: u.Kind, X: u.X, Y: u.Y})
		b.Queue = b.Queue[1:]
	}
}

func (w *World) spawnUnit(owner types.PlayerID, kind types.UnitKind, at types.Point) *Unit {
	u := newUnit(w.allocID(), owner, w.players[owner].Faction, kind, at, w.tech.Modifiers(owner))
	w.units[u.ID] = u
	return u
}

func (w *World) unitTiles() map[types.Point]bool {
	out := make(map[types.Point]bool, len(w.units))
	for _, u := range w.units {
		out[u.Tile()] = true
	}
	return out
}

// spawnTile spirals out ring by ring around the footprint looking for a free walkable tile.
func (w *World) spawnTile(b *Building) (types.Point, bool) {
	taken := w.unitTiles()
	minX, minY := b.Origin.X, b.Origin.Y
	maxX, maxY := b.Origin.X+b.Size-1, b.Origin.Y+b.Size-1
	for r := 1; r <= maxSpawnRadius; r++ {
		for _, p := range ring(minX-r, minY-r, maxX+r, maxY+r) {
			if w.grid.Walkable(p) && !taken[p] {
				return p, true
			}
		}
	}
	return types.Point{}, false
}

// ring walks the border of a rectangle clockwise from its top-left corner
func ring(x0, y0, x1, y1 int) []types.Point {
	var out []types.Point
	for x := x0; x <= x1; x++ {
		out = append(out, types.Point{X: x, Y: y0})
	}
	for y := y0 + 1; y <= y1; y++ {
		out = append(out, types.Point{X: x1, Y: y})
	}
	for x := x1 - 1; x >= x0; x-- {
		out = append(out, types.Point{X: x, Y: y1})
	}
	for y := y1 - 1; y > y0; y-- {
		out = append(out, types.Point{X: x0, Y: y})
	}
	return out
}
