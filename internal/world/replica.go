package world

import (
	"github.com/Scrimzay/rtsim/internal/types"
)

// Replica side. A client keeps a predictive World and overwrites it with what
// the server sends through the methods below.

// NewReplica builds a predictive world from a keyframe.
func NewReplica(s Snapshot, opts Options) *World {
	opts.Predictive = true
	w := newWorld(opts)
	w.loadSnapshot(s)
	return w
}

// Restore builds an authoritative world from a keyframe. Hidden progress such
// as partial gathers and path caches is not part of a keyframe.
func Restore(s Snapshot, opts Options) *World {
	opts.Predictive = false
	w := newWorld(opts)
	w.loadSnapshot(s)
	return w
}

func (w *World) LoadSnapshot(s Snapshot) {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	w.loadSnapshot(s)
}

func (w *World) loadSnapshot(s Snapshot) {
	w.grid = NewGrid(s.Size)
	for _, t := range s.Tiles {
		w.grid.Replace(t)
	}
	w.players = make(map[types.PlayerID]*Player, len(s.Players))
	w.units = make(map[types.EntityID]*Unit, len(s.Units))
	w.buildings = make(map[types.EntityID]*Building, len(s.Buildings))
	w.selection = make(map[types.PlayerID][]types.EntityID)
	for _, p := range s.Players {
		w.setPlayer(p)
	}
	for _, b := range s.Buildings {
		w.upsertBuilding(b)
	}
	for _, u := range s.Units {
		w.upsertUnit(u)
	}
	w.tick = s.Tick
	w.winner = s.Winner
	w.gameOver = s.GameOver
	if !w.opts.Predictive {
		w.nextID = s.NextID
	}
	w.events = nil
	w.grid.takeDirty()
}

// Patch folds a diff into an authoritative record.
func (r *UnitRecord) Patch(d UnitDiff) {
	if d.Full != nil {
		*r = *d.Full
		return
	}
	pf := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	pf(&r.X, d.X)
	pf(&r.Y, d.Y)
	pf(&r.Health, d.Health)
	pf(&r.MaxHealth, d.MaxHealth)
	pf(&r.Attack, d.Attack)
	pf(&r.Defense, d.Defense)
	pf(&r.Speed, d.Speed)
	pf(&r.Range, d.Range)
	if d.State != nil {
		r.State = *d.State
	}
	if d.Order != nil {
		r.Order = *d.Order
	}
	if d.Carried != nil {
		r.Carried = *d.Carried
	}
	if d.GatherTile != nil {
		if d.GatherTile.X < 0 {
			r.GatherTile = nil
		} else {
			t := *d.GatherTile
			r.GatherTile = &t
		}
	}
	if d.Target != nil {
		r.Target = *d.Target
	}
	if d.LastStand != nil {
		r.LastStand = *d.LastStand
	}
	if d.Stealthed != nil {
		r.Stealthed = *d.Stealthed
	}
	if d.AbilityReady != nil {
		r.AbilityReady = *d.AbilityReady
	}
}

func (r *BuildingRecord) Patch(d BuildingDiff) {
	if d.Full != nil {
		*r = *d.Full
		r.Queue = append([]ProductionItem{}, d.Full.Queue...)
		return
	}
	if d.Health != nil {
		r.Health = *d.Health
	}
	if d.MaxHealth != nil {
		r.MaxHealth = *d.MaxHealth
	}
	if d.Defense != nil {
		r.Defense = *d.Defense
	}
	if d.Queue != nil {
		r.Queue = append([]ProductionItem{}, (*d.Queue)...)
	}
}

// UpsertUnit writes the record over the local unit verbatim and rebuilds its path.
func (w *World) UpsertUnit(r UnitRecord) {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	w.upsertUnit(r)
}

func (w *World) upsertUnit(r UnitRecord) {
	u, ok := w.units[r.ID]
	if !ok {
		u = &Unit{ID: r.ID}
		w.units[r.ID] = u
	}
	u.Owner, u.Faction, u.Kind = r.Owner, r.Faction, r.Kind
	u.X, u.Y = r.X, r.Y
	u.State = r.State
	u.Order = r.Order
	u.Target = r.Target
	w.copyUnitStats(u, r)
	u.Path = nil
	if u.State == StateMoving || u.State == StateReturning {
		w.repath(u.ID)
	}
}

// copyUnitStats takes everything except position and motion.
func (w *World) copyUnitStats(u *Unit, r UnitRecord) {
	u.Health, u.MaxHealth = r.Health, r.MaxHealth
	u.Attack, u.Defense = r.Attack, r.Defense
	u.Speed, u.Range = r.Speed, r.Range
	u.Carried = nil
	if r.Carried.Amount > 0 {
		c := r.Carried
		u.Carried = &c
	}
	u.GatherTile = nil
	if r.GatherTile != nil {
		t := *r.GatherTile
		u.GatherTile = &t
	}
	u.GatherKind = r.GatherKind
	u.LastStand = r.LastStand
	u.StealthTicks = 0
	if r.Stealthed {
		u.StealthTicks = 1
	}
	u.AbilityCooldown = 0
	if !r.AbilityReady {
		u.AbilityCooldown = 1
	}
}

// MergeUnit is for a unit with predictions in flight: stats come from the
// server, motion stays local. With snap the position is forced to the
// server's and the local order is re-routed from there.
func (w *World) MergeUnit(r UnitRecord, snap bool) {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	u, ok := w.units[r.ID]
	if !ok {
		w.upsertUnit(r)
		return
	}
	w.copyUnitStats(u, r)
	if snap {
		u.X, u.Y = r.X, r.Y
		w.repath(u.ID)
	}
}

func (w *World) UnitPosition(id types.EntityID) (float64, float64, bool) {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	u, ok := w.units[id]
	if !ok {
		return 0, 0, false
	}
	return u.X, u.Y, true
}

func (w *World) RemoveUnit(id types.EntityID) {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	if u, ok := w.units[id]; ok {
		w.removeUnit(u)
	}
}

func (w *World) UpsertBuilding(r BuildingRecord) {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	w.upsertBuilding(r)
}

func (w *World) upsertBuilding(r BuildingRecord) {
	if old, ok := w.buildings[r.ID]; ok {
		w.grid.Release(old.ID, old.Origin, old.Size)
	}
	w.buildings[r.ID] = &Building{
		ID:        r.ID,
		Owner:     r.Owner,
		Faction:   r.Faction,
		Kind:      r.Kind,
		Origin:    r.Origin,
		Size:      r.Size,
		Health:    r.Health,
		MaxHealth: r.MaxHealth,
		Defense:   r.Defense,
		Queue:     append([]ProductionItem{}, r.Queue...),
		OriginOp:  r.OriginOp,
	}
	w.grid.claim(r.ID, r.Origin, r.Size)
}

func (w *World) RemoveBuilding(id types.EntityID) {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	if b, ok := w.buildings[id]; ok {
		w.grid.Release(b.ID, b.Origin, b.Size)
		delete(w.buildings, id)
	}
}

// BuildingsFromOp finds local buildings created by the given intent.
func (w *World) BuildingsFromOp(opID string) []types.EntityID {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	var out []types.EntityID
	for _, id := range w.buildingIDs() {
		if w.buildings[id].OriginOp == opID {
			out = append(out, id)
		}
	}
	return out
}

func (w *World) SetPlayer(r PlayerRecord) {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	w.setPlayer(r)
}

func (w *World) setPlayer(r PlayerRecord) {
	p, ok := w.players[r.ID]
	if !ok {
		p = &Player{ID: r.ID}
		w.players[r.ID] = p
	}
	p.Faction = r.Faction
	p.Defeated = r.Defeated
	w.ledger.Set(r.ID, r.Resources)
	w.tech.SetResearched(r.ID, r.Researched)
}

func (w *World) ApplyTiles(tiles []Tile) {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	for _, t := range tiles {
		w.grid.Replace(t)
	}
}

// SyncClock moves the replica's clock and outcome to the server's.
func (w *World) SyncClock(tick uint64, winner types.PlayerID, gameOver bool) {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	if tick > w.tick {
		w.tick = tick
	}
	w.winner = winner
	w.gameOver = gameOver
}
