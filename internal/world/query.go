package world

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	"github.com/Scrimzay/rtsim/internal/pathfinding"
	"github.com/Scrimzay/rtsim/internal/types"
	"lukechampine.com/blake3"
)

// Read-only views. Everything here copies, nothing hands out live entities.

func (w *World) Units() []UnitRecord {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	out := make([]UnitRecord, 0, len(w.units))
	for _, id := range w.unitIDs() {
		out = append(out, unitRecord(w.units[id]))
	}
	return out
}

func (w *World) Unit(id types.EntityID) (UnitRecord, bool) {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	u, ok := w.units[id]
	if !ok {
		return UnitRecord{}, false
	}
	return unitRecord(u), true
}

func (w *World) Buildings() []BuildingRecord {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	out := make([]BuildingRecord, 0, len(w.buildings))
	for _, id := range w.buildingIDs() {
		out = append(out, buildingRecord(w.buildings[id]))
	}
	return out
}

func (w *World) Building(id types.EntityID) (BuildingRecord, bool) {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	b, ok := w.buildings[id]
	if !ok {
		return BuildingRecord{}, false
	}
	return buildingRecord(b), true
}

func (w *World) Resources(player types.PlayerID) (types.Cost, bool) {
	return w.ledger.Balance(player)
}

func (w *World) Players() []PlayerRecord {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	out := make([]PlayerRecord, 0, len(w.players))
	for _, id := range w.playerIDs() {
		out = append(out, w.playerRecord(w.players[id]))
	}
	return out
}

// TechInfo is one entry of the researchable list
type TechInfo struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Cost          types.Cost `json:"cost"`
	Prerequisites []string   `json:"prerequisites,omitempty"`
	Affordable    bool       `json:"affordable"`
}

// ResearchableTechs lists techs the player could research right now, cost aside.
func (w *World) ResearchableTechs(player types.PlayerID) ([]TechInfo, bool) {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	p, ok := w.players[player]
	if !ok {
		return nil, false
	}
	var out []TechInfo
	for _, t := range w.tech.Researchable(p.ID, p.Faction, w.conditionEnv(p.ID)) {
		out = append(out, TechInfo{
			ID:            t.ID,
			Name:          t.Name,
			Cost:          t.Cost,
			Prerequisites: t.Prerequisites,
			Affordable:    w.ledger.HasEnough(p.ID, t.Cost),
		})
	}
	return out, true
}

// Selection is the player's current unit selection
func (w *World) Selection(player types.PlayerID) []types.EntityID {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	return append([]types.EntityID(nil), w.selection[player]...)
}

// ReachSeconds is how much walking a movement-range preview covers.
const ReachSeconds = 3

type ReachTile struct {
	X    int     `json:"x"`
	Y    int     `json:"y"`
	Cost float64 `json:"cost"`
}

// ReachableTiles previews the tiles a unit can walk to within ReachSeconds
// at its current speed, cheapest first.
func (w *World) ReachableTiles(id types.EntityID) ([]ReachTile, bool) {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	u, ok := w.units[id]
	if !ok {
		return nil, false
	}
	costs := pathfinding.ReachableTiles(w.grid, u.Tile(), u.Speed*ReachSeconds)
	out := make([]ReachTile, 0, len(costs))
	for p, c := range costs {
		out = append(out, ReachTile{X: p.X, Y: p.Y, Cost: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost < out[j].Cost
		}
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out, true
}

type MapView struct {
	Size  int    `json:"size"`
	Tiles []Tile `json:"tiles"`
}

func (w *World) Map() MapView {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	return MapView{Size: w.grid.Size(), Tiles: w.grid.Tiles()}
}

// Status is the session summary the UI polls
type Status struct {
	Tick      uint64         `json:"tick"`
	Players   []PlayerRecord `json:"players"`
	Units     int            `json:"units"`
	Buildings int            `json:"buildings"`
	Winner    types.PlayerID `json:"winner,omitempty"`
	GameOver  bool           `json:"gameOver"`
}

func (w *World) Status() Status {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	s := Status{
		Tick:      w.tick,
		Units:     len(w.units),
		Buildings: len(w.buildings),
		Winner:    w.winner,
		GameOver:  w.gameOver,
	}
	for _, id := range w.playerIDs() {
		s.Players = append(s.Players, w.playerRecord(w.players[id]))
	}
	return s
}

// Digest hashes the authoritative state in a fixed order. Two worlds fed the
// same intents on the same ticks produce the same digest.
func (w *World) Digest() [32]byte {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	return blake3.Sum256(w.canonical())
}

func DigestHex(d [32]byte) string {
	return hex.EncodeToString(d[:])
}

func (w *World) canonical() []byte {
	le := binary.LittleEndian
	buf := make([]byte, 0, 64*(len(w.units)+len(w.buildings))+16*len(w.grid.tiles))
	u64 := func(v uint64) { buf = le.AppendUint64(buf, v) }
	f64 := func(v float64) { u64(math.Float64bits(v)) }
	str := func(s string) {
		u64(uint64(len(s)))
		buf = append(buf, s...)
	}

	u64(w.tick)
	u64(w.nextID)

	for _, id := range w.playerIDs() {
		p := w.players[id]
		str(string(p.ID))
		u64(uint64(p.Faction))
		bal, _ := w.ledger.Balance(p.ID)
		u64(uint64(bal.Food))
		u64(uint64(bal.Ore))
		for _, t := range w.tech.ResearchedIDs(p.ID) {
			str(t)
		}
		if p.Defeated {
			u64(1)
		} else {
			u64(0)
		}
	}

	for _, id := range w.unitIDs() {
		u := w.units[id]
		u64(uint64(u.ID))
		str(string(u.Owner))
		u64(uint64(u.Kind))
		f64(u.X)
		f64(u.Y)
		f64(u.Health)
		f64(u.MaxHealth)
		f64(u.Attack)
		f64(u.Defense)
		f64(u.Speed)
		u64(uint64(u.State))
		u64(uint64(u.carrying()))
	}

	for _, id := range w.buildingIDs() {
		b := w.buildings[id]
		u64(uint64(b.ID))
		str(string(b.Owner))
		u64(uint64(b.Kind))
		u64(uint64(b.Origin.X))
		u64(uint64(b.Origin.Y))
		f64(b.Health)
		f64(b.Defense)
		for _, q := range b.Queue {
			u64(uint64(q.Unit))
			f64(q.Remaining)
		}
	}

	for _, t := range w.grid.tiles {
		if t.Resource != nil {
			u64(uint64(t.X))
			u64(uint64(t.Y))
			u64(uint64(t.Resource.Amount))
		}
	}
	return buf
}
