package world

import (
	"github.com/Scrimzay/rtsim/internal/types"
)

// UnitRecord is the full wire form of a unit. Paths stay local, a replica
// rebuilds them from Order.Dest.
type UnitRecord struct {
	ID           types.EntityID     `json:"id"`
	Owner        types.PlayerID     `json:"owner"`
	Faction      types.Faction      `json:"faction"`
	Kind         types.UnitKind     `json:"type"`
	X            float64            `json:"x"`
	Y            float64            `json:"y"`
	Health       float64            `json:"health"`
	MaxHealth    float64            `json:"maxHealth"`
	Attack       float64            `json:"attack"`
	Defense      float64            `json:"defense"`
	Speed        float64            `json:"speed"`
	Range        float64            `json:"range"`
	State        MoveState          `json:"state"`
	Order        Order              `json:"order"`
	Carried      Carried            `json:"carried"`
	GatherTile   *types.Point       `json:"gatherTile,omitempty"`
	GatherKind   types.ResourceKind `json:"gatherKind"`
	Target       types.EntityID     `json:"target,omitempty"`
	LastStand    bool               `json:"lastStand"`
	Stealthed    bool               `json:"stealthed"`
	AbilityReady bool               `json:"abilityReady"`
}

// UnitDiff carries only the fields that changed since the previous tick, or
// Full when the receiver has never seen the unit.
type UnitDiff struct {
	Full *UnitRecord `json:"full,omitempty"`

	X            *float64        `json:"x,omitempty"`
	Y            *float64        `json:"y,omitempty"`
	Health       *float64        `json:"health,omitempty"`
	MaxHealth    *float64        `json:"maxHealth,omitempty"`
	Attack       *float64        `json:"attack,omitempty"`
	Defense      *float64        `json:"defense,omitempty"`
	Speed        *float64        `json:"speed,omitempty"`
	Range        *float64        `json:"range,omitempty"`
	State        *MoveState      `json:"state,omitempty"`
	Order        *Order          `json:"order,omitempty"`
	Carried      *Carried        `json:"carried,omitempty"`
	GatherTile   *types.Point    `json:"gatherTile,omitempty"`
	Target       *types.EntityID `json:"target,omitempty"`
	LastStand    *bool           `json:"lastStand,omitempty"`
	Stealthed    *bool           `json:"stealthed,omitempty"`
	AbilityReady *bool           `json:"abilityReady,omitempty"`
}

func (d UnitDiff) Empty() bool {
	return d == UnitDiff{}
}

type BuildingRecord struct {
	ID        types.EntityID     `json:"id"`
	Owner     types.PlayerID     `json:"owner"`
	Faction   types.Faction      `json:"faction"`
	Kind      types.BuildingKind `json:"type"`
	Origin    types.Point        `json:"origin"`
	Size      int                `json:"size"`
	Health    float64            `json:"health"`
	MaxHealth float64            `json:"maxHealth"`
	Defense   float64            `json:"defense"`
	Queue     []ProductionItem   `json:"queue"`
	OriginOp  string             `json:"originOp,omitempty"`
}

type BuildingDiff struct {
	Full *BuildingRecord `json:"full,omitempty"`

	Health    *float64          `json:"health,omitempty"`
	MaxHealth *float64          `json:"maxHealth,omitempty"`
	Defense   *float64          `json:"defense,omitempty"`
	Queue     *[]ProductionItem `json:"queue,omitempty"`
}

func (d BuildingDiff) Empty() bool {
	return d.Full == nil && d.Health == nil && d.MaxHealth == nil && d.Defense == nil && d.Queue == nil
}

type PlayerRecord struct {
	ID         types.PlayerID `json:"id"`
	Faction    types.Faction  `json:"faction"`
	Resources  types.Cost     `json:"resources"`
	Researched []string       `json:"researched"`
	Defeated   bool           `json:"defeated"`
}

func (p PlayerRecord) equal(o PlayerRecord) bool {
	if p.ID != o.ID || p.Faction != o.Faction || p.Resources != o.Resources || p.Defeated != o.Defeated {
		return false
	}
	if len(p.Researched) != len(o.Researched) {
		return false
	}
	for i := range p.Researched {
		if p.Researched[i] != o.Researched[i] {
			return false
		}
	}
	return true
}

// Ack tells an issuer what became of one of its intents.
type Ack struct {
	OpID     string           `json:"opId"`
	Player   types.PlayerID   `json:"player"`
	Accepted bool             `json:"accepted"`
	Code     string           `json:"code,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Created  []types.EntityID `json:"created,omitempty"`
}

// Diff is everything that changed during one authoritative tick.
type Diff struct {
	Tick             uint64                          `json:"tick"`
	Units            map[types.EntityID]UnitDiff     `json:"units,omitempty"`
	Buildings        map[types.EntityID]BuildingDiff `json:"buildings,omitempty"`
	Players          map[types.PlayerID]PlayerRecord `json:"players,omitempty"`
	Tiles            []Tile                          `json:"tiles,omitempty"`
	RemovedUnits     []types.EntityID                `json:"removedUnits,omitempty"`
	RemovedBuildings []types.EntityID                `json:"removedBuildings,omitempty"`
	Events           []Event                         `json:"events,omitempty"`
	Acks             []Ack                           `json:"acks,omitempty"`
	Winner           types.PlayerID                  `json:"winner,omitempty"`
	GameOver         bool                            `json:"gameOver,omitempty"`
}

// Snapshot is a full keyframe, sent on join and written to the journal.
type Snapshot struct {
	Tick      uint64           `json:"tick"`
	Size      int              `json:"size"`
	Tiles     []Tile           `json:"tiles"`
	Units     []UnitRecord     `json:"units"`
	Buildings []BuildingRecord `json:"buildings"`
	Players   []PlayerRecord   `json:"players"`
	NextID    uint64           `json:"nextId"`
	Winner    types.PlayerID   `json:"winner,omitempty"`
	GameOver  bool             `json:"gameOver,omitempty"`
}

func unitRecord(u *Unit) UnitRecord {
	r := UnitRecord{
		ID:           u.ID,
		Owner:        u.Owner,
		Faction:      u.Faction,
		Kind:         u.Kind,
		X:            u.X,
		Y:            u.Y,
		Health:       u.Health,
		MaxHealth:    u.MaxHealth,
		Attack:       u.Attack,
		Defense:      u.Defense,
		Speed:        u.Speed,
		Range:        u.Range,
		State:        u.State,
		Order:        u.Order,
		GatherKind:   u.GatherKind,
		Target:       u.Target,
		LastStand:    u.LastStand,
		Stealthed:    u.Stealthed(),
		AbilityReady: u.AbilityCooldown == 0,
	}
	if u.Carried != nil {
		r.Carried = *u.Carried
	}
	if u.GatherTile != nil {
		t := *u.GatherTile
		r.GatherTile = &t
	}
	return r
}

func buildingRecord(b *Building) BuildingRecord {
	return BuildingRecord{
		ID:        b.ID,
		Owner:     b.Owner,
		Faction:   b.Faction,
		Kind:      b.Kind,
		Origin:    b.Origin,
		Size:      b.Size,
		Health:    b.Health,
		MaxHealth: b.MaxHealth,
		Defense:   b.Defense,
		Queue:     append([]ProductionItem{}, b.Queue...),
		OriginOp:  b.OriginOp,
	}
}

func (w *World) playerRecord(p *Player) PlayerRecord {
	bal, _ := w.ledger.Balance(p.ID)
	return PlayerRecord{
		ID:         p.ID,
		Faction:    p.Faction,
		Resources:  bal,
		Researched: w.tech.ResearchedIDs(p.ID),
		Defeated:   p.Defeated,
	}
}

func diffUnit(prev, cur UnitRecord) UnitDiff {
	var d UnitDiff
	setF := func(dst **float64, a, b float64) {
		if a != b {
			v := b
			*dst = &v
		}
	}
	setF(&d.X, prev.X, cur.X)
	setF(&d.Y, prev.Y, cur.Y)
	setF(&d.Health, prev.Health, cur.Health)
	setF(&d.MaxHealth, prev.MaxHealth, cur.MaxHealth)
	setF(&d.Attack, prev.Attack, cur.Attack)
	setF(&d.Defense, prev.Defense, cur.Defense)
	setF(&d.Speed, prev.Speed, cur.Speed)
	setF(&d.Range, prev.Range, cur.Range)

	if prev.State != cur.State {
		s := cur.State
		d.State = &s
	}
	if prev.Order != cur.Order {
		o := cur.Order
		d.Order = &o
	}
	if prev.Carried != cur.Carried {
		c := cur.Carried
		d.Carried = &c
	}
	if !samePoint(prev.GatherTile, cur.GatherTile) {
		// A cleared gather tile goes out as (-1,-1)
		p := types.Point{X: -1, Y: -1}
		if cur.GatherTile != nil {
			p = *cur.GatherTile
		}
		d.GatherTile = &p
	}
	if prev.Target != cur.Target {
		t := cur.Target
		d.Target = &t
	}
	if prev.LastStand != cur.LastStand {
		v := cur.LastStand
		d.LastStand = &v
	}
	if prev.Stealthed != cur.Stealthed {
		v := cur.Stealthed
		d.Stealthed = &v
	}
	if prev.AbilityReady != cur.AbilityReady {
		v := cur.AbilityReady
		d.AbilityReady = &v
	}
	return d
}

func samePoint(a, b *types.Point) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameQueue(a, b []ProductionItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func diffBuilding(prev, cur BuildingRecord) BuildingDiff {
	var d BuildingDiff
	if prev.Health != cur.Health {
		v := cur.Health
		d.Health = &v
	}
	if prev.MaxHealth != cur.MaxHealth {
		v := cur.MaxHealth
		d.MaxHealth = &v
	}
	if prev.Defense != cur.Defense {
		v := cur.Defense
		d.Defense = &v
	}
	if !sameQueue(prev.Queue, cur.Queue) {
		q := append([]ProductionItem{}, cur.Queue...)
		d.Queue = &q
	}
	return d
}

// Differ remembers what was last broadcast so each Diff holds only changes.
// One Differ per stream, it consumes the world's events and dirty tiles.
type Differ struct {
	units     map[types.EntityID]UnitRecord
	buildings map[types.EntityID]BuildingRecord
	players   map[types.PlayerID]PlayerRecord
}

func NewDiffer() *Differ {
	return &Differ{
		units:     make(map[types.EntityID]UnitRecord),
		buildings: make(map[types.EntityID]BuildingRecord),
		players:   make(map[types.PlayerID]PlayerRecord),
	}
}

// Prime records the world as already sent, typically right after a keyframe.
func (d *Differ) Prime(s Snapshot) {
	d.units = make(map[types.EntityID]UnitRecord, len(s.Units))
	for _, u := range s.Units {
		d.units[u.ID] = u
	}
	d.buildings = make(map[types.EntityID]BuildingRecord, len(s.Buildings))
	for _, b := range s.Buildings {
		d.buildings[b.ID] = b
	}
	d.players = make(map[types.PlayerID]PlayerRecord, len(s.Players))
	for _, p := range s.Players {
		d.players[p.ID] = p
	}
}

// Force makes the next diff carry full records for these entities. Used as
// the corrective diff after a rejected intent.
func (d *Differ) Force(units, buildings []types.EntityID, players []types.PlayerID) {
	for _, id := range units {
		delete(d.units, id)
	}
	for _, id := range buildings {
		delete(d.buildings, id)
	}
	for _, id := range players {
		delete(d.players, id)
	}
}

// Next builds the diff for the world's current tick and attaches acks.
func (d *Differ) Next(w *World, acks []Ack) Diff {
	w.Mu.Lock()
	defer w.Mu.Unlock()

	out := Diff{
		Tick:      w.tick,
		Units:     make(map[types.EntityID]UnitDiff),
		Buildings: make(map[types.EntityID]BuildingDiff),
		Players:   make(map[types.PlayerID]PlayerRecord),
		Events:    w.takeEvents(),
		Acks:      acks,
		Winner:    w.winner,
		GameOver:  w.gameOver,
	}

	for _, id := range w.unitIDs() {
		cur := unitRecord(w.units[id])
		prev, seen := d.units[id]
		d.units[id] = cur
		if !seen {
			full := cur
			out.Units[id] = UnitDiff{Full: &full}
			continue
		}
		if ud := diffUnit(prev, cur); !ud.Empty() {
			out.Units[id] = ud
		}
	}
	for id := range d.units {
		if _, ok := w.units[id]; !ok {
			out.RemovedUnits = append(out.RemovedUnits, id)
		}
	}
	for _, id := range out.RemovedUnits {
		delete(d.units, id)
	}

	for _, id := range w.buildingIDs() {
		cur := buildingRecord(w.buildings[id])
		prev, seen := d.buildings[id]
		d.buildings[id] = cur
		if !seen {
			full := cur
			out.Buildings[id] = BuildingDiff{Full: &full}
			continue
		}
		if bd := diffBuilding(prev, cur); !bd.Empty() {
			out.Buildings[id] = bd
		}
	}
	for id := range d.buildings {
		if _, ok := w.buildings[id]; !ok {
			out.RemovedBuildings = append(out.RemovedBuildings, id)
		}
	}
	for _, id := range out.RemovedBuildings {
		delete(d.buildings, id)
	}
	sortIDs(out.RemovedUnits)
	sortIDs(out.RemovedBuildings)

	for _, id := range w.playerIDs() {
		cur := w.playerRecord(w.players[id])
		if prev, seen := d.players[id]; seen && prev.equal(cur) {
			continue
		}
		d.players[id] = cur
		out.Players[id] = cur
	}

	for _, p := range w.grid.takeDirty() {
		t, _ := w.grid.Tile(p)
		out.Tiles = append(out.Tiles, t)
	}
	return out
}

// Snapshot captures the whole world as a keyframe.
func (w *World) Snapshot() Snapshot {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	return w.snapshot()
}

func (w *World) snapshot() Snapshot {
	s := Snapshot{
		Tick:     w.tick,
		Size:     w.grid.Size(),
		Tiles:    w.grid.Tiles(),
		NextID:   w.nextID,
		Winner:   w.winner,
		GameOver: w.gameOver,
	}
	for _, id := range w.unitIDs() {
		s.Units = append(s.Units, unitRecord(w.units[id]))
	}
	for _, id := range w.buildingIDs() {
		s.Buildings = append(s.Buildings, buildingRecord(w.buildings[id]))
	}
	for _, id := range w.playerIDs() {
		s.Players = append(s.Players, w.playerRecord(w.players[id]))
	}
	return s
}
