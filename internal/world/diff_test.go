package world

import (
	"encoding/json"
	"testing"

	"github.com/Scrimzay/rtsim/internal/types"
)

func TestDiffCarriesOnlyChanges(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	u := w.spawnUnit("p1", types.UnitMelee, types.Point{X: 8, Y: 8})
	d := NewDiffer()

	first := d.Next(w, nil)
	if first.Units[u.ID].Full == nil {
		t.Fatalf("first diff should carry the full unit, got %+v", first.Units[u.ID])
	}
	if len(first.Players) != 2 {
		t.Errorf("got %d players in the first diff, want 2", len(first.Players))
	}

	still := d.Next(w, nil)
	if len(still.Units) != 0 || len(still.Buildings) != 0 || len(still.Players) != 0 {
		t.Fatalf("nothing changed but got %+v", still)
	}

	if err := w.MoveUnitsTo("p1", []types.EntityID{u.ID}, types.Point{X: 12, Y: 8}); err != nil {
		t.Fatalf("MoveUnitsTo: %v", err)
	}
	w.Tick()
	moved := d.Next(w, nil)
	ud, ok := moved.Units[u.ID]
	if !ok {
		t.Fatal("moving unit missing from diff")
	}
	if ud.Full != nil || ud.X == nil || ud.State == nil || ud.Order == nil {
		t.Errorf("got %+v, want position, state and order", ud)
	}
	if ud.Health != nil || ud.Attack != nil || ud.Y != nil {
		t.Errorf("unchanged fields leaked into the diff: %+v", ud)
	}
	if moved.Tick != 1 {
		t.Errorf("got tick %d, want 1", moved.Tick)
	}

	raw, err := json.Marshal(ud)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := fields["health"]; ok {
		t.Errorf("health on the wire: %s", raw)
	}
}

func TestDiffRemovalsAndForce(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	a := w.spawnUnit("p1", types.UnitMelee, types.Point{X: 8, Y: 8})
	b := w.spawnUnit("p1", types.UnitMelee, types.Point{X: 9, Y: 8})
	d := NewDiffer()
	d.Next(w, nil)

	w.removeUnit(a)
	d.Force([]types.EntityID{b.ID}, nil, []types.PlayerID{"p2"})
	next := d.Next(w, []Ack{{OpID: "x", Player: "p1", Code: CodeNotOwner}})

	if len(next.RemovedUnits) != 1 || next.RemovedUnits[0] != a.ID {
		t.Errorf("got removed %v, want [%d]", next.RemovedUnits, a.ID)
	}
	if next.Units[b.ID].Full == nil {
		t.Errorf("forced unit should come as a full record")
	}
	if _, ok := next.Players["p2"]; !ok {
		t.Errorf("forced player missing")
	}
	if len(next.Acks) != 1 || next.Acks[0].OpID != "x" {
		t.Errorf("got acks %+v", next.Acks)
	}
}

func TestDiffCarriesNewBuildingAndTiles(t *testing.T) {
	l := twoPlayerLayout()
	l.Deposits = []DepositSpec{{At: types.Point{X: 6, Y: 2}, Kind: types.ResourceFood, Amount: 100}}
	w := newTestWorld(t, l)
	d := NewDiffer()
	d.Next(w, nil)

	if _, err := w.CreateBuilding("p1", types.BuildingStorehouse, types.Point{X: 8, Y: 8}); err != nil {
		t.Fatalf("CreateBuilding: %v", err)
	}
	next := d.Next(w, nil)
	if len(next.Tiles) != 4 {
		t.Errorf("got %d tile changes, want the 4 footprint tiles", len(next.Tiles))
	}
	for _, tile := range next.Tiles {
		if tile.Walkable {
			t.Errorf("footprint tile %d,%d still walkable", tile.X, tile.Y)
		}
	}
	var full *BuildingRecord
	for _, bd := range next.Buildings {
		if bd.Full != nil {
			full = bd.Full
		}
	}
	if full == nil || full.Kind != types.BuildingStorehouse {
		t.Errorf("new storehouse missing, got %+v", next.Buildings)
	}
}

func TestReplicaFollowsDiffs(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	u := w.spawnUnit("p1", types.UnitMelee, types.Point{X: 8, Y: 8})
	d := NewDiffer()
	snap := w.Snapshot()
	d.Prime(snap)

	r := NewReplica(snap, Options{Logger: quiet})
	if got := len(r.Units()); got != len(snap.Units) {
		t.Fatalf("got %d replica units, want %d", got, len(snap.Units))
	}

	shadow := map[types.EntityID]UnitRecord{}
	for _, rec := range snap.Units {
		shadow[rec.ID] = rec
	}
	if err := w.MoveUnitsTo("p1", []types.EntityID{u.ID}, types.Point{X: 14, Y: 10}); err != nil {
		t.Fatalf("MoveUnitsTo: %v", err)
	}
	for i := 0; i < 10; i++ {
		w.Tick()
		diff := d.Next(w, nil)
		for id, ud := range diff.Units {
			rec := shadow[id]
			rec.Patch(ud)
			shadow[id] = rec
			r.UpsertUnit(rec)
		}
		r.SyncClock(diff.Tick, diff.Winner, diff.GameOver)
	}

	want, _ := w.Unit(u.ID)
	got, ok := r.Unit(u.ID)
	if !ok {
		t.Fatal("replica lost the unit")
	}
	if got.X != want.X || got.Y != want.Y || got.State != want.State {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if r.CurrentTick() != w.CurrentTick() {
		t.Errorf("got replica tick %d, want %d", r.CurrentTick(), w.CurrentTick())
	}
}

func TestReplicaBuildingClaimsFootprint(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	r := NewReplica(w.Snapshot(), Options{Logger: quiet})

	rec := BuildingRecord{ID: 77, Owner: "p1", Kind: types.BuildingBarracks, Origin: types.Point{X: 8, Y: 8}, Size: 2, Health: 600, MaxHealth: 600}
	r.UpsertBuilding(rec)
	if r.grid.Walkable(types.Point{X: 9, Y: 9}) {
		t.Error("footprint still walkable")
	}
	r.RemoveBuilding(77)
	if !r.grid.Walkable(types.Point{X: 9, Y: 9}) {
		t.Error("footprint not released")
	}
}

func TestDigestIsDeterministic(t *testing.T) {
	run := func(target types.Point) [32]byte {
		w := newTestWorld(t, Plains())
		var ids []types.EntityID
		for _, u := range w.Units() {
			if u.Owner == "p1" {
				ids = append(ids, u.ID)
			}
		}
		if err := w.MoveUnitsTo("p1", ids, target); err != nil {
			t.Fatalf("MoveUnitsTo: %v", err)
		}
		for i := 0; i < 40; i++ {
			w.Tick()
		}
		return w.Digest()
	}

	a := run(types.Point{X: 10, Y: 10})
	b := run(types.Point{X: 10, Y: 10})
	c := run(types.Point{X: 12, Y: 20})
	if a != b {
		t.Errorf("same inputs, different digests %s %s", DigestHex(a), DigestHex(b))
	}
	if a == c {
		t.Error("different inputs produced the same digest")
	}
}
