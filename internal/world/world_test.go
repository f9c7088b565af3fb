package world

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/Scrimzay/rtsim/internal/types"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var rich = types.Cost{Food: 5000, Ore: 5000}

func twoPlayerLayout() Layout {
	return Layout{
		Name: "test",
		Size: 20,
		Players: []PlayerSetup{
			{ID: "p1", Faction: types.FactionNephite, Start: rich, CityCenter: types.Point{X: 1, Y: 1}},
			{ID: "p2", Faction: types.FactionLamanite, Start: rich, CityCenter: types.Point{X: 16, Y: 16}},
		},
	}
}

func newTestWorld(t *testing.T, l Layout) *World {
	t.Helper()
	w, err := New(l, Options{Logger: quiet})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func cityCenter(t *testing.T, w *World, player types.PlayerID) *Building {
	t.Helper()
	for _, id := range w.buildingIDs() {
		if b := w.buildings[id]; b.Owner == player && b.Kind == types.BuildingCityCenter {
			return b
		}
	}
	t.Fatalf("no city center for %s", player)
	return nil
}

func TestWorkerGathersWholeDeposit(t *testing.T) {
	l := Layout{
		Name:     "gather",
		Size:     16,
		Deposits: []DepositSpec{{At: types.Point{X: 8, Y: 2}, Kind: types.ResourceFood, Amount: 300}},
		Players: []PlayerSetup{
			{ID: "p1", Faction: types.FactionNephite, CityCenter: types.Point{X: 1, Y: 1}},
		},
	}
	w := newTestWorld(t, l)
	u := w.spawnUnit("p1", types.UnitWorker, types.Point{X: 5, Y: 2})

	if err := w.OrderGather("p1", []types.EntityID{u.ID}, types.Point{X: 8, Y: 2}); err != nil {
		t.Fatalf("OrderGather: %v", err)
	}

	capacity := types.UnitWorker.CarryCapacity()
	var loads, gatherTicks []int
	perLoad, prevCarry, prevFood := 0, 0, 0
	done := false
	for i := 0; i < 20000 && !done; i++ {
		w.Tick()
		if c := u.carrying(); c > prevCarry {
			if w.tick%w.gatherEvery != 0 {
				t.Fatalf("tick %d: load grew outside a gather tick", w.tick)
			}
			if c-prevCarry != 3 {
				t.Fatalf("tick %d: load grew by %d, want 3", w.tick, c-prevCarry)
			}
			perLoad++
		}
		bal, _ := w.Resources("p1")
		if bal.Food > prevFood {
			loads = append(loads, bal.Food-prevFood)
			gatherTicks = append(gatherTicks, perLoad)
			perLoad = 0
		}
		prevCarry, prevFood = u.carrying(), bal.Food

		tile, _ := w.grid.Tile(types.Point{X: 8, Y: 2})
		done = tile.Resource == nil && u.State == StateIdle && u.carrying() == 0
	}
	if !done {
		t.Fatalf("worker never finished, state %v carrying %d", u.State, u.carrying())
	}
	bal, _ := w.Resources("p1")
	if bal.Food != 300 {
		t.Errorf("got food %d, want 300", bal.Food)
	}
	if len(loads) != 300/capacity {
		t.Fatalf("got %d return trips, want %d", len(loads), 300/capacity)
	}
	for i := range loads {
		if loads[i] != capacity || gatherTicks[i] != capacity/3 {
			t.Errorf("trip %d: delivered %d after %d gather ticks, want %d after %d",
				i, loads[i], gatherTicks[i], capacity, capacity/3)
		}
	}
	if u.GatherTile != nil {
		t.Errorf("got gather tile %v, want none", *u.GatherTile)
	}
}

func TestGatherRedirectsToSameKind(t *testing.T) {
	l := Layout{
		Name: "redirect",
		Size: 16,
		Deposits: []DepositSpec{
			{At: types.Point{X: 7, Y: 2}, Kind: types.ResourceOre, Amount: 5},
			{At: types.Point{X: 9, Y: 9}, Kind: types.ResourceFood, Amount: 100},
			{At: types.Point{X: 10, Y: 3}, Kind: types.ResourceOre, Amount: 100},
		},
		Players: []PlayerSetup{
			{ID: "p1", Faction: types.FactionNephite, CityCenter: types.Point{X: 1, Y: 1}},
		},
	}
	w := newTestWorld(t, l)
	u := w.spawnUnit("p1", types.UnitWorker, types.Point{X: 6, Y: 2})
	if err := w.OrderGather("p1", []types.EntityID{u.ID}, types.Point{X: 7, Y: 2}); err != nil {
		t.Fatalf("OrderGather: %v", err)
	}

	for i := 0; i < 2000; i++ {
		w.Tick()
		if u.GatherTile != nil && *u.GatherTile == (types.Point{X: 10, Y: 3}) {
			return
		}
	}
	t.Fatalf("worker never moved on to the next ore tile, gather tile %v", u.GatherTile)
}

func TestOrderGatherRejections(t *testing.T) {
	l := twoPlayerLayout()
	l.Deposits = []DepositSpec{{At: types.Point{X: 8, Y: 8}, Kind: types.ResourceOre, Amount: 50}}
	w := newTestWorld(t, l)
	worker := w.spawnUnit("p1", types.UnitWorker, types.Point{X: 6, Y: 6})
	melee := w.spawnUnit("p1", types.UnitMelee, types.Point{X: 6, Y: 7})

	tests := []struct {
		name string
		ids  []types.EntityID
		at   types.Point
		code string
	}{
		{"empty tile", []types.EntityID{worker.ID}, types.Point{X: 9, Y: 9}, CodeNoResource},
		{"soldier", []types.EntityID{melee.ID}, types.Point{X: 8, Y: 8}, CodeCannotGather},
		{"unknown unit", []types.EntityID{9999}, types.Point{X: 8, Y: 8}, CodeUnknownEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.OrderGather("p1", tt.ids, tt.at)
			if !errors.Is(err, ErrInvalidIntent) {
				t.Fatalf("got %v, want an invalid intent", err)
			}
			if got := IntentCode(err); got != tt.code {
				t.Errorf("got code %q, want %q", got, tt.code)
			}
		})
	}
}

func TestMoveUnreachableGoesIdle(t *testing.T) {
	const size = 20
	terrain := make([]types.TerrainType, size*size)
	for y := 0; y < size; y++ {
		terrain[y*size+10] = types.TerrainWater
	}
	l := Layout{
		Name:    "split",
		Size:    size,
		Terrain: terrain,
		Players: []PlayerSetup{{ID: "p1", Faction: types.FactionNephite, CityCenter: types.Point{X: 1, Y: 1}}},
	}
	w := newTestWorld(t, l)
	u := w.spawnUnit("p1", types.UnitMelee, types.Point{X: 5, Y: 5})

	if err := w.MoveUnitsTo("p1", []types.EntityID{u.ID}, types.Point{X: 15, Y: 5}); err != nil {
		t.Fatalf("unreachable target should not be an error: %v", err)
	}
	if u.State != StateIdle || len(u.Path) != 0 {
		t.Errorf("got state %v with %d waypoints, want idle", u.State, len(u.Path))
	}

	if err := w.MoveUnitsTo("p1", []types.EntityID{u.ID}, types.Point{X: 8, Y: 9}); err != nil {
		t.Fatalf("MoveUnitsTo: %v", err)
	}
	for i := 0; i < 100 && u.State == StateMoving; i++ {
		w.Tick()
	}
	if u.Tile() != (types.Point{X: 8, Y: 9}) || u.State != StateIdle {
		t.Errorf("got %v in state %v, want (8,9) idle", u.Tile(), u.State)
	}
}

func TestLastMoveOrderWins(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	u := w.spawnUnit("p1", types.UnitMelee, types.Point{X: 5, Y: 10})

	if err := w.MoveUnitsTo("p1", []types.EntityID{u.ID}, types.Point{X: 15, Y: 10}); err != nil {
		t.Fatalf("MoveUnitsTo: %v", err)
	}
	for i := 0; i < 5; i++ {
		w.Tick()
	}
	if u.State != StateMoving {
		t.Fatalf("got state %v, want moving toward the first target", u.State)
	}

	second := types.Point{X: 5, Y: 18}
	if err := w.MoveUnitsTo("p1", []types.EntityID{u.ID}, second); err != nil {
		t.Fatalf("MoveUnitsTo: %v", err)
	}
	if u.Order.Dest != second || u.Order.Kind != OrderMove {
		t.Errorf("got order %+v, want a move to %v", u.Order, second)
	}
	if len(u.Path) == 0 || u.Path[len(u.Path)-1] != second {
		t.Fatalf("got path %v, want it to end at %v", u.Path, second)
	}
	for _, p := range u.Path {
		if p == (types.Point{X: 15, Y: 10}) {
			t.Errorf("new path still runs through the old target")
		}
	}

	for i := 0; i < 200 && u.State == StateMoving; i++ {
		w.Tick()
	}
	if u.Tile() != second || u.State != StateIdle {
		t.Errorf("got %v in state %v, want %v idle", u.Tile(), u.State, second)
	}
}

func TestMoveRejectsForeignUnits(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	theirs := w.spawnUnit("p2", types.UnitMelee, types.Point{X: 10, Y: 10})

	_, err := w.Apply(Intent{OpID: "a", Player: "p1", Type: IntentMoveUnits,
		Move: &MoveUnits{IDs: []types.EntityID{theirs.ID}, X: 1, Y: 8}})
	if got := IntentCode(err); got != CodeNotOwner {
		t.Fatalf("got %v, want %s", err, CodeNotOwner)
	}
	if theirs.State != StateIdle {
		t.Errorf("rejected intent changed the unit: %v", theirs.State)
	}

	_, err = w.Apply(Intent{OpID: "b", Player: "ghost", Type: IntentMoveUnits,
		Move: &MoveUnits{IDs: []types.EntityID{theirs.ID}}})
	if got := IntentCode(err); got != CodeUnknownPlayer {
		t.Errorf("got %v, want %s", err, CodeUnknownPlayer)
	}

	_, err = w.Apply(Intent{OpID: "c", Player: "p1", Type: IntentMoveUnits})
	if got := IntentCode(err); got != CodeBadIntent {
		t.Errorf("got %v, want %s", err, CodeBadIntent)
	}
}

func TestCreateBuildingValidation(t *testing.T) {
	l := twoPlayerLayout()
	l.Deposits = []DepositSpec{{At: types.Point{X: 10, Y: 3}, Kind: types.ResourceOre, Amount: 50}}
	l.Terrain = make([]types.TerrainType, l.Size*l.Size)
	l.Terrain[12*l.Size+12] = types.TerrainWater
	w := newTestWorld(t, l)
	w.spawnUnit("p1", types.UnitWorker, types.Point{X: 7, Y: 7})

	tests := []struct {
		name   string
		kind   types.BuildingKind
		origin types.Point
		code   string
	}{
		{"overlaps city center", types.BuildingBarracks, types.Point{X: 2, Y: 2}, CodeInvalidPlacement},
		{"off the map", types.BuildingBarracks, types.Point{X: 19, Y: 5}, CodeInvalidPlacement},
		{"water", types.BuildingStorehouse, types.Point{X: 11, Y: 11}, CodeInvalidPlacement},
		{"resource tile", types.BuildingStorehouse, types.Point{X: 10, Y: 2}, CodeInvalidPlacement},
		{"unit in the way", types.BuildingStorehouse, types.Point{X: 6, Y: 6}, CodeInvalidPlacement},
		{"fine", types.BuildingBarracks, types.Point{X: 6, Y: 1}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := w.Resources("p1")
			_, err := w.CreateBuilding("p1", tt.kind, tt.origin)
			after, _ := w.Resources("p1")
			if got := IntentCode(err); got != tt.code {
				t.Fatalf("got %v, want code %q", err, tt.code)
			}
			if tt.code != "" && after != before {
				t.Errorf("rejected placement charged %v", before)
			}
			if tt.code == "" && after != (types.Cost{Food: before.Food - 150, Ore: before.Ore - 50}) {
				t.Errorf("got balance %v after building, want %v minus barracks", after, before)
			}
		})
	}
}

func TestCreateBuildingInsufficientResources(t *testing.T) {
	l := twoPlayerLayout()
	l.Players[0].Start = types.Cost{Food: 100}
	w := newTestWorld(t, l)

	_, err := w.Apply(Intent{OpID: "x", Player: "p1", Type: IntentCreateBuilding,
		Build: &CreateBuilding{Type: types.BuildingBarracks, X: 8, Y: 8}})
	if got := IntentCode(err); got != CodeInsufficientResources {
		t.Fatalf("got %v, want %s", err, CodeInsufficientResources)
	}
	if bal, _ := w.Resources("p1"); bal != (types.Cost{Food: 100}) {
		t.Errorf("got balance %v, want untouched", bal)
	}
	if tile, _ := w.grid.Tile(types.Point{X: 8, Y: 8}); !tile.Walkable {
		t.Error("rejected building left its footprint behind")
	}
}

func TestCreateBuildingRecordsOriginOp(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	out, err := w.Apply(Intent{OpID: "op-7", Player: "p1", Type: IntentCreateBuilding,
		Build: &CreateBuilding{Type: types.BuildingStorehouse, X: 8, Y: 8}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(out.Created) != 1 {
		t.Fatalf("got created %v, want one building", out.Created)
	}
	b, ok := w.Building(out.Created[0])
	if !ok || b.OriginOp != "op-7" {
		t.Errorf("got %+v, want origin op op-7", b)
	}
}
