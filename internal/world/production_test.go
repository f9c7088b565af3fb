package world

import (
	"math"
	"testing"

	"github.com/Scrimzay/rtsim/internal/types"
)

func countUnits(w *World, owner types.PlayerID, kind types.UnitKind) int {
	n := 0
	for _, u := range w.units {
		if u.Owner == owner && u.Kind == kind {
			n++
		}
	}
	return n
}

func TestProductionSpawnsInOrder(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	cc := cityCenter(t, w, "p1")

	for i := 0; i < 2; i++ {
		if err := w.QueueProduction("p1", cc.ID, types.UnitWorker); err != nil {
			t.Fatalf("QueueProduction: %v", err)
		}
	}
	if bal, _ := w.Resources("p1"); bal.Food != rich.Food-100 {
		t.Fatalf("got food %d, want %d", bal.Food, rich.Food-100)
	}

	for i := 0; i < 99; i++ {
		w.Tick()
	}
	if n := countUnits(w, "p1", types.UnitWorker); n != 0 {
		t.Fatalf("got %d workers after 9.9s, want 0", n)
	}
	w.Tick()
	if n := countUnits(w, "p1", types.UnitWorker); n != 1 {
		t.Fatalf("got %d workers after 10s, want 1", n)
	}
	if len(cc.Queue) != 1 {
		t.Fatalf("got queue length %d, want 1", len(cc.Queue))
	}
	for i := 0; i < 100; i++ {
		w.Tick()
	}
	if n := countUnits(w, "p1", types.UnitWorker); n != 2 {
		t.Errorf("got %d workers after 20s, want 2", n)
	}
}

func TestQueueLimits(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	cc := cityCenter(t, w, "p1")

	if err := w.QueueProduction("p1", cc.ID, types.UnitMelee); IntentCode(err) != CodeIncompatibleBuilding {
		t.Errorf("got %v, want %s", err, CodeIncompatibleBuilding)
	}
	if err := w.QueueProduction("p1", cc.ID, types.UnitHero); IntentCode(err) != CodeIncompatibleBuilding {
		t.Errorf("hero before heroicCall: got %v, want %s", err, CodeIncompatibleBuilding)
	}
	for i := 0; i < w.opts.MaxQueue; i++ {
		if err := w.QueueProduction("p1", cc.ID, types.UnitWorker); err != nil {
			t.Fatalf("item %d: %v", i, err)
		}
	}
	if err := w.QueueProduction("p1", cc.ID, types.UnitWorker); IntentCode(err) != CodeQueueFull {
		t.Errorf("got %v, want %s", err, CodeQueueFull)
	}

	theirs := cityCenter(t, w, "p2")
	if err := w.QueueProduction("p1", theirs.ID, types.UnitWorker); IntentCode(err) != CodeNotOwner {
		t.Errorf("got %v, want %s", err, CodeNotOwner)
	}
}

func TestCancelOnlyTouchesOneBuilding(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	cc := cityCenter(t, w, "p1")
	barracksID, err := w.CreateBuilding("p1", types.BuildingBarracks, types.Point{X: 8, Y: 2})
	if err != nil {
		t.Fatalf("CreateBuilding: %v", err)
	}
	barracks := w.buildings[barracksID]

	for i := 0; i < 3; i++ {
		if err := w.QueueProduction("p1", cc.ID, types.UnitWorker); err != nil {
			t.Fatalf("cc queue: %v", err)
		}
		if err := w.QueueProduction("p1", barracksID, types.UnitMelee); err != nil {
			t.Fatalf("barracks queue: %v", err)
		}
	}
	before, _ := w.Resources("p1")

	if err := w.CancelProduction("p1", barracksID, 1); err != nil {
		t.Fatalf("CancelProduction: %v", err)
	}
	if len(barracks.Queue) != 2 {
		t.Errorf("got barracks queue %d, want 2", len(barracks.Queue))
	}
	if len(cc.Queue) != 3 {
		t.Errorf("got city center queue %d, want 3", len(cc.Queue))
	}
	after, _ := w.Resources("p1")
	if want := before.Add(types.UnitMelee.Cost()); after != want {
		t.Errorf("got balance %v, want %v", after, want)
	}

	if err := w.CancelProduction("p1", barracksID, 5); IntentCode(err) != CodeBadQueueIndex {
		t.Errorf("got %v, want %s", err, CodeBadQueueIndex)
	}
}

func TestProductionHeldWithoutRoom(t *testing.T) {
	const size = 5
	terrain := make([]types.TerrainType, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if x == 0 || y == 0 || x == size-1 || y == size-1 {
				terrain[y*size+x] = types.TerrainWater
			}
		}
	}
	l := Layout{
		Name:    "walled",
		Size:    size,
		Terrain: terrain,
		Players: []PlayerSetup{{ID: "p1", Faction: types.FactionNephite, Start: rich, CityCenter: types.Point{X: 1, Y: 1}}},
	}
	w := newTestWorld(t, l)
	cc := cityCenter(t, w, "p1")
	if err := w.QueueProduction("p1", cc.ID, types.UnitWorker); err != nil {
		t.Fatalf("QueueProduction: %v", err)
	}

	for i := 0; i < 120; i++ {
		w.Tick()
	}
	if len(w.units) != 0 {
		t.Fatalf("got %d units, want the worker held", len(w.units))
	}
	if len(cc.Queue) != 1 || !cc.Queue[0].Held {
		t.Fatalf("got queue %+v, want one held item", cc.Queue)
	}

	w.grid.SetTerrain(types.Point{X: 0, Y: 0}, types.TerrainGrass)
	w.Tick()
	if len(w.units) != 1 || len(cc.Queue) != 0 {
		t.Fatalf("got %d units and queue %d, want the held worker out", len(w.units), len(cc.Queue))
	}
	for _, u := range w.units {
		if u.Tile() != (types.Point{X: 0, Y: 0}) {
			t.Errorf("got spawn at %v, want (0,0)", u.Tile())
		}
	}
}

func TestProductionSpeedRescalesQueue(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	barracksID, err := w.CreateBuilding("p1", types.BuildingBarracks, types.Point{X: 8, Y: 2})
	if err != nil {
		t.Fatalf("CreateBuilding: %v", err)
	}
	if err := w.QueueProduction("p1", barracksID, types.UnitMelee); err != nil {
		t.Fatalf("QueueProduction: %v", err)
	}
	if err := w.QueueProduction("p1", barracksID, types.UnitMelee); err != nil {
		t.Fatalf("QueueProduction: %v", err)
	}
	for i := 0; i < 50; i++ {
		w.Tick()
	}
	if err := w.Research("p1", "drillYard"); err != nil {
		t.Fatalf("Research: %v", err)
	}

	q := w.buildings[barracksID].Queue
	if math.Abs(q[0].Remaining-8) > 1e-6 {
		t.Errorf("got head %.4fs, want 8s", q[0].Remaining)
	}
	if math.Abs(q[1].Remaining-12) > 1e-6 {
		t.Errorf("got second %.4fs, want 12s", q[1].Remaining)
	}

	if err := w.QueueProduction("p1", barracksID, types.UnitMelee); err != nil {
		t.Fatalf("QueueProduction: %v", err)
	}
	if got := w.buildings[barracksID].Queue[2].Remaining; math.Abs(got-12) > 1e-6 {
		t.Errorf("got new item %.4fs, want 12s", got)
	}
}

func TestResearchAppliesToExistingAndFutureUnits(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	old := w.spawnUnit("p1", types.UnitMelee, types.Point{X: 8, Y: 8})
	worker := w.spawnUnit("p1", types.UnitWorker, types.Point{X: 8, Y: 9})
	enemy := w.spawnUnit("p2", types.UnitMelee, types.Point{X: 12, Y: 12})

	for _, id := range []string{"metallurgy", "bronzeWeapons"} {
		if _, err := w.Apply(Intent{OpID: id, Player: "p1", Type: IntentResearchTech, Research: &ResearchTech{TechID: id}}); err != nil {
			t.Fatalf("research %s: %v", id, err)
		}
	}

	if old.Attack != 14 {
		t.Errorf("got existing melee attack %v, want 14", old.Attack)
	}
	if worker.Attack != 3 {
		t.Errorf("got worker attack %v, want 3", worker.Attack)
	}
	if enemy.Attack != 12 {
		t.Errorf("got enemy attack %v, want 12", enemy.Attack)
	}
	fresh := w.spawnUnit("p1", types.UnitMelee, types.Point{X: 9, Y: 8})
	if fresh.Attack != 14 {
		t.Errorf("got new melee attack %v, want 14", fresh.Attack)
	}

	_, err := w.Apply(Intent{OpID: "again", Player: "p1", Type: IntentResearchTech, Research: &ResearchTech{TechID: "bronzeWeapons"}})
	if IntentCode(err) != CodeAlreadyResearched {
		t.Errorf("got %v, want %s", err, CodeAlreadyResearched)
	}
	if old.Attack != 14 {
		t.Errorf("second research changed attack to %v", old.Attack)
	}

	_, err = w.Apply(Intent{OpID: "steel", Player: "p2", Type: IntentResearchTech, Research: &ResearchTech{TechID: "steelWeapons"}})
	if IntentCode(err) != CodeMissingPrerequisites {
		t.Errorf("got %v, want %s", err, CodeMissingPrerequisites)
	}
}

func TestFortificationsBuffBuildings(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	cc := cityCenter(t, w, "p1")
	if err := w.Research("p1", "fortifications"); err != nil {
		t.Fatalf("Research: %v", err)
	}
	if cc.Defense != 8 {
		t.Errorf("got defense %v, want 8", cc.Defense)
	}
	if cc.MaxHealth != 1875 || cc.Health != 1875 {
		t.Errorf("got health %v/%v, want 1875/1875", cc.Health, cc.MaxHealth)
	}
}
