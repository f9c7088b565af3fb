package world

import (
	"math"
	"testing"

	"github.com/Scrimzay/rtsim/internal/types"
)

func TestDamage(t *testing.T) {
	unit := func(kind types.UnitKind) *Unit {
		return newUnit(1, "p1", types.FactionNephite, kind, types.Point{}, nil)
	}
	tests := []struct {
		name     string
		attacker types.UnitKind
		target   types.UnitKind
		want     float64
	}{
		{"plain", types.UnitMelee, types.UnitMelee, 9},
		{"counter", types.UnitMelee, types.UnitCavalry, 15},
		{"counter and weakness", types.UnitCavalry, types.UnitRanged, 13 * 1.5 * 1.25},
		{"weakness only", types.UnitRanged, types.UnitHero, 4 * 1.25},
		{"floor of one", types.UnitWorker, types.UnitHero, 1},
		{"scout on worker", types.UnitLamaniteScout, types.UnitWorker, 9 * 1.5 * 1.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Damage(unit(tt.attacker), unit(tt.target))
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStriplingLastStand(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	hero := w.spawnUnit("p2", types.UnitHero, types.Point{X: 9, Y: 9})
	strip := w.spawnUnit("p1", types.UnitStriplingWarrior, types.Point{X: 10, Y: 9})
	strip.Health = 5

	w.hitUnit(hero, strip)
	if strip.Health != 1 || strip.LastStand {
		t.Fatalf("got health %v last stand %v, want 1 and spent", strip.Health, strip.LastStand)
	}
	events := w.takeEvents()
	if len(events) != 1 || events[0].Kind != EventLastStand {
		t.Errorf("got events %+v, want one lastStand", events)
	}

	w.hitUnit(hero, strip)
	if strip.Health > 0 {
		t.Errorf("got health %v, want dead on the second lethal hit", strip.Health)
	}
}

func TestCombatKillsAndEmitsDeath(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	a := w.spawnUnit("p1", types.UnitCavalry, types.Point{X: 9, Y: 9})
	b := w.spawnUnit("p2", types.UnitRanged, types.Point{X: 10, Y: 9})
	b.Health = 20

	for i := 0; i < 5; i++ {
		w.Tick()
	}
	if _, ok := w.units[b.ID]; ok {
		t.Fatalf("ranged unit still alive with %v health", b.Health)
	}
	if a.State != StateAttacking {
		t.Errorf("got attacker state %v on the kill round, want attacking", a.State)
	}
	found := false
	for _, e := range w.takeEvents() {
		if e.Kind == EventDeath && e.Entity == b.ID {
			found = true
		}
	}
	if !found {
		t.Error("no death event")
	}

	for i := 0; i < 5; i++ {
		w.Tick()
	}
	if a.State != StateIdle {
		t.Errorf("got attacker state %v with nothing in range, want idle", a.State)
	}
}

func TestCombatRoundIsSimultaneous(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	a := w.spawnUnit("p1", types.UnitMelee, types.Point{X: 9, Y: 9})
	b := w.spawnUnit("p2", types.UnitMelee, types.Point{X: 10, Y: 9})
	a.Health, b.Health = 5, 5

	for i := 0; i < 5; i++ {
		w.Tick()
	}
	for _, u := range []*Unit{a, b} {
		if _, ok := w.units[u.ID]; ok {
			t.Errorf("unit %d survived a lethal hit", u.ID)
		}
	}
	deaths := 0
	for _, e := range w.takeEvents() {
		if e.Kind == EventDeath {
			deaths++
		}
	}
	if deaths != 2 {
		t.Errorf("got %d deaths, want both units in the same round", deaths)
	}
}

func TestCombatIntervalIsHalfSecond(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	w.spawnUnit("p1", types.UnitMelee, types.Point{X: 9, Y: 9})
	b := w.spawnUnit("p2", types.UnitMelee, types.Point{X: 10, Y: 9})

	for i := 0; i < 4; i++ {
		w.Tick()
	}
	if b.Health != b.MaxHealth {
		t.Fatalf("got health %v before the first round", b.Health)
	}
	w.Tick()
	if b.Health != b.MaxHealth-9 {
		t.Errorf("got health %v, want %v", b.Health, b.MaxHealth-9)
	}
}

func TestStealthHidesScout(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	melee := w.spawnUnit("p1", types.UnitMelee, types.Point{X: 9, Y: 9})
	scout := w.spawnUnit("p2", types.UnitLamaniteScout, types.Point{X: 10, Y: 9})

	out, err := w.Apply(Intent{OpID: "s", Player: "p2", Type: IntentActivateAbility,
		Ability: &ActivateAbility{AbilityID: AbilityStealth, IDs: []types.EntityID{scout.ID}}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(out.Targets) != 1 || out.Targets[0] != scout.ID {
		t.Errorf("got targets %v, want the scout", out.Targets)
	}
	if got := w.acquireUnit(melee, w.unitIDs()); got != nil {
		t.Errorf("stealthed scout was acquired")
	}

	_, err = w.Apply(Intent{OpID: "s2", Player: "p2", Type: IntentActivateAbility,
		Ability: &ActivateAbility{AbilityID: AbilityStealth, IDs: []types.EntityID{scout.ID}}})
	if IntentCode(err) != CodeAbilityCooldown {
		t.Errorf("got %v, want %s", err, CodeAbilityCooldown)
	}

	for i := 0; i < w.opts.StealthTicks; i++ {
		w.stepAbilities()
	}
	if got := w.acquireUnit(melee, w.unitIDs()); got != scout {
		t.Errorf("scout should be visible once stealth runs out")
	}
}

func TestAbilityUsesSelection(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	scout := w.spawnUnit("p2", types.UnitLamaniteScout, types.Point{X: 10, Y: 9})

	if _, err := w.Apply(Intent{OpID: "sel", Player: "p2", Type: IntentSelectUnits,
		Select: &SelectUnits{IDs: []types.EntityID{scout.ID}}}); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := w.Apply(Intent{OpID: "s", Player: "p2", Type: IntentActivateAbility,
		Ability: &ActivateAbility{AbilityID: AbilityStealth}}); err != nil {
		t.Fatalf("ability on selection: %v", err)
	}
	if !scout.Stealthed() {
		t.Error("selected scout not stealthed")
	}
	_, err := w.Apply(Intent{OpID: "x", Player: "p2", Type: IntentActivateAbility,
		Ability: &ActivateAbility{AbilityID: "fireball"}})
	if IntentCode(err) != CodeUnknownAbility {
		t.Errorf("got %v, want %s", err, CodeUnknownAbility)
	}
}

func TestVictoryWhenLastCityCenterFalls(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	w.destroyBuilding(cityCenter(t, w, "p2"))
	w.Tick()

	if !w.IsGameOver() || w.GetWinner() != "p1" {
		t.Fatalf("got over=%v winner=%q, want p1", w.IsGameOver(), w.GetWinner())
	}
	if !w.players["p2"].Defeated {
		t.Error("p2 not marked defeated")
	}
	_, err := w.Apply(Intent{OpID: "late", Player: "p1", Type: IntentResearchTech, Research: &ResearchTech{TechID: "agriculture"}})
	if IntentCode(err) != CodeGameOver {
		t.Errorf("got %v, want %s", err, CodeGameOver)
	}

	tick := w.CurrentTick()
	w.Tick()
	if w.CurrentTick() != tick {
		t.Error("world kept ticking after game over")
	}
}

func TestCombatDestroysBuilding(t *testing.T) {
	w := newTestWorld(t, twoPlayerLayout())
	cc := cityCenter(t, w, "p2")
	cc.Health = 3
	w.spawnUnit("p1", types.UnitMelee, types.Point{X: 15, Y: 15})

	for i := 0; i < 5; i++ {
		w.Tick()
	}
	if _, ok := w.buildings[cc.ID]; ok {
		t.Fatal("city center survived")
	}
	if tile, _ := w.grid.Tile(types.Point{X: 17, Y: 17}); !tile.Walkable {
		t.Error("footprint still blocked after destruction")
	}
	if w.GetWinner() != "p1" {
		t.Errorf("got winner %q, want p1", w.GetWinner())
	}
}
