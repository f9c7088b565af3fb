package techtree

import (
	"errors"

	"github.com/Scrimzay/rtsim/internal/types"
)

var combatUnits = []types.UnitKind{
	types.UnitMelee, types.UnitRanged, types.UnitCavalry, types.UnitHero,
	types.UnitStriplingWarrior, types.UnitLamaniteScout,
}

// DefaultTechs is the stock tree both factions play with.
func DefaultTechs() []Tech {
	return []Tech{
		{
			ID: "agriculture", Name: "Agriculture",
			Cost:    types.Cost{Food: 100},
			Effects: []Effect{{Stat: StatFoodGatherRate, Modifier: Modifier{Op: OpMul, Value: 1.2}}},
		},
		{
			ID: "metallurgy", Name: "Metallurgy",
			Cost:    types.Cost{Food: 100, Ore: 50},
			Effects: []Effect{{Stat: StatOreGatherRate, Modifier: Modifier{Op: OpMul, Value: 1.2}}},
		},
		{
			ID: "bronzeWeapons", Name: "Bronze Weapons",
			Prerequisites: []string{"metallurgy"},
			Cost:          types.Cost{Food: 120, Ore: 80},
			Effects:       []Effect{{Stat: StatAttack, Modifier: Modifier{Op: OpAdd, Value: 2}, Units: combatUnits}},
		},
		{
			ID: "steelWeapons", Name: "Steel Weapons",
			Prerequisites: []string{"bronzeWeapons"},
			Cost:          types.Cost{Food: 150, Ore: 150},
			Effects:       []Effect{{Stat: StatAttack, Modifier: Modifier{Op: OpMul, Value: 1.15}, Units: combatUnits}},
		},
		{
			ID: "fortifications", Name: "Fortifications",
			Cost: types.Cost{Food: 100, Ore: 150},
			Effects: []Effect{
				{Stat: StatBuildingDefense, Modifier: Modifier{Op: OpAdd, Value: 3}},
				{Stat: StatBuildingMaxHealth, Modifier: Modifier{Op: OpMul, Value: 1.25}},
			},
		},
		{
			ID: "drillYard", Name: "Drill Yard",
			Cost:    types.Cost{Food: 150, Ore: 100},
			Effects: []Effect{{Stat: StatUnitProductionSpeed, Modifier: Modifier{Op: OpMul, Value: 1.25}}},
		},
		{
			ID: "horsemanship", Name: "Horsemanship",
			Prerequisites: []string{"agriculture"},
			Cost:          types.Cost{Food: 150, Ore: 100},
			Unlocks:       []Unlock{{Building: types.BuildingBarracks, Unit: types.UnitCavalry}},
			Condition:     `Buildings["barracks"] >= 1`,
		},
		{
			ID: "heroicCall", Name: "Heroic Call",
			Prerequisites: []string{"bronzeWeapons", "fortifications"},
			Cost:          types.Cost{Food: 300, Ore: 200},
			Unlocks:       []Unlock{{Building: types.BuildingCityCenter, Unit: types.UnitHero}},
			Condition:     `Units["melee"] + Units["ranged"] + Units["cavalry"] >= 5`,
		},
		{
			ID: "stripling", Name: "Stripling Warriors",
			Faction:       types.FactionNephite,
			Prerequisites: []string{"drillYard"},
			Cost:          types.Cost{Food: 200, Ore: 100},
			Unlocks:       []Unlock{{Building: types.BuildingBarracks, Unit: types.UnitStriplingWarrior}},
			Effects: []Effect{{
				Stat: StatMaxHealth, Modifier: Modifier{Op: OpAdd, Value: 10},
				Units: []types.UnitKind{types.UnitStriplingWarrior},
			}},
		},
		{
			ID: "scoutcraft", Name: "Scoutcraft",
			Faction:       types.FactionLamanite,
			Prerequisites: []string{"agriculture"},
			Cost:          types.Cost{Food: 150, Ore: 100},
			Unlocks:       []Unlock{{Building: types.BuildingArcheryRange, Unit: types.UnitLamaniteScout}},
			Effects: []Effect{{
				Stat: StatSpeed, Modifier: Modifier{Op: OpMul, Value: 1.1},
				Units: []types.UnitKind{types.UnitLamaniteScout},
			}},
			Condition: `Buildings["archeryRange"] >= 1`,
		},
	}
}

// DefaultCatalog panics if the stock tree fails to compile, that is a programming error.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultTechs())
	if err != nil {
		panic(err)
	}
	return c
}

// Errors Researchable swallows quietly, anything else is a broken condition
func isExpected(err error) bool {
	return errors.Is(err, ErrUnknownTech) ||
		errors.Is(err, ErrAlreadyResearched) ||
		errors.Is(err, ErrMissingPrerequisites) ||
		errors.Is(err, ErrWrongFaction) ||
		errors.Is(err, ErrConditionUnmet)
}
