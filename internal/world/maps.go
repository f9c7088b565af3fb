package world

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/Scrimzay/rtsim/internal/types"
)

var ErrUnknownLayout = errors.New("unknown layout")

type DepositSpec struct {
	At     types.Point        `json:"at"`
	Kind   types.ResourceKind `json:"kind"`
	Amount int                `json:"amount"`
}

type PlayerSetup struct {
	ID         types.PlayerID `json:"id"`
	Faction    types.Faction  `json:"faction"`
	Start      types.Cost     `json:"start"`
	CityCenter types.Point    `json:"cityCenter"` // Footprint origin
	Workers    int            `json:"workers"`
}

// Layout is the starting content of a session. Terrain is row-major and may be
// empty for an all-grass map. Maps from an outside generator come in as a Layout too.
type Layout struct {
	Name     string              `json:"name"`
	Size     int                 `json:"size"`
	Terrain  []types.TerrainType `json:"terrain,omitempty"`
	Deposits []DepositSpec       `json:"deposits,omitempty"`
	Players  []PlayerSetup       `json:"players"`
}

func LayoutByName(name string) (Layout, error) {
	switch name {
	case "riverford":
		return Riverford(), nil

	case "plains":
		return Plains(), nil

	default:
		return Layout{}, fmt.Errorf("%q: %w", name, ErrUnknownLayout)
	}
}

var startingStock = types.Cost{Food: 300, Ore: 200}

// Riverford: two bases split by a north-south river with two fords.
func Riverford() Layout {
	const size = 48
	terrain := make([]types.TerrainType, size*size)
	paint := func(x, y int, t types.TerrainType) {
		if x >= 0 && x < size && y >= 0 && y < size {
			terrain[y*size+x] = t
		}
	}

	// River
	for y := 0; y < size; y++ {
		if (y >= 10 && y <= 12) || (y >= 35 && y <= 37) {
			continue // Fords
		}
		paint(23, y, types.TerrainWater)
		paint(24, y, types.TerrainWater)
	}

	// Fixed seed so every session on this layout is the same map
	rng := rand.New(rand.NewSource(1830))
	scatter := func(clusters, minSize, spread int, t types.TerrainType) {
		for i := 0; i < clusters; i++ {
			cx, cy := rng.Intn(size), rng.Intn(size)
			n := minSize + rng.Intn(minSize)
			for j := 0; j < n; j++ {
				nx, ny := cx+rng.Intn(spread*2+1)-spread, cy+rng.Intn(spread*2+1)-spread
				if nx >= 0 && nx < size && ny >= 0 && ny < size && terrain[ny*size+nx] == types.TerrainGrass {
					terrain[ny*size+nx] = t
				}
			}
		}
	}
	scatter(10, 8, 3, types.TerrainForest)
	scatter(6, 6, 2, types.TerrainHills)

	players := []PlayerSetup{
		{ID: "p1", Faction: types.FactionNephite, Start: startingStock, CityCenter: types.Point{X: 6, Y: 22}, Workers: 3},
		{ID: "p2", Faction: types.FactionLamanite, Start: startingStock, CityCenter: types.Point{X: 39, Y: 23}, Workers: 3},
	}

	var deposits []DepositSpec
	for i, p := range players {
		dir := 1
		if i == 1 {
			dir = -1
		}
		o := p.CityCenter
		// Clear the base area
		for y := o.Y - 4; y <= o.Y+7; y++ {
			for x := o.X - 4; x <= o.X+7; x++ {
				paint(x, y, types.TerrainGrass)
			}
		}
		fx := o.X + 1 + dir*5
		for dy := 0; dy < 2; dy++ {
			for dx := 0; dx < 2; dx++ {
				deposits = append(deposits, DepositSpec{At: types.Point{X: fx + dx, Y: o.Y + dy}, Kind: types.ResourceFood, Amount: 300})
			}
		}
		for dx := 0; dx < 3; dx++ {
			deposits = append(deposits, DepositSpec{At: types.Point{X: o.X + dx, Y: o.Y + 6}, Kind: types.ResourceOre, Amount: 400})
		}
	}

	// Contested ore next to each ford
	for _, at := range []types.Point{{X: 21, Y: 11}, {X: 26, Y: 36}} {
		paint(at.X, at.Y, types.TerrainGrass)
		deposits = append(deposits, DepositSpec{At: at, Kind: types.ResourceOre, Amount: 800})
	}

	return Layout{Name: "riverford", Size: size, Terrain: terrain, Deposits: deposits, Players: players}
}

// Plains: small open map, good for quick games and tests.
func Plains() Layout {
	const size = 32
	players := []PlayerSetup{
		{ID: "p1", Faction: types.FactionNephite, Start: startingStock, CityCenter: types.Point{X: 3, Y: 14}, Workers: 2},
		{ID: "p2", Faction: types.FactionLamanite, Start: startingStock, CityCenter: types.Point{X: 26, Y: 14}, Workers: 2},
	}
	deposits := []DepositSpec{
		{At: types.Point{X: 8, Y: 14}, Kind: types.ResourceFood, Amount: 300},
		{At: types.Point{X: 8, Y: 15}, Kind: types.ResourceFood, Amount: 300},
		{At: types.Point{X: 23, Y: 14}, Kind: types.ResourceFood, Amount: 300},
		{At: types.Point{X: 23, Y: 15}, Kind: types.ResourceFood, Amount: 300},
		{At: types.Point{X: 15, Y: 4}, Kind: types.ResourceOre, Amount: 600},
		{At: types.Point{X: 16, Y: 27}, Kind: types.ResourceOre, Amount: 600},
	}
	return Layout{Name: "plains", Size: size, Deposits: deposits, Players: players}
}

func (w *World) applyLayout(l Layout) error {
	if l.Size <= 0 {
		return fmt.Errorf("layout %q: size must be positive", l.Name)
	}
	if len(l.Terrain) != 0 && len(l.Terrain) != l.Size*l.Size {
		return fmt.Errorf("layout %q: terrain has %d tiles, want %d", l.Name, len(l.Terrain), l.Size*l.Size)
	}

	w.grid = NewGrid(l.Size)
	for i, t := range l.Terrain {
		w.grid.SetTerrain(types.Point{X: i % l.Size, Y: i / l.Size}, t)
	}
	for _, d := range l.Deposits {
		if !w.grid.PlaceDeposit(d.At, d.Kind, d.Amount) {
			return fmt.Errorf("layout %q: cannot place %s at %v", l.Name, d.Kind, d.At)
		}
	}

	for _, ps := range l.Players {
		if _, dup := w.players[ps.ID]; dup {
			return fmt.Errorf("layout %q: duplicate player %q", l.Name, ps.ID)
		}
		w.players[ps.ID] = &Player{ID: ps.ID, Faction: ps.Faction}
		w.ledger.Open(ps.ID, ps.Start)

		cc, err := w.placeBuilding(ps.ID, types.BuildingCityCenter, ps.CityCenter)
		if err != nil {
			return fmt.Errorf("layout %q: city center for %s: %w", l.Name, ps.ID, err)
		}
		for i := 0; i < ps.Workers; i++ {
			at, ok := w.spawnTile(cc)
			if !ok {
				return fmt.Errorf("layout %q: no room for %s workers", l.Name, ps.ID)
			}
			w.spawnUnit(ps.ID, types.UnitWorker, at)
		}
	}
	return nil
}
