package world

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Scrimzay/rtsim/internal/types"
)

var (
	ErrOutOfBounds      = errors.New("footprint out of bounds")
	ErrFootprintBlocked = errors.New("footprint blocked")
	ErrResourceInWay    = errors.New("resource under footprint")
)

type Deposit struct {
	Kind   types.ResourceKind `json:"kind"`
	Amount int                `json:"amount"`
}

type Tile struct {
	X        int               `json:"x"`
	Y        int               `json:"y"`
	Terrain  types.TerrainType `json:"terrain"`
	Walkable bool              `json:"walkable"`
	Resource *Deposit          `json:"resource,omitempty"`
}

// Grid is the NxN tile map. Walkability only changes through Occupy/Release
// and deposits only shrink through Withdraw.
type Grid struct {
	size     int
	tiles    []Tile
	occupant []types.EntityID // Building covering the tile, 0 when free
	dirty    map[types.Point]bool
}

func NewGrid(size int) *Grid {
	g := &Grid{
		size:     size,
		tiles:    make([]Tile, size*size),
		occupant: make([]types.EntityID, size*size),
		dirty:    make(map[types.Point]bool),
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			g.tiles[y*size+x] = Tile{X: x, Y: y, Terrain: types.TerrainGrass, Walkable: true}
		}
	}
	return g
}

func (g *Grid) Size() int {
	return g.size
}

func (g *Grid) InBounds(p types.Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.size && p.Y < g.size
}

func (g *Grid) at(p types.Point) *Tile {
	if !g.InBounds(p) {
		return nil
	}
	return &g.tiles[p.Y*g.size+p.X]
}

// Tile returns a copy, deposit included
func (g *Grid) Tile(p types.Point) (Tile, bool) {
	t := g.at(p)
	if t == nil {
		return Tile{}, false
	}
	out := *t
	if t.Resource != nil {
		d := *t.Resource
		out.Resource = &d
	}
	return out, true
}

func (g *Grid) Walkable(p types.Point) bool {
	t := g.at(p)
	return t != nil && t.Walkable
}

func (g *Grid) Surcharge(p types.Point) float64 {
	t := g.at(p)
	if t == nil {
		return 0
	}
	return t.Terrain.Surcharge()
}

func (g *Grid) Occupant(p types.Point) types.EntityID {
	if !g.InBounds(p) {
		return 0
	}
	return g.occupant[p.Y*g.size+p.X]
}

// SetTerrain is for layout setup only
func (g *Grid) SetTerrain(p types.Point, t types.TerrainType) {
	tile := g.at(p)
	if tile == nil {
		return
	}
	tile.Terrain = t
	tile.Walkable = t.Walkable() && g.Occupant(p) == 0
	if !tile.Walkable {
		tile.Resource = nil
	}
	g.dirty[p] = true
}

// PlaceDeposit puts a resource on a walkable tile, returns false otherwise
func (g *Grid) PlaceDeposit(p types.Point, kind types.ResourceKind, amount int) bool {
	tile := g.at(p)
	if tile == nil || !tile.Walkable || amount <= 0 {
		return false
	}
	tile.Resource = &Deposit{Kind: kind, Amount: amount}
	g.dirty[p] = true
	return true
}

func footprint(origin types.Point, size int) []types.Point {
	out := make([]types.Point, 0, size*size)
	for dy := 0; dy < size; dy++ {
		for dx := 0; dx < size; dx++ {
			out = append(out, origin.Add(dx, dy))
		}
	}
	return out
}

// CheckFootprint validates a building placement without touching the map.
func (g *Grid) CheckFootprint(origin types.Point, size int) error {
	for _, p := range footprint(origin, size) {
		tile := g.at(p)
		if tile == nil {
			return fmt.Errorf("%v: %w", p, ErrOutOfBounds)
		}
		if !tile.Walkable {
			return fmt.Errorf("%v: %w", p, ErrFootprintBlocked)
		}
		if tile.Resource != nil {
			return fmt.Errorf("%v: %w", p, ErrResourceInWay)
		}
	}
	return nil
}

func (g *Grid) Occupy(id types.EntityID, origin types.Point, size int) error {
	if err := g.CheckFootprint(origin, size); err != nil {
		return err
	}
	for _, p := range footprint(origin, size) {
		tile := g.at(p)
		tile.Walkable = false
		g.occupant[p.Y*g.size+p.X] = id
		g.dirty[p] = true
	}
	return nil
}

// claim marks a footprint as taken without checking it. Replicas use it for
// buildings the server already placed.
func (g *Grid) claim(id types.EntityID, origin types.Point, size int) {
	for _, p := range footprint(origin, size) {
		tile := g.at(p)
		if tile == nil {
			continue
		}
		tile.Walkable = false
		g.occupant[p.Y*g.size+p.X] = id
	}
}

// Release frees whatever part of the footprint id still holds
func (g *Grid) Release(id types.EntityID, origin types.Point, size int) {
	for _, p := range footprint(origin, size) {
		tile := g.at(p)
		if tile == nil || g.occupant[p.Y*g.size+p.X] != id {
			continue
		}
		g.occupant[p.Y*g.size+p.X] = 0
		tile.Walkable = tile.Terrain.Walkable()
		g.dirty[p] = true
	}
}

// Withdraw takes up to amount from the deposit on p and returns what it got.
// The deposit is removed when it hits zero.
func (g *Grid) Withdraw(p types.Point, amount int) (types.ResourceKind, int) {
	tile := g.at(p)
	if tile == nil || tile.Resource == nil || amount <= 0 {
		return types.ResourceNone, 0
	}
	kind := tile.Resource.Kind
	take := min(amount, tile.Resource.Amount)
	tile.Resource.Amount -= take
	if tile.Resource.Amount <= 0 {
		tile.Resource = nil
	}
	g.dirty[p] = true
	return kind, take
}

// NearestResource finds the closest tile still holding kind, ties broken by scan order.
func (g *Grid) NearestResource(from types.Point, kind types.ResourceKind) (types.Point, bool) {
	var best types.Point
	bestD := -1.0
	for i := range g.tiles {
		t := &g.tiles[i]
		if t.Resource == nil || t.Resource.Kind != kind {
			continue
		}
		p := types.Point{X: t.X, Y: t.Y}
		if d := p.Dist(from); bestD < 0 || d < bestD {
			best, bestD = p, d
		}
	}
	return best, bestD >= 0
}

// Tiles copies the whole map row-major
func (g *Grid) Tiles() []Tile {
	out := make([]Tile, len(g.tiles))
	for i, t := range g.tiles {
		out[i] = t
		if t.Resource != nil {
			d := *t.Resource
			out[i].Resource = &d
		}
	}
	return out
}

// Replace overwrites a single tile, used by client replicas applying server tile changes.
func (g *Grid) Replace(t Tile) {
	p := types.Point{X: t.X, Y: t.Y}
	tile := g.at(p)
	if tile == nil {
		return
	}
	*tile = t
	if t.Resource != nil {
		d := *t.Resource
		tile.Resource = &d
	}
}

func (g *Grid) takeDirty() []types.Point {
	if len(g.dirty) == 0 {
		return nil
	}
	out := make([]types.Point, 0, len(g.dirty))
	for p := range g.dirty {
		out = append(out, p)
	}
	g.dirty = make(map[types.Point]bool)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}
