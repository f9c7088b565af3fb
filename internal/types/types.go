package types

import (
	"fmt"
	"math"
)

// Shared vocabulary for every package that touches the simulation.

type EntityID uint64

type PlayerID string

// Tile coords. Unit positions are floats in the same space, tile centers sit on integers.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) Add(dx, dy int) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

// Euclidean distance between tile centers
func (p Point) Dist(o Point) float64 {
	return math.Hypot(float64(p.X-o.X), float64(p.Y-o.Y))
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Tile under a float position
func TileAt(x, y float64) Point {
	return Point{X: int(math.Round(x)), Y: int(math.Round(y))}
}

type Faction uint8

const (
	FactionNone     Faction = 0
	FactionNephite  Faction = 1
	FactionLamanite Faction = 2
)

func (f Faction) String() string {
	switch f {
	case FactionNephite:
		return "nephite"

	case FactionLamanite:
		return "lamanite"

	default:
		return "none"
	}
}

func ParseFaction(s string) (Faction, error) {
	switch s {
	case "nephite":
		return FactionNephite, nil

	case "lamanite":
		return FactionLamanite, nil

	case "", "none":
		return FactionNone, nil

	default:
		return FactionNone, fmt.Errorf("unknown faction %q", s)
	}
}

func (f Faction) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Faction) UnmarshalText(b []byte) error {
	v, err := ParseFaction(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Racial gather passive. Nephites mine faster, lamanites farm faster.
func (f Faction) GatherMultiplier(kind ResourceKind) float64 {
	switch f {
	case FactionNephite:
		if kind == ResourceOre {
			return 1.2
		}
		return 1.0

	case FactionLamanite:
		if kind == ResourceFood {
			return 1.2
		}
		return 1.0

	default:
		return 1.0
	}
}

type ResourceKind uint8

const (
	ResourceNone ResourceKind = 0
	ResourceFood ResourceKind = 1
	ResourceOre  ResourceKind = 2
)

func (r ResourceKind) String() string {
	switch r {
	case ResourceFood:
		return "food"

	case ResourceOre:
		return "ore"

	default:
		return "none"
	}
}

func ParseResourceKind(s string) (ResourceKind, error) {
	switch s {
	case "food":
		return ResourceFood, nil

	case "ore":
		return ResourceOre, nil

	default:
		return ResourceNone, fmt.Errorf("unknown resource %q", s)
	}
}

func (r ResourceKind) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *ResourceKind) UnmarshalText(b []byte) error {
	v, err := ParseResourceKind(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

type Cost struct {
	Food int `json:"food"`
	Ore  int `json:"ore"`
}

func (c Cost) Add(o Cost) Cost {
	return Cost{Food: c.Food + o.Food, Ore: c.Ore + o.Ore}
}

func (c Cost) Covers(o Cost) bool {
	return c.Food >= o.Food && c.Ore >= o.Ore
}

func (c Cost) Of(kind ResourceKind) int {
	switch kind {
	case ResourceFood:
		return c.Food

	case ResourceOre:
		return c.Ore

	default:
		return 0
	}
}

func (c Cost) String() string {
	return fmt.Sprintf("%d food, %d ore", c.Food, c.Ore)
}
