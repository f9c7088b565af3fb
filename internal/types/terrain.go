package types

import "fmt"

type TerrainType uint8

const (
	TerrainGrass  TerrainType = 0
	TerrainForest TerrainType = 1 // Slows pathing a bit
	TerrainHills  TerrainType = 2 // Slows pathing more
	TerrainWater  TerrainType = 3 // Impassable
)

func (t TerrainType) String() string {
	switch t {
	case TerrainGrass:
		return "grass"

	case TerrainForest:
		return "forest"

	case TerrainHills:
		return "hills"

	case TerrainWater:
		return "water"

	default:
		return "unknown"
	}
}

func ParseTerrain(s string) (TerrainType, error) {
	switch s {
	case "grass":
		return TerrainGrass, nil

	case "forest":
		return TerrainForest, nil

	case "hills":
		return TerrainHills, nil

	case "water":
		return TerrainWater, nil

	default:
		return TerrainGrass, fmt.Errorf("unknown terrain %q", s)
	}
}

func (t TerrainType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TerrainType) UnmarshalText(b []byte) error {
	v, err := ParseTerrain(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Returns true if units can stand on this terrain at all
func (t TerrainType) Walkable() bool {
	switch t {
	case TerrainGrass, TerrainForest, TerrainHills:
		return true

	default:
		return false // Unknown types default to impassable
	}
}

// Extra path cost for stepping onto this terrain
func (t TerrainType) Surcharge() float64 {
	switch t {
	case TerrainForest:
		return 0.5

	case TerrainHills:
		return 1.0

	default:
		return 0
	}
}
