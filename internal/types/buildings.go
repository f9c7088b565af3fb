package types

import "fmt"

type BuildingKind uint8

const (
	BuildingCityCenter BuildingKind = iota + 1
	BuildingBarracks
	BuildingArcheryRange
	BuildingStorehouse
)

var AllBuildingKinds = []BuildingKind{
	BuildingCityCenter, BuildingBarracks, BuildingArcheryRange, BuildingStorehouse,
}

func (k BuildingKind) String() string {
	switch k {
	case BuildingCityCenter:
		return "cityCenter"

	case BuildingBarracks:
		return "barracks"

	case BuildingArcheryRange:
		return "archeryRange"

	case BuildingStorehouse:
		return "storehouse"

	default:
		return "unknown"
	}
}

func ParseBuildingKind(s string) (BuildingKind, error) {
	for _, k := range AllBuildingKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown building type %q", s)
}

func (k BuildingKind) Valid() bool {
	return k >= BuildingCityCenter && k <= BuildingStorehouse
}

func (k BuildingKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid building kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *BuildingKind) UnmarshalText(b []byte) error {
	v, err := ParseBuildingKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Footprint edge length in tiles, footprints are square
func (k BuildingKind) Size() int {
	switch k {
	case BuildingCityCenter:
		return 3

	case BuildingBarracks, BuildingArcheryRange, BuildingStorehouse:
		return 2

	default:
		return 0
	}
}

func (k BuildingKind) Cost() Cost {
	switch k {
	case BuildingCityCenter:
		return Cost{Food: 400, Ore: 200}

	case BuildingBarracks:
		return Cost{Food: 150, Ore: 50}

	case BuildingArcheryRange:
		return Cost{Food: 120, Ore: 80}

	case BuildingStorehouse:
		return Cost{Food: 100}

	default:
		return Cost{}
	}
}

func (k BuildingKind) MaxHealth() float64 {
	switch k {
	case BuildingCityCenter:
		return 1500

	case BuildingBarracks:
		return 600

	case BuildingArcheryRange:
		return 500

	case BuildingStorehouse:
		return 400

	default:
		return 0
	}
}

func (k BuildingKind) Defense() float64 {
	switch k {
	case BuildingCityCenter:
		return 5

	case BuildingBarracks:
		return 3

	default:
		return 2
	}
}

// What the building trains before any research unlocks more
func (k BuildingKind) BaseProduces() []UnitKind {
	switch k {
	case BuildingCityCenter:
		return []UnitKind{UnitWorker}

	case BuildingBarracks:
		return []UnitKind{UnitMelee}

	case BuildingArcheryRange:
		return []UnitKind{UnitRanged}

	default:
		return nil
	}
}

// Workers can drop off carried resources here
func (k BuildingKind) IsDepot() bool {
	return k == BuildingCityCenter || k == BuildingStorehouse
}
