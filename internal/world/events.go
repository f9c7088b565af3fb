package world

import "github.com/Scrimzay/rtsim/internal/types"

type EventKind string

const (
	EventDeath      EventKind = "death"
	EventDestroyed  EventKind = "destroyed"
	EventLastStand  EventKind = "lastStand"
	EventSpawned    EventKind = "spawned"
	EventStealth    EventKind = "stealth"
	EventResearched EventKind = "researched"
	EventDefeated   EventKind = "defeated"
	EventVictory    EventKind = "victory"
)

// Event is a one-off notification for the UI side, shipped with the tick's diff.
type Event struct {
	Kind     EventKind          `json:"kind"`
	Tick     uint64             `json:"tick"`
	Entity   types.EntityID     `json:"entity,omitempty"`
	Player   types.PlayerID     `json:"player,omitempty"`
	Unit     types.UnitKind     `json:"unitType,omitempty"`
	Building types.BuildingKind `json:"buildingType,omitempty"`
	Tech     string             `json:"tech,omitempty"`
	X        float64            `json:"x,omitempty"`
	Y        float64            `json:"y,omitempty"`
}
