package techtree

import (
	"fmt"
	"log/slog"

	"github.com/Scrimzay/rtsim/internal/types"
)

// Catalog is the immutable set of technologies for a session.
type Catalog struct {
	techs map[string]*Tech
	order []string
}

// NewCatalog compiles every unlock condition up front and checks that
// prerequisites point at known techs.
func NewCatalog(techs []Tech) (*Catalog, error) {
	c := &Catalog{techs: make(map[string]*Tech, len(techs))}
	for i := range techs {
		t := techs[i]
		if _, dup := c.techs[t.ID]; dup {
			return nil, fmt.Errorf("duplicate tech %q", t.ID)
		}
		if err := t.compile(); err != nil {
			return nil, err
		}
		c.techs[t.ID] = &t
		c.order = append(c.order, t.ID)
	}
	for _, t := range c.techs {
		for _, p := range t.Prerequisites {
			if _, ok := c.techs[p]; !ok {
				return nil, fmt.Errorf("tech %q needs unknown %q: %w", t.ID, p, ErrUnknownTech)
			}
		}
	}
	return c, nil
}

func (c *Catalog) Get(id string) (*Tech, bool) {
	t, ok := c.techs[id]
	return t, ok
}

// All returns techs in definition order
func (c *Catalog) All() []*Tech {
	out := make([]*Tech, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.techs[id])
	}
	return out
}

// Tree tracks which techs each player has researched. Not safe for
// concurrent use, the owning world serializes access.
type Tree struct {
	catalog    *Catalog
	researched map[types.PlayerID]map[string]bool
	order      map[types.PlayerID][]string // Research order, modifiers stack in it
}

func NewTree(c *Catalog) *Tree {
	return &Tree{
		catalog:    c,
		researched: make(map[types.PlayerID]map[string]bool),
		order:      make(map[types.PlayerID][]string),
	}
}

func (t *Tree) Catalog() *Catalog {
	return t.catalog
}

func (t *Tree) Researched(player types.PlayerID, id string) bool {
	return t.researched[player][id]
}

// ResearchedIDs lists a player's techs in the order they were researched.
func (t *Tree) ResearchedIDs(player types.PlayerID) []string {
	return append([]string{}, t.order[player]...)
}

// SetResearched replaces a player's researched set wholesale.
func (t *Tree) SetResearched(player types.PlayerID, ids []string) {
	set := make(map[string]bool, len(ids))
	order := make([]string, 0, len(ids))
	for _, id := range ids {
		if !set[id] {
			order = append(order, id)
		}
		set[id] = true
	}
	t.researched[player] = set
	t.order[player] = order
}

// Check reports whether player may research id right now, without paying.
func (t *Tree) Check(player types.PlayerID, faction types.Faction, id string, env ConditionEnv) (*Tech, error) {
	tech, ok := t.catalog.Get(id)
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrUnknownTech)
	}
	if !tech.AvailableTo(faction) {
		return nil, fmt.Errorf("%q for %s: %w", id, faction, ErrWrongFaction)
	}
	if t.Researched(player, id) {
		return nil, fmt.Errorf("%q: %w", id, ErrAlreadyResearched)
	}
	for _, p := range tech.Prerequisites {
		if !t.Researched(player, p) {
			return nil, fmt.Errorf("%q needs %q: %w", id, p, ErrMissingPrerequisites)
		}
	}
	ok, err := tech.conditionMet(env)
	if err != nil {
		return nil, fmt.Errorf("%q condition: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrConditionUnmet)
	}
	return tech, nil
}

// Research validates, pays through pay, then flips the researched bit.
// A failed payment leaves nothing researched.
func (t *Tree) Research(player types.PlayerID, faction types.Faction, id string, env ConditionEnv, pay func(types.Cost) error) (*Tech, error) {
	tech, err := t.Check(player, faction, id, env)
	if err != nil {
		return nil, err
	}
	if err := pay(tech.Cost); err != nil {
		return nil, err
	}
	if t.researched[player] == nil {
		t.researched[player] = make(map[string]bool)
	}
	t.researched[player][id] = true
	t.order[player] = append(t.order[player], id)
	return tech, nil
}

// Researchable lists techs the player could start now, ignoring cost.
func (t *Tree) Researchable(player types.PlayerID, faction types.Faction, env ConditionEnv) []*Tech {
	var out []*Tech
	for _, tech := range t.catalog.All() {
		if _, err := t.Check(player, faction, tech.ID, env); err != nil {
			if !isExpected(err) {
				slog.Warn("tech condition error", "tech", tech.ID, "error", err)
			}
			continue
		}
		out = append(out, tech)
	}
	return out
}

// Producible merges a building's base roster with whatever research unlocked.
func (t *Tree) Producible(player types.PlayerID, faction types.Faction, building types.BuildingKind) []types.UnitKind {
	out := append([]types.UnitKind(nil), building.BaseProduces()...)
	for _, tech := range t.catalog.All() {
		if !t.Researched(player, tech.ID) {
			continue
		}
		for _, u := range tech.Unlocks {
			if u.Building != building {
				continue
			}
			if rf := u.Unit.RequiredFaction(); rf != types.FactionNone && rf != faction {
				continue
			}
			out = append(out, u.Unit)
		}
	}
	return out
}

// Modifiers returns every researched effect for the player in the order it was researched.
func (t *Tree) Modifiers(player types.PlayerID) []Effect {
	var out []Effect
	for _, id := range t.order[player] {
		if tech, ok := t.catalog.Get(id); ok {
			out = append(out, tech.Effects...)
		}
	}
	return out
}
