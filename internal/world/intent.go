package world

import (
	"errors"
	"fmt"

	"github.com/Scrimzay/rtsim/internal/economy"
	"github.com/Scrimzay/rtsim/internal/techtree"
	"github.com/Scrimzay/rtsim/internal/types"
)

type IntentType string

const (
	IntentMoveUnits       IntentType = "moveUnits"
	IntentGatherAt        IntentType = "gatherAt"
	IntentCreateBuilding  IntentType = "createBuilding"
	IntentQueueUnit       IntentType = "queueUnit"
	IntentCancelUnit      IntentType = "cancelUnit"
	IntentResearchTech    IntentType = "researchTech"
	IntentActivateAbility IntentType = "activateAbility"
	IntentSelectUnits     IntentType = "selectUnits"
)

type MoveUnits struct {
	IDs []types.EntityID `json:"ids"`
	X   int              `json:"x"`
	Y   int              `json:"y"`
}

type GatherAt struct {
	IDs []types.EntityID `json:"ids"`
	X   int              `json:"x"`
	Y   int              `json:"y"`
}

type CreateBuilding struct {
	Type types.BuildingKind `json:"type"`
	X    int                `json:"x"`
	Y    int                `json:"y"`
}

type QueueUnit struct {
	BuildingID types.EntityID `json:"buildingId"`
	Type       types.UnitKind `json:"type"`
}

type CancelUnit struct {
	BuildingID types.EntityID `json:"buildingId"`
	Index      int            `json:"index"`
}

type ResearchTech struct {
	TechID string `json:"techId"`
}

// Empty IDs means the player's current selection
type ActivateAbility struct {
	AbilityID string           `json:"abilityId"`
	IDs       []types.EntityID `json:"ids,omitempty"`
}

type SelectUnits struct {
	IDs []types.EntityID `json:"ids"`
}

// Intent is one player command. It carries everything needed to replay it.
type Intent struct {
	OpID     string         `json:"opId"`
	Player   types.PlayerID `json:"player"`
	Type     IntentType     `json:"type"`
	IssuedAt uint64         `json:"issuedAt"` // Issuer's tick

	Move     *MoveUnits       `json:"moveUnits,omitempty"`
	Gather   *GatherAt        `json:"gatherAt,omitempty"`
	Build    *CreateBuilding  `json:"createBuilding,omitempty"`
	Train    *QueueUnit       `json:"queueUnit,omitempty"`
	Cancel   *CancelUnit      `json:"cancelUnit,omitempty"`
	Research *ResearchTech    `json:"researchTech,omitempty"`
	Ability  *ActivateAbility `json:"activateAbility,omitempty"`
	Select   *SelectUnits     `json:"selectUnits,omitempty"`
}

// Outcome lists what an accepted intent touched
type Outcome struct {
	Created []types.EntityID `json:"created,omitempty"`
	Targets []types.EntityID `json:"targets,omitempty"`
}

// Apply validates and executes one intent atomically under the world lock.
// Rejections are IntentErrors and leave the world untouched.
func (w *World) Apply(in Intent) (Outcome, error) {
	w.Mu.Lock()
	defer w.Mu.Unlock()

	if w.gameOver {
		return Outcome{}, intentErr(CodeGameOver, "session is over")
	}
	p, ok := w.players[in.Player]
	if !ok {
		return Outcome{}, intentErr(CodeUnknownPlayer, "player %q", in.Player)
	}
	if p.Defeated {
		return Outcome{}, intentErr(CodeDefeated, "player %q is defeated", in.Player)
	}

	switch in.Type {
	case IntentMoveUnits:
		if in.Move == nil {
			return Outcome{}, intentErr(CodeBadIntent, "moveUnits without payload")
		}
		units, err := w.ownedUnits(p.ID, in.Move.IDs)
		if err != nil {
			return Outcome{}, err
		}
		w.moveUnitsTo(units, types.Point{X: in.Move.X, Y: in.Move.Y})
		return Outcome{Targets: in.Move.IDs}, nil

	case IntentGatherAt:
		if in.Gather == nil {
			return Outcome{}, intentErr(CodeBadIntent, "gatherAt without payload")
		}
		units, err := w.ownedUnits(p.ID, in.Gather.IDs)
		if err != nil {
			return Outcome{}, err
		}
		if err := w.orderGatherAll(units, types.Point{X: in.Gather.X, Y: in.Gather.Y}); err != nil {
			return Outcome{}, err
		}
		return Outcome{Targets: in.Gather.IDs}, nil

	case IntentCreateBuilding:
		if in.Build == nil {
			return Outcome{}, intentErr(CodeBadIntent, "createBuilding without payload")
		}
		b, err := w.createBuilding(p, in.Build.Type, types.Point{X: in.Build.X, Y: in.Build.Y})
		if err != nil {
			return Outcome{}, err
		}
		b.OriginOp = in.OpID
		return Outcome{Created: []types.EntityID{b.ID}}, nil

	case IntentQueueUnit:
		if in.Train == nil {
			return Outcome{}, intentErr(CodeBadIntent, "queueUnit without payload")
		}
		if err := w.queueProduction(p, in.Train.BuildingID, in.Train.Type); err != nil {
			return Outcome{}, err
		}
		return Outcome{Targets: []types.EntityID{in.Train.BuildingID}}, nil

	case IntentCancelUnit:
		if in.Cancel == nil {
			return Outcome{}, intentErr(CodeBadIntent, "cancelUnit without payload")
		}
		if err := w.cancelProduction(p, in.Cancel.BuildingID, in.Cancel.Index); err != nil {
			return Outcome{}, err
		}
		return Outcome{Targets: []types.EntityID{in.Cancel.BuildingID}}, nil

	case IntentResearchTech:
		if in.Research == nil {
			return Outcome{}, intentErr(CodeBadIntent, "researchTech without payload")
		}
		if _, err := w.research(p, in.Research.TechID); err != nil {
			return Outcome{}, err
		}
		return Outcome{}, nil

	case IntentActivateAbility:
		if in.Ability == nil {
			return Outcome{}, intentErr(CodeBadIntent, "activateAbility without payload")
		}
		ids := in.Ability.IDs
		if len(ids) == 0 {
			ids = w.selection[p.ID]
		}
		units, err := w.ownedUnits(p.ID, ids)
		if err != nil {
			return Outcome{}, err
		}
		fired, err := w.activateAbility(units, in.Ability.AbilityID)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Targets: fired}, nil

	case IntentSelectUnits:
		if in.Select == nil {
			return Outcome{}, intentErr(CodeBadIntent, "selectUnits without payload")
		}
		if _, err := w.ownedUnits(p.ID, in.Select.IDs); err != nil {
			return Outcome{}, err
		}
		w.selection[p.ID] = append([]types.EntityID(nil), in.Select.IDs...)
		return Outcome{}, nil

	default:
		return Outcome{}, intentErr(CodeBadIntent, "unknown intent type %q", in.Type)
	}
}

func (w *World) ownedUnits(player types.PlayerID, ids []types.EntityID) ([]*Unit, error) {
	if len(ids) == 0 {
		return nil, intentErr(CodeBadIntent, "no units given")
	}
	out := make([]*Unit, 0, len(ids))
	for _, id := range ids {
		u, ok := w.units[id]
		if !ok {
			return nil, intentErr(CodeUnknownEntity, "unit %d", id)
		}
		if u.Owner != player {
			return nil, intentErr(CodeNotOwner, "unit %d belongs to %s", id, u.Owner)
		}
		out = append(out, u)
	}
	return out, nil
}

func (w *World) ownedBuilding(player types.PlayerID, id types.EntityID) (*Building, error) {
	b, ok := w.buildings[id]
	if !ok {
		return nil, intentErr(CodeUnknownEntity, "building %d", id)
	}
	if b.Owner != player {
		return nil, intentErr(CodeNotOwner, "building %d belongs to %s", id, b.Owner)
	}
	return b, nil
}

// createBuilding checks the footprint then charges the player.
func (w *World) createBuilding(p *Player, kind types.BuildingKind, origin types.Point) (*Building, error) {
	if !kind.Valid() {
		return nil, intentErr(CodeBadIntent, "unknown building type %d", kind)
	}
	if err := w.checkPlacement(origin, kind.Size()); err != nil {
		return nil, wrapIntent(CodeInvalidPlacement, err)
	}
	if err := w.ledger.Deduct(p.ID, kind.Cost()); err != nil {
		return nil, wrapIntent(CodeInsufficientResources, err)
	}
	b, err := w.placeBuilding(p.ID, kind, origin)
	if err != nil {
		// Checked above, but never keep the money for a building that did not go up
		_ = w.ledger.Refund(p.ID, kind.Cost())
		return nil, wrapIntent(CodeInvalidPlacement, err)
	}
	return b, nil
}

// CreateBuilding is the direct entry point, intents go through Apply.
func (w *World) CreateBuilding(player types.PlayerID, kind types.BuildingKind, origin types.Point) (types.EntityID, error) {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	p, ok := w.players[player]
	if !ok {
		return 0, intentErr(CodeUnknownPlayer, "player %q", player)
	}
	b, err := w.createBuilding(p, kind, origin)
	if err != nil {
		return 0, err
	}
	return b.ID, nil
}

func (w *World) queueProduction(p *Player, buildingID types.EntityID, kind types.UnitKind) error {
	b, err := w.ownedBuilding(p.ID, buildingID)
	if err != nil {
		return err
	}
	if !kind.Valid() || !w.canProduce(b, kind) {
		return intentErr(CodeIncompatibleBuilding, "%s cannot train %s", b.Kind, kind)
	}
	if len(b.Queue) >= w.opts.MaxQueue {
		return intentErr(CodeQueueFull, "building %d queue is full", b.ID)
	}
	cost := kind.Cost()
	if err := w.ledger.Deduct(p.ID, cost); err != nil {
		return wrapIntent(CodeInsufficientResources, err)
	}
	b.Queue = append(b.Queue, ProductionItem{
		Unit:      kind,
		Remaining: kind.BuildTime() / w.productionSpeed(p.ID),
		Cost:      cost,
	})
	return nil
}

// QueueProduction is the direct entry point, intents go through Apply.
func (w *World) QueueProduction(player types.PlayerID, buildingID types.EntityID, kind types.UnitKind) error {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	p, ok := w.players[player]
	if !ok {
		return intentErr(CodeUnknownPlayer, "player %q", player)
	}
	return w.queueProduction(p, buildingID, kind)
}

// cancelProduction drops one queued item and refunds it. Only this building's queue changes.
func (w *World) cancelProduction(p *Player, buildingID types.EntityID, index int) error {
	b, err := w.ownedBuilding(p.ID, buildingID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(b.Queue) {
		return intentErr(CodeBadQueueIndex, "index %d of %d", index, len(b.Queue))
	}
	item := b.Queue[index]
	b.Queue = append(b.Queue[:index:index], b.Queue[index+1:]...)
	if err := w.ledger.Refund(p.ID, item.Cost); err != nil {
		return fmt.Errorf("refund: %w", err)
	}
	return nil
}

func (w *World) CancelProduction(player types.PlayerID, buildingID types.EntityID, index int) error {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	p, ok := w.players[player]
	if !ok {
		return intentErr(CodeUnknownPlayer, "player %q", player)
	}
	return w.cancelProduction(p, buildingID, index)
}

func (w *World) conditionEnv(player types.PlayerID) techtree.ConditionEnv {
	env := techtree.ConditionEnv{
		Buildings: make(map[string]int),
		Units:     make(map[string]int),
		Tick:      int(w.tick),
	}
	for _, b := range w.buildings {
		if b.Owner == player {
			env.Buildings[b.Kind.String()]++
		}
	}
	for _, u := range w.units {
		if u.Owner == player {
			env.Units[u.Kind.String()]++
		}
	}
	if bal, ok := w.ledger.Balance(player); ok {
		env.Food, env.Ore = bal.Food, bal.Ore
	}
	return env
}

// research pays for a tech and applies its effects to everything the player
// already owns. Future units and buildings pick the effects up at creation.
func (w *World) research(p *Player, id string) (*techtree.Tech, error) {
	oldSpeed := w.productionSpeed(p.ID)
	tech, err := w.tech.Research(p.ID, p.Faction, id, w.conditionEnv(p.ID), func(c types.Cost) error {
		return w.ledger.Deduct(p.ID, c)
	})
	if err != nil {
		return nil, researchErr(err)
	}

	for _, e := range tech.Effects {
		switch {
		case e.Stat.IsUnitStat():
			for _, uid := range w.unitIDs() {
				u := w.units[uid]
				if u.Owner == p.ID && e.Covers(u.Kind) {
					u.applyStat(e.Stat, e.Modifier)
				}
			}

		case e.Stat.IsBuildingStat():
			for _, bid := range w.buildingIDs() {
				if b := w.buildings[bid]; b.Owner == p.ID {
					b.applyStat(e.Stat, e.Modifier)
				}
			}
		}
	}
	w.rescaleQueues(p.ID, oldSpeed, w.productionSpeed(p.ID))
	w.emit(Event{Kind: EventResearched, Player: p.ID, Tech: tech.ID})
	return tech, nil
}

// Research is the direct entry point, intents go through Apply.
func (w *World) Research(player types.PlayerID, techID string) error {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	p, ok := w.players[player]
	if !ok {
		return intentErr(CodeUnknownPlayer, "player %q", player)
	}
	_, err := w.research(p, techID)
	return err
}

func researchErr(err error) error {
	switch {
	case errors.Is(err, techtree.ErrUnknownTech), errors.Is(err, techtree.ErrWrongFaction):
		return wrapIntent(CodeUnknownTech, err)

	case errors.Is(err, techtree.ErrAlreadyResearched):
		return wrapIntent(CodeAlreadyResearched, err)

	case errors.Is(err, techtree.ErrMissingPrerequisites):
		return wrapIntent(CodeMissingPrerequisites, err)

	case errors.Is(err, techtree.ErrConditionUnmet):
		return wrapIntent(CodeConditionUnmet, err)

	case errors.Is(err, economy.ErrInsufficientResources):
		return wrapIntent(CodeInsufficientResources, err)

	default:
		return wrapIntent(CodeBadIntent, err)
	}
}

// Touches lists the entities an intent refers to, so a rejection can be
// followed by full records for exactly those.
func (in Intent) Touches() (units, buildings []types.EntityID) {
	switch {
	case in.Move != nil:
		units = in.Move.IDs
	case in.Gather != nil:
		units = in.Gather.IDs
	case in.Train != nil:
		buildings = []types.EntityID{in.Train.BuildingID}
	case in.Cancel != nil:
		buildings = []types.EntityID{in.Cancel.BuildingID}
	case in.Ability != nil:
		units = in.Ability.IDs
	case in.Select != nil:
		units = in.Select.IDs
	}
	return units, buildings
}
