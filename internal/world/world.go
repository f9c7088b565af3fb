package world

import (
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/Scrimzay/rtsim/internal/economy"
	"github.com/Scrimzay/rtsim/internal/techtree"
	"github.com/Scrimzay/rtsim/internal/types"
	"github.com/sasha-s/go-deadlock"
)

// Client replicas hand out ids from here up so predicted entities never collide with server ids.
const PredictedIDBase uint64 = 1 << 48

type Options struct {
	TickInterval    time.Duration // Default 100ms
	CombatInterval  time.Duration // Default 500ms
	GatherInterval  time.Duration // Default 1s
	GatherRate      float64       // Per gather tick before multipliers, default 3
	MaxQueue        int           // Per building, default 5
	StealthTicks    int           // Default 50
	StealthCooldown int           // Default 200

	// Predictive replicas only move units locally, everything else comes from the server
	Predictive    bool
	FirstEntityID uint64

	Catalog *techtree.Catalog
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 100 * time.Millisecond
	}
	if o.CombatInterval <= 0 {
		o.CombatInterval = 500 * time.Millisecond
	}
	if o.GatherInterval <= 0 {
		o.GatherInterval = time.Second
	}
	if o.GatherRate <= 0 {
		o.GatherRate = 3
	}
	if o.MaxQueue <= 0 {
		o.MaxQueue = 5
	}
	if o.StealthTicks <= 0 {
		o.StealthTicks = 50
	}
	if o.StealthCooldown <= 0 {
		o.StealthCooldown = 200
	}
	if o.FirstEntityID == 0 {
		o.FirstEntityID = 1
		if o.Predictive {
			o.FirstEntityID = PredictedIDBase
		}
	}
	if o.Catalog == nil {
		o.Catalog = techtree.DefaultCatalog()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type Player struct {
	ID       types.PlayerID `json:"id"`
	Faction  types.Faction  `json:"faction"`
	Defeated bool           `json:"defeated"`
}

// World is the whole simulation for one session. Every exported method takes
// Mu, unexported helpers expect the caller to hold it.
type World struct {
	Mu deadlock.RWMutex

	opts   Options
	log    *slog.Logger
	grid   *Grid
	ledger *economy.Ledger
	tech   *techtree.Tree

	players   map[types.PlayerID]*Player
	units     map[types.EntityID]*Unit
	buildings map[types.EntityID]*Building
	selection map[types.PlayerID][]types.EntityID

	tick        uint64
	nextID      uint64
	dt          float64 // Seconds per tick
	combatEvery uint64
	gatherEvery uint64

	events   []Event
	winner   types.PlayerID
	gameOver bool
}

func New(layout Layout, opts Options) (*World, error) {
	w := newWorld(opts)
	if err := w.applyLayout(layout); err != nil {
		return nil, err
	}
	w.grid.takeDirty()
	return w, nil
}

func newWorld(opts Options) *World {
	opts = opts.withDefaults()
	return &World{
		opts:        opts,
		log:         opts.Logger,
		ledger:      economy.NewLedger(),
		tech:        techtree.NewTree(opts.Catalog),
		players:     make(map[types.PlayerID]*Player),
		units:       make(map[types.EntityID]*Unit),
		buildings:   make(map[types.EntityID]*Building),
		selection:   make(map[types.PlayerID][]types.EntityID),
		nextID:      opts.FirstEntityID,
		dt:          opts.TickInterval.Seconds(),
		combatEvery: ticksPer(opts.CombatInterval, opts.TickInterval),
		gatherEvery: ticksPer(opts.GatherInterval, opts.TickInterval),
	}
}

func ticksPer(every, tick time.Duration) uint64 {
	n := uint64(every / tick)
	if n == 0 {
		n = 1
	}
	return n
}

func (w *World) allocID() types.EntityID {
	id := types.EntityID(w.nextID)
	w.nextID++
	return id
}

func (w *World) Options() Options {
	return w.opts
}

func (w *World) CurrentTick() uint64 {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	return w.tick
}

func (w *World) GetWinner() types.PlayerID {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	return w.winner
}

func (w *World) IsGameOver() bool {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	return w.gameOver
}

// Ledger exposes balances. Mutations still belong to the world's intents and ticks.
func (w *World) Ledger() *economy.Ledger {
	return w.ledger
}

func (w *World) playerIDs() []types.PlayerID {
	out := make([]types.PlayerID, 0, len(w.players))
	for id := range w.players {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (w *World) unitIDs() []types.EntityID {
	out := make([]types.EntityID, 0, len(w.units))
	for id := range w.units {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (w *World) buildingIDs() []types.EntityID {
	out := make([]types.EntityID, 0, len(w.buildings))
	for id := range w.buildings {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (w *World) emit(e Event) {
	if w.opts.Predictive {
		return // Replicas get their events from the server
	}
	e.Tick = w.tick
	w.events = append(w.events, e)
}

func (w *World) takeEvents() []Event {
	ev := w.events
	w.events = nil
	return ev
}

// Tick runs one serial simulation step. Nothing else may mutate the world
// while it runs, intents are applied between ticks.
func (w *World) Tick() {
	w.Mu.Lock()
	defer w.Mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("panic in tick", "tick", w.tick, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if w.gameOver {
		return
	}

	w.tick++
	w.stepMovement()
	if w.opts.Predictive {
		return
	}

	w.stepAbilities()
	if w.tick%w.gatherEvery == 0 {
		w.stepGathering()
	}
	w.stepProduction()
	if w.tick%w.combatEvery == 0 {
		w.stepCombat()
	}
	w.checkVictory()
}

// checkVictory marks players with no city center as defeated and ends the
// session once at most one player is left standing.
func (w *World) checkVictory() {
	centers := make(map[types.PlayerID]int)
	for _, b := range w.buildings {
		if b.Kind == types.BuildingCityCenter {
			centers[b.Owner]++
		}
	}

	var alive []types.PlayerID
	for _, id := range w.playerIDs() {
		p := w.players[id]
		if !p.Defeated && centers[id] == 0 {
			p.Defeated = true
			w.emit(Event{Kind: EventDefeated, Player: id})
			w.log.Info("player defeated", "player", id, "tick", w.tick)
		}
		if !p.Defeated {
			alive = append(alive, id)
		}
	}

	if len(w.players) < 2 || len(alive) > 1 {
		return
	}
	w.gameOver = true
	if len(alive) == 1 {
		w.winner = alive[0]
		w.emit(Event{Kind: EventVictory, Player: w.winner})
		w.log.Info("game over", "winner", w.winner, "tick", w.tick)
	} else {
		w.log.Info("game over in a draw", "tick", w.tick)
	}
}

// Advance is the predictive step: the tick counter and movement, nothing that
// needs the server's authority.
func (w *World) Advance() {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	if w.gameOver {
		return
	}
	w.tick++
	w.stepMovement()
}

func sortIDs(ids []types.EntityID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
