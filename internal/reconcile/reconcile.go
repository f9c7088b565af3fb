// Package reconcile keeps a client's predicted world in line with the
// authoritative diffs coming from the server.
package reconcile

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/Scrimzay/rtsim/internal/types"
	"github.com/Scrimzay/rtsim/internal/world"
	"github.com/sasha-s/go-deadlock"
)

// DefaultTolerance is how far, in tiles, a predicted unit may sit from the
// server's position before it is snapped.
const DefaultTolerance = 0.5

// eventWindow is how many ticks back a late diff may still deliver events.
const eventWindow = 1024

// PredictedOp is one optimistic intent waiting for its ack.
type PredictedOp struct {
	OpID      string
	Kind      world.IntentType
	IssuedAt  uint64
	Units     []types.EntityID
	Buildings []types.EntityID
	Created   []types.EntityID // Local stand-ins, dropped once the server answers
}

type Stats struct {
	Applied   int // Entity updates taken from the server
	Stale     int // Entity updates older than what was already applied
	Snapped   int // Predicted units pulled back to the server position
	Confirmed int
	Rejected  int
}

type Options struct {
	Tolerance float64
	World     world.Options
	Logger    *slog.Logger
}

// Reconciler owns the client's replica. Predictions live in an overlay keyed
// by entity, entities themselves carry no prediction state. An entity leaves
// the overlay as soon as a diff mentions it; the op stays pending until acked.
type Reconciler struct {
	mu deadlock.Mutex

	world     *world.World
	player    types.PlayerID
	tolerance float64
	log       *slog.Logger

	pending map[string]*PredictedOp
	overlay map[types.EntityID]map[string]bool

	lastApplied map[string]uint64
	lastTick    uint64
	baseTick    uint64
	delivered   map[uint64]bool
	units       map[types.EntityID]world.UnitRecord
	buildings   map[types.EntityID]world.BuildingRecord

	stats Stats
}

func New(snap world.Snapshot, player types.PlayerID, opts Options) *Reconciler {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.World.Logger == nil {
		opts.World.Logger = opts.Logger
	}
	r := &Reconciler{
		player:    player,
		tolerance: opts.Tolerance,
		log:       opts.Logger,
		world:     world.NewReplica(snap, opts.World),
	}
	r.reset(snap)
	return r
}

func (r *Reconciler) reset(snap world.Snapshot) {
	r.pending = make(map[string]*PredictedOp)
	r.overlay = make(map[types.EntityID]map[string]bool)
	r.lastApplied = make(map[string]uint64)
	r.lastTick = snap.Tick
	r.baseTick = snap.Tick
	r.delivered = make(map[uint64]bool)
	r.units = make(map[types.EntityID]world.UnitRecord, len(snap.Units))
	r.buildings = make(map[types.EntityID]world.BuildingRecord, len(snap.Buildings))
	for _, u := range snap.Units {
		r.units[u.ID] = u
		r.lastApplied[unitKey(u.ID)] = snap.Tick
	}
	for _, b := range snap.Buildings {
		r.buildings[b.ID] = b
		r.lastApplied[buildingKey(b.ID)] = snap.Tick
	}
}

// World is the replica, for reads and for advancing prediction.
func (r *Reconciler) World() *world.World {
	return r.world
}

func (r *Reconciler) Player() types.PlayerID {
	return r.player
}

// LoadSnapshot replaces everything with a fresh keyframe. Predictions in
// flight are dropped, the server's state already includes whatever it accepted.
func (r *Reconciler) LoadSnapshot(snap world.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) > 0 {
		r.log.Info("dropping predictions on keyframe", "pending", len(r.pending), "tick", snap.Tick)
	}
	r.world.LoadSnapshot(snap)
	r.reset(snap)
}

// Predict applies an intent to the replica right away. A local rejection is
// returned and the intent should not be sent.
func (r *Reconciler) Predict(in world.Intent) (PredictedOp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if in.OpID == "" {
		return PredictedOp{}, world.RejectIntent(world.CodeBadIntent, fmt.Errorf("intent without op id"))
	}
	if _, dup := r.pending[in.OpID]; dup {
		return PredictedOp{}, world.RejectIntent(world.CodeBadIntent, fmt.Errorf("op %s already pending", in.OpID))
	}
	if in.Player == "" {
		in.Player = r.player
	}
	in.IssuedAt = r.world.CurrentTick()

	out, err := r.world.Apply(in)
	if err != nil {
		return PredictedOp{}, err
	}
	units, buildings := in.Touches()
	op := &PredictedOp{
		OpID:      in.OpID,
		Kind:      in.Type,
		IssuedAt:  in.IssuedAt,
		Units:     units,
		Buildings: buildings,
		Created:   out.Created,
	}
	r.pending[op.OpID] = op
	for _, id := range op.entities() {
		if r.overlay[id] == nil {
			r.overlay[id] = make(map[string]bool)
		}
		r.overlay[id][op.OpID] = true
	}
	return *op, nil
}

func (op *PredictedOp) entities() []types.EntityID {
	out := append([]types.EntityID{}, op.Units...)
	out = append(out, op.Buildings...)
	return append(out, op.Created...)
}

func unitKey(id types.EntityID) string     { return fmt.Sprintf("u:%d", id) }
func buildingKey(id types.EntityID) string { return fmt.Sprintf("b:%d", id) }
func playerKey(id types.PlayerID) string   { return "p:" + string(id) }
func tileKey(t world.Tile) string          { return fmt.Sprintf("t:%d,%d", t.X, t.Y) }

// fresh records tick for key unless something at least as new was applied.
func (r *Reconciler) fresh(key string, tick uint64) bool {
	if last, ok := r.lastApplied[key]; ok && tick <= last {
		r.stats.Stale++
		return false
	}
	r.lastApplied[key] = tick
	return true
}

func (r *Reconciler) predicted(id types.EntityID) bool {
	return len(r.overlay[id]) > 0
}

// release ends prediction on id for every op holding it.
func (r *Reconciler) release(id types.EntityID) {
	delete(r.overlay, id)
}

// firstDelivery reports whether the diff for tick has not been seen yet.
// Ticks at or before the keyframe, or older than the window, count as seen.
func (r *Reconciler) firstDelivery(tick uint64) bool {
	if tick <= r.baseTick || r.delivered[tick] {
		return false
	}
	if r.lastTick > eventWindow && tick <= r.lastTick-eventWindow {
		return false
	}
	r.delivered[tick] = true
	return true
}

func (r *Reconciler) pruneDelivered() {
	if r.lastTick <= eventWindow {
		return
	}
	floor := r.lastTick - eventWindow
	for t := range r.delivered {
		if t <= floor {
			delete(r.delivered, t)
		}
	}
}

// ApplyDiff folds one authoritative diff into the replica. Applying the same
// diff again changes nothing. Events are returned the first time a tick's
// diff arrives, in whatever order diffs arrive.
func (r *Reconciler) ApplyDiff(d world.Diff) []world.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range sortedUnitIDs(d.Units) {
		r.applyUnit(d.Tick, id, d.Units[id])
	}
	for _, id := range d.RemovedUnits {
		if !r.fresh(unitKey(id), d.Tick) {
			continue
		}
		delete(r.units, id)
		r.world.RemoveUnit(id)
		r.release(id)
		r.stats.Applied++
	}

	for _, id := range sortedBuildingIDs(d.Buildings) {
		r.applyBuilding(d.Tick, id, d.Buildings[id])
	}
	for _, id := range d.RemovedBuildings {
		if !r.fresh(buildingKey(id), d.Tick) {
			continue
		}
		delete(r.buildings, id)
		r.world.RemoveBuilding(id)
		r.release(id)
		r.stats.Applied++
	}

	for _, t := range d.Tiles {
		if r.fresh(tileKey(t), d.Tick) {
			r.world.ApplyTiles([]world.Tile{t})
		}
	}
	for _, id := range sortedPlayerIDs(d.Players) {
		if r.fresh(playerKey(id), d.Tick) {
			r.world.SetPlayer(d.Players[id])
		}
	}

	// Acks last, so stand-ins and rejected state are settled after every
	// entity in this diff was reconciled
	for _, ack := range d.Acks {
		r.settle(ack)
	}

	first := r.firstDelivery(d.Tick)
	if d.Tick > r.lastTick {
		r.lastTick = d.Tick
		r.world.SyncClock(d.Tick, d.Winner, d.GameOver)
		r.pruneDelivered()
	}
	if !first {
		return nil
	}
	return d.Events
}

func (r *Reconciler) applyUnit(tick uint64, id types.EntityID, ud world.UnitDiff) {
	if !r.fresh(unitKey(id), tick) {
		return
	}
	rec, known := r.units[id]
	if !known && ud.Full == nil {
		r.log.Debug("partial diff for unknown unit", "unit", id, "tick", tick)
		return
	}
	rec.Patch(ud)
	r.units[id] = rec
	r.stats.Applied++

	if !r.predicted(id) {
		r.world.UpsertUnit(rec)
		return
	}
	defer r.release(id)
	x, y, ok := r.world.UnitPosition(id)
	if !ok {
		r.world.UpsertUnit(rec)
		return
	}
	dist := math.Hypot(rec.X-x, rec.Y-y)
	snap := dist > r.tolerance
	if snap {
		r.stats.Snapped++
		r.log.Debug("desync correction", "unit", id, "distance", dist, "tick", tick)
	}
	r.world.MergeUnit(rec, snap)
}

func (r *Reconciler) applyBuilding(tick uint64, id types.EntityID, bd world.BuildingDiff) {
	if !r.fresh(buildingKey(id), tick) {
		return
	}
	rec, known := r.buildings[id]
	if !known && bd.Full == nil {
		r.log.Debug("partial diff for unknown building", "building", id, "tick", tick)
		return
	}
	rec.Patch(bd)
	r.buildings[id] = rec
	r.stats.Applied++

	out := rec
	if r.predicted(id) {
		// The locally queued items survive this one merge
		if local, ok := r.world.Building(id); ok {
			out.Queue = local.Queue
		}
		r.release(id)
	}
	r.world.UpsertBuilding(out)
}

// settle closes a predicted op. Stand-in entities go away either way. A
// rejection puts the server's records back over everything the op touched.
func (r *Reconciler) settle(ack world.Ack) {
	op, ok := r.pending[ack.OpID]
	if !ok {
		return
	}
	delete(r.pending, ack.OpID)
	for _, id := range op.entities() {
		delete(r.overlay[id], op.OpID)
		if len(r.overlay[id]) == 0 {
			delete(r.overlay, id)
		}
	}
	for _, id := range op.Created {
		if id >= types.EntityID(world.PredictedIDBase) {
			r.world.RemoveBuilding(id)
			r.world.RemoveUnit(id)
		}
	}

	if ack.Accepted {
		r.stats.Confirmed++
		return
	}
	r.stats.Rejected++
	r.log.Info("prediction rejected", "op", op.OpID, "kind", op.Kind, "code", ack.Code, "reason", ack.Reason)
	for _, id := range op.Units {
		if rec, ok := r.units[id]; ok && !r.predicted(id) {
			r.world.UpsertUnit(rec)
		}
	}
	for _, id := range op.Buildings {
		if rec, ok := r.buildings[id]; ok && !r.predicted(id) {
			r.world.UpsertBuilding(rec)
		}
	}
}

// Reject settles an op the transport could not deliver.
func (r *Reconciler) Reject(opID, code, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settle(world.Ack{OpID: opID, Player: r.player, Code: code, Reason: reason})
}

func (r *Reconciler) Pending() []PredictedOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PredictedOp, 0, len(r.pending))
	for _, op := range r.pending {
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt != out[j].IssuedAt {
			return out[i].IssuedAt < out[j].IssuedAt
		}
		return out[i].OpID < out[j].OpID
	})
	return out
}

// Predicted reports whether an entity carries local changes no diff has
// reconciled yet.
func (r *Reconciler) Predicted(id types.EntityID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.predicted(id)
}

func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Advance runs one predictive step on the replica.
func (r *Reconciler) Advance() {
	r.world.Advance()
}

func sortedUnitIDs(m map[types.EntityID]world.UnitDiff) []types.EntityID {
	out := make([]types.EntityID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedBuildingIDs(m map[types.EntityID]world.BuildingDiff) []types.EntityID {
	out := make([]types.EntityID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedPlayerIDs(m map[types.PlayerID]world.PlayerRecord) []types.PlayerID {
	out := make([]types.PlayerID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
