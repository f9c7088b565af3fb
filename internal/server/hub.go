package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Scrimzay/rtsim/internal/journal"
	"github.com/Scrimzay/rtsim/internal/protocol"
	"github.com/Scrimzay/rtsim/internal/types"
	"github.com/Scrimzay/rtsim/internal/world"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 64 << 10
	ackMemory      = 1024
)

type HubOptions struct {
	TickInterval  time.Duration // Wall time per tick at 1x, default 100ms
	KeyframeEvery uint64        // Journal keyframe cadence in ticks, 0 disables
	IntentRate    float64       // Per connection per second, 0 means unlimited
	IntentBurst   int
	Journal       *journal.Journal
	Logger        *slog.Logger
}

// Subscriber is one websocket connection, optionally bound to a player.
type Subscriber struct {
	ID      string
	Player  types.PlayerID
	conn    *websocket.Conn
	writeMu deadlock.Mutex
	limiter *rate.Limiter
}

func (s *Subscriber) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

type staged struct {
	in  world.Intent
	err error // Set when the hub refused it before it reached the world
}

// Hub owns the authoritative world. All mutation happens on the Run goroutine
// at tick boundaries; intents from any source are staged until then.
type Hub struct {
	world   *world.World
	differ  *world.Differ
	journal *journal.Journal
	log     *slog.Logger
	opts    HubOptions

	clients      map[*Subscriber]bool
	register     chan *Subscriber
	unregister   chan *Subscriber
	done         chan struct{}
	updateTicker *time.Ticker
	updateChan   chan struct{} // Signal to reset ticker
	mu           deadlock.RWMutex
	currentSpeed float64
	paused       bool

	intentsMu deadlock.Mutex
	pending   []staged
	limiters  map[types.PlayerID]*rate.Limiter // For HTTP submissions
	acks      map[string]world.Ack
	ackOrder  []string
}

func NewHub(w *world.World, opts HubOptions) *Hub {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 100 * time.Millisecond
	}
	if opts.IntentBurst <= 0 {
		opts.IntentBurst = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Hub{
		world:        w,
		differ:       world.NewDiffer(),
		journal:      opts.Journal,
		log:          opts.Logger,
		opts:         opts,
		clients:      make(map[*Subscriber]bool),
		register:     make(chan *Subscriber),
		unregister:   make(chan *Subscriber),
		done:         make(chan struct{}),
		updateChan:   make(chan struct{}, 1),
		currentSpeed: 1.0,
		limiters:     make(map[types.PlayerID]*rate.Limiter),
		acks:         make(map[string]world.Ack),
	}
	snap := w.Snapshot()
	h.differ.Prime(snap)
	if h.journal != nil {
		if err := h.journal.PutKeyframe(w.Digest(), snap); err != nil {
			h.log.Error("initial keyframe", "err", err)
		}
	}
	return h
}

func (h *Hub) World() *world.World {
	return h.world
}

func (h *Hub) newLimiter() *rate.Limiter {
	if h.opts.IntentRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(h.opts.IntentRate), h.opts.IntentBurst)
}

func (h *Hub) NewSubscriber(conn *websocket.Conn, player types.PlayerID) *Subscriber {
	return &Subscriber{
		ID:      uuid.NewString(),
		Player:  player,
		conn:    conn,
		limiter: h.newLimiter(),
	}
}

// interval is the wall time per tick at the current speed
func (h *Hub) interval() time.Duration {
	h.mu.RLock()
	speed := h.currentSpeed
	h.mu.RUnlock()

	interval := time.Duration(float64(h.opts.TickInterval) / speed)
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	} else if interval > 10*time.Second {
		interval = 10 * time.Second
	}
	return interval
}

func (h *Hub) resetUpdateTicker() {
	if h.updateTicker != nil {
		h.updateTicker.Stop()
	}
	interval := h.interval()
	h.updateTicker = time.NewTicker(interval)
	h.log.Info("tick interval set", "interval", interval, "speed", h.Speed())
}

// Run drives the session until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.resetUpdateTicker()
	defer func() {
		h.updateTicker.Stop()
		close(h.done)
		h.closeAll()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case sub := <-h.register:
			h.join(sub)

		case sub := <-h.unregister:
			h.drop(sub)

		case <-h.updateTicker.C:
			if h.Paused() {
				continue
			}
			start := time.Now()
			d, ok := h.safeStep()
			if !ok {
				continue
			}
			h.broadcastDiff(d)
			if took, budget := time.Since(start), h.interval(); took > budget {
				h.log.Warn("tick overrun", "tick", d.Tick, "took", took, "budget", budget)
			}

		case <-h.updateChan:
			h.resetUpdateTicker()
		}
	}
}

func (h *Hub) Register(sub *Subscriber) {
	select {
	case h.register <- sub:
	case <-h.done:
		sub.conn.Close()
	}
}

func (h *Hub) Unregister(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// join sends the newcomer a keyframe. It runs on the loop between ticks, so
// the keyframe lines up exactly with the diffs that follow it.
func (h *Hub) join(sub *Subscriber) {
	h.mu.Lock()
	h.clients[sub] = true
	h.mu.Unlock()

	snap := h.world.Snapshot()
	data, err := protocol.Encode(protocol.TypeKeyframe, snap.Tick, snap)
	if err != nil {
		h.log.Error("keyframe encode", "err", err)
		h.drop(sub)
		return
	}
	if err := sub.write(data); err != nil {
		h.log.Info("initial send failed", "sub", sub.ID, "err", err)
		h.drop(sub)
		return
	}
	h.sendControl(sub)
	h.log.Info("client joined", "sub", sub.ID, "player", sub.Player, "tick", snap.Tick)
}

func (h *Hub) drop(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.clients[sub]
	delete(h.clients, sub)
	h.mu.Unlock()
	if ok {
		sub.conn.Close()
		h.log.Info("client left", "sub", sub.ID, "player", sub.Player)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := h.clients
	h.clients = make(map[*Subscriber]bool)
	h.mu.Unlock()
	for sub := range subs {
		sub.conn.Close()
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) subscribers() []*Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Subscriber, 0, len(h.clients))
	for sub := range h.clients {
		out = append(out, sub)
	}
	return out
}

// Submit stages an intent for the next tick boundary. lim may be nil for
// trusted sources.
func (h *Hub) Submit(in world.Intent, lim *rate.Limiter) {
	st := staged{in: in}
	if lim != nil && !lim.Allow() {
		st.err = world.RejectIntent(world.CodeRateLimited,
			fmt.Errorf("more than %g intents per second", h.opts.IntentRate))
	}
	h.intentsMu.Lock()
	h.pending = append(h.pending, st)
	h.intentsMu.Unlock()
}

// SubmitHTTP stages an intent from the REST surface, limited per player.
func (h *Hub) SubmitHTTP(in world.Intent) {
	h.intentsMu.Lock()
	lim, ok := h.limiters[in.Player]
	if !ok {
		lim = h.newLimiter()
		h.limiters[in.Player] = lim
	}
	h.intentsMu.Unlock()
	h.Submit(in, lim)
}

func (h *Hub) drain() []staged {
	h.intentsMu.Lock()
	defer h.intentsMu.Unlock()
	out := h.pending
	h.pending = nil
	return out
}

func (h *Hub) rememberAck(a world.Ack) {
	h.intentsMu.Lock()
	defer h.intentsMu.Unlock()
	if _, ok := h.acks[a.OpID]; !ok {
		h.ackOrder = append(h.ackOrder, a.OpID)
	}
	h.acks[a.OpID] = a
	for len(h.ackOrder) > ackMemory {
		delete(h.acks, h.ackOrder[0])
		h.ackOrder = h.ackOrder[1:]
	}
}

// Ack reports what happened to a recently applied op.
func (h *Hub) Ack(opID string) (world.Ack, bool) {
	h.intentsMu.Lock()
	defer h.intentsMu.Unlock()
	a, ok := h.acks[opID]
	return a, ok
}

// Step applies staged intents in arrival order, runs one tick and returns the
// diff to broadcast. Run calls it on every tick; tests call it directly.
func (h *Hub) Step() world.Diff {
	tick := h.world.CurrentTick()
	var acks []world.Ack
	for _, st := range h.drain() {
		ack := world.Ack{OpID: st.in.OpID, Player: st.in.Player}
		err := st.err
		var out world.Outcome
		if err == nil {
			out, err = h.world.Apply(st.in)
		}
		if err != nil {
			ack.Code, ack.Reason = world.IntentCode(err), err.Error()
			// Resend full records so the issuer can throw its prediction away
			units, buildings := st.in.Touches()
			h.differ.Force(units, buildings, []types.PlayerID{st.in.Player})
			h.log.Info("intent rejected", "op", st.in.OpID, "player", st.in.Player, "type", st.in.Type, "code", ack.Code)
		} else {
			ack.Accepted, ack.Created = true, out.Created
			if h.journal != nil {
				if err := h.journal.AppendIntent(tick, st.in); err != nil {
					h.log.Error("journal append", "op", st.in.OpID, "err", err)
				}
			}
		}
		h.rememberAck(ack)
		acks = append(acks, ack)
	}

	h.world.Tick()
	d := h.differ.Next(h.world, acks)

	if h.journal != nil && h.opts.KeyframeEvery > 0 && d.Tick%h.opts.KeyframeEvery == 0 {
		if err := h.journal.PutKeyframe(h.world.Digest(), h.world.Snapshot()); err != nil {
			h.log.Error("journal keyframe", "tick", d.Tick, "err", err)
		}
	}
	for _, e := range d.Events {
		if e.Kind == world.EventVictory {
			h.log.Info("session over", "tick", d.Tick, "winner", d.Winner)
		}
	}
	return d
}

func (h *Hub) safeStep() (d world.Diff, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic in tick", "panic", r, "stack", string(debug.Stack()))
			ok = false
		}
	}()
	return h.Step(), true
}

func (h *Hub) broadcastDiff(d world.Diff) {
	data, err := protocol.Encode(protocol.TypeDiff, d.Tick, d)
	if err != nil {
		h.log.Error("diff encode", "tick", d.Tick, "err", err)
		return
	}
	for _, sub := range h.subscribers() {
		if err := sub.write(data); err != nil {
			h.log.Info("broadcast failed", "sub", sub.ID, "err", err)
			go h.Unregister(sub)
		}
	}
}

func (h *Hub) Speed() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.currentSpeed
}

func (h *Hub) Paused() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.paused
}

// SetSpeed changes the tick rate; the simulation step itself stays the same.
func (h *Hub) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	h.mu.Lock()
	h.currentSpeed = speed
	h.mu.Unlock()

	select {
	case h.updateChan <- struct{}{}:
	default:
		// Already pending
	}
	h.broadcastControl()
}

func (h *Hub) TogglePause() {
	h.mu.Lock()
	h.paused = !h.paused
	h.mu.Unlock()
	h.broadcastControl()
}

func (h *Hub) control(sub *Subscriber) protocol.Control {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return protocol.Control{Player: sub.Player, Speed: h.currentSpeed, Paused: h.paused}
}

func (h *Hub) sendControl(sub *Subscriber) {
	data, err := protocol.Encode(protocol.TypeControl, h.world.CurrentTick(), h.control(sub))
	if err != nil {
		h.log.Error("control encode", "err", err)
		return
	}
	if err := sub.write(data); err != nil {
		h.log.Info("control send failed", "sub", sub.ID, "err", err)
		go h.Unregister(sub)
	}
}

func (h *Hub) broadcastControl() {
	for _, sub := range h.subscribers() {
		h.sendControl(sub)
	}
}

func (h *Hub) sendError(sub *Subscriber, msg string) {
	data, err := protocol.Encode(protocol.TypeError, h.world.CurrentTick(), protocol.ErrorPayload{Error: msg})
	if err != nil {
		return
	}
	if err := sub.write(data); err != nil {
		go h.Unregister(sub)
	}
}
