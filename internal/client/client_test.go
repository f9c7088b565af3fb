package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Scrimzay/rtsim/internal/protocol"
	"github.com/Scrimzay/rtsim/internal/server"
	"github.com/Scrimzay/rtsim/internal/types"
	"github.com/Scrimzay/rtsim/internal/world"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func init() {
	gin.SetMode(gin.TestMode)
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

// startHub runs a real hub behind httptest for the length of the test.
func startHub(t *testing.T) (*server.Hub, *httptest.Server) {
	t.Helper()
	w, err := world.New(world.Plains(), world.Options{Logger: quiet})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	hub := server.NewHub(w, server.HubOptions{TickInterval: 20 * time.Millisecond, Logger: quiet})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(server.SetupRouter(hub))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv
}

func startClient(t *testing.T, url string, player types.PlayerID) *Client {
	t.Helper()
	c, err := New(Options{URL: url, Player: player, MinBackoff: 10 * time.Millisecond, Logger: quiet})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(cancel)
	return c
}

// stepUntil calls Step at roughly the hub's cadence until cond holds.
func stepUntil(t *testing.T, c *Client, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.Step()
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNextBackoff(t *testing.T) {
	got := []time.Duration{250 * time.Millisecond}
	for i := 0; i < 7; i++ {
		got = append(got, nextBackoff(got[len(got)-1], 8*time.Second))
	}
	want := []time.Duration{
		250 * time.Millisecond, 500 * time.Millisecond, time.Second, 2 * time.Second,
		4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestIssueBeforeKeyframe(t *testing.T) {
	c, err := New(Options{URL: "ws://127.0.0.1:1/ws", Player: "p1", Logger: quiet})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Issue(world.Intent{Type: world.IntentSelectUnits, Select: &world.SelectUnits{}}); !errors.Is(err, ErrNotReady) {
		t.Errorf("got %v, want ErrNotReady", err)
	}
}

func TestClientPredictsAndSettles(t *testing.T) {
	hub, srv := startHub(t)
	c := startClient(t, wsURL(srv, "/ws"), "p1")
	stepUntil(t, c, "keyframe", c.Ready)

	var mine []types.EntityID
	for _, u := range c.Reconciler().World().Units() {
		if u.Owner == "p1" {
			mine = append(mine, u.ID)
		}
	}
	op, err := c.Issue(world.Intent{Type: world.IntentMoveUnits, Move: &world.MoveUnits{IDs: mine, X: 10, Y: 10}})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if op.OpID == "" {
		t.Fatal("no op id assigned")
	}
	u, _ := c.Reconciler().World().Unit(mine[0])
	if u.State != world.StateMoving {
		t.Errorf("got state %v, want the prediction applied at once", u.State)
	}

	stepUntil(t, c, "ack", func() bool { return len(c.Reconciler().Pending()) == 0 })
	if st := c.Reconciler().Stats(); st.Confirmed != 1 || st.Rejected != 0 {
		t.Errorf("got %+v, want one confirmation", st)
	}
	if ack, ok := hub.Ack(op.OpID); !ok || !ack.Accepted || ack.Player != "p1" {
		t.Errorf("got hub ack %+v", ack)
	}
}

func TestLocalRejectionIsNotSent(t *testing.T) {
	hub, srv := startHub(t)
	c := startClient(t, wsURL(srv, "/ws"), "p1")
	stepUntil(t, c, "keyframe", c.Ready)

	var theirs []types.EntityID
	for _, u := range c.Reconciler().World().Units() {
		if u.Owner == "p2" {
			theirs = append(theirs, u.ID)
		}
	}
	op, err := c.Issue(world.Intent{OpID: "nope", Type: world.IntentMoveUnits, Move: &world.MoveUnits{IDs: theirs, X: 1, Y: 1}})
	if world.IntentCode(err) != world.CodeNotOwner {
		t.Fatalf("got %v, want not_owner", err)
	}
	if op.OpID != "" || len(c.Reconciler().Pending()) != 0 {
		t.Errorf("rejected intent left a prediction")
	}

	time.Sleep(100 * time.Millisecond)
	if _, ok := hub.Ack("nope"); ok {
		t.Error("locally rejected intent reached the hub")
	}
}

func TestControlMessages(t *testing.T) {
	hub, srv := startHub(t)
	c := startClient(t, wsURL(srv, "/ws"), "p2")
	stepUntil(t, c, "control", func() bool { return c.Control().Player == "p2" })

	if err := c.SetSpeed(4); err != nil {
		t.Fatalf("SetSpeed: %v", err)
	}
	stepUntil(t, c, "speed change", func() bool { return c.Control().Speed == 4 })
	if hub.Speed() != 4 {
		t.Errorf("got hub speed %v, want 4", hub.Speed())
	}
}

func TestReconnectsAfterDrop(t *testing.T) {
	w, err := world.New(world.Plains(), world.Options{Logger: quiet})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	snap := w.Snapshot()
	var accepted atomic.Int32
	upgrader := websocket.Upgrader{}

	// Sends a keyframe and hangs up straight away
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		accepted.Add(1)
		data, _ := protocol.Encode(protocol.TypeKeyframe, snap.Tick, snap)
		conn.WriteMessage(websocket.TextMessage, data)
		conn.Close()
	}))
	defer srv.Close()

	c := startClient(t, wsURL(srv, "/"), "p1")
	deadline := time.Now().Add(5 * time.Second)
	for accepted.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := accepted.Load(); n < 3 {
		t.Fatalf("got %d connections, want the client to keep reconnecting", n)
	}
	stepUntil(t, c, "keyframe", c.Ready)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHubErrorsAreLogged(t *testing.T) {
	w, err := world.New(world.Plains(), world.Options{Logger: quiet})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	snap := w.Snapshot()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		kf, _ := protocol.Encode(protocol.TypeKeyframe, snap.Tick, snap)
		bad, _ := protocol.Encode(protocol.TypeError, snap.Tick, "not an object")
		good, _ := protocol.Encode(protocol.TypeError, snap.Tick, protocol.ErrorPayload{Error: "unknown action fly"})
		for _, data := range [][]byte{kf, bad, good} {
			conn.WriteMessage(websocket.TextMessage, data)
		}
		conn.ReadMessage()
	}))
	defer srv.Close()

	var logs lockedBuffer
	c, err := New(Options{URL: wsURL(srv, "/"), Player: "p1",
		Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	stepUntil(t, c, "hub error logged", func() bool {
		return strings.Contains(logs.String(), "unknown action fly")
	})
	if !strings.Contains(logs.String(), "bad error message") {
		t.Errorf("malformed error payload went unreported:\n%s", logs.String())
	}
}
