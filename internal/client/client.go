// Package client connects to a hub over websocket and keeps a predicted
// replica of the session up to date.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/Scrimzay/rtsim/internal/protocol"
	"github.com/Scrimzay/rtsim/internal/reconcile"
	"github.com/Scrimzay/rtsim/internal/types"
	"github.com/Scrimzay/rtsim/internal/world"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"
)

var (
	ErrNotReady  = errors.New("no keyframe received yet")
	ErrSendQueue = errors.New("send queue full")
)

const (
	inboxSize = 256
	sendSize  = 64
	writeWait = 5 * time.Second
)

type Options struct {
	URL              string // ws://host:port/ws
	Player           types.PlayerID
	HandshakeTimeout time.Duration // Default 5s
	MinBackoff       time.Duration // Default 250ms
	MaxBackoff       time.Duration // Default 8s
	Tolerance        float64
	Logger           *slog.Logger
}

type Client struct {
	opts   Options
	target string
	log    *slog.Logger
	dialer *websocket.Dialer
	inbox  chan protocol.Message
	send   chan []byte

	mu      deadlock.Mutex
	rec     *reconcile.Reconciler // Nil until the first keyframe
	control protocol.Control
}

func New(opts Options) (*Client, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 8 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("hub url: %w", err)
	}
	if opts.Player != "" {
		q := u.Query()
		q.Set("player", string(opts.Player))
		u.RawQuery = q.Encode()
	}

	return &Client{
		opts:   opts,
		target: u.String(),
		log:    opts.Logger,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		inbox:  make(chan protocol.Message, inboxSize),
		send:   make(chan []byte, sendSize),
	}, nil
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

// Run keeps a connection open until ctx ends, reconnecting with exponential
// backoff. Every new connection starts with a keyframe from the hub.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.MinBackoff
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.target, nil)
		if err == nil {
			c.log.Info("connected", "url", c.target)
			backoff = c.opts.MinBackoff
			err = c.serve(ctx, conn)
			c.log.Info("disconnected", "err", err)
		} else {
			c.log.Info("dial failed", "url", c.target, "err", err, "retry", backoff)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, c.opts.MaxBackoff)
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			m, err := protocol.Decode(data)
			if err != nil {
				c.log.Warn("dropping message", "err", err)
				continue
			}
			select {
			case c.inbox <- m:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			err := conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			if err != nil {
				c.log.Debug("close frame not sent", "err", err)
			}
			return ctx.Err()

		case err := <-readErr:
			return err

		case data := <-c.send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		}
	}
}

func (c *Client) enqueue(a protocol.Action) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueue
	}
}

// Issue predicts the intent on the replica and forwards it. A local rejection
// is returned and nothing is sent.
func (c *Client) Issue(in world.Intent) (reconcile.PredictedOp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec == nil {
		return reconcile.PredictedOp{}, ErrNotReady
	}
	if in.OpID == "" {
		in.OpID = uuid.NewString()
	}
	in.Player = c.opts.Player

	op, err := c.rec.Predict(in)
	if err != nil {
		return op, err
	}
	in.IssuedAt = op.IssuedAt
	if err := c.enqueue(protocol.Action{Action: protocol.ActionIntent, Intent: &in}); err != nil {
		c.rec.Reject(op.OpID, "", err.Error())
		return op, err
	}
	return op, nil
}

func (c *Client) SetSpeed(multiplier float64) error {
	return c.enqueue(protocol.Action{Action: protocol.ActionSetSpeed, Multiplier: multiplier})
}

func (c *Client) TogglePause() error {
	return c.enqueue(protocol.Action{Action: protocol.ActionTogglePause})
}

// Step folds everything received since the last call into the replica, then
// advances prediction one tick. Call it once per tick.
func (c *Client) Step() []world.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var events []world.Event
	for drained := false; !drained; {
		select {
		case m := <-c.inbox:
			events = append(events, c.handle(m)...)
		default:
			drained = true
		}
	}
	if c.rec != nil {
		c.rec.Advance()
	}
	return events
}

func (c *Client) handle(m protocol.Message) []world.Event {
	switch m.Type {
	case protocol.TypeKeyframe:
		snap, err := m.Keyframe()
		if err != nil {
			c.log.Warn("bad keyframe", "err", err)
			return nil
		}
		if c.rec == nil {
			c.rec = reconcile.New(snap, c.opts.Player, reconcile.Options{
				Tolerance: c.opts.Tolerance,
				Logger:    c.log,
				World:     world.Options{Logger: c.log},
			})
		} else {
			c.rec.LoadSnapshot(snap)
		}

	case protocol.TypeDiff:
		d, err := m.Diff()
		if err != nil {
			c.log.Warn("bad diff", "err", err)
			return nil
		}
		if c.rec == nil {
			return nil
		}
		return c.rec.ApplyDiff(d)

	case protocol.TypeControl:
		ctl, err := m.Control()
		if err != nil {
			c.log.Warn("bad control", "err", err)
			return nil
		}
		c.control = ctl

	case protocol.TypeError:
		e, err := m.Failure()
		if err != nil {
			c.log.Warn("bad error message", "err", err)
			return nil
		}
		c.log.Warn("hub error", "error", e.Error)
	}
	return nil
}

func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec != nil
}

// Reconciler exposes the replica for reads. Nil before the first keyframe.
func (c *Client) Reconciler() *reconcile.Reconciler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec
}

func (c *Client) Control() protocol.Control {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.control
}
