// Package protocol is the websocket wire format shared by the hub and the client.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Scrimzay/rtsim/internal/types"
	"github.com/Scrimzay/rtsim/internal/world"
)

type MsgType string

// Server to client
const (
	TypeKeyframe MsgType = "keyframe"
	TypeDiff     MsgType = "diff"
	TypeControl  MsgType = "control"
	TypeError    MsgType = "error"
)

// Message is the envelope for everything the server sends.
type Message struct {
	Type    MsgType         `json:"type"`
	Tick    uint64          `json:"tick"`
	Payload json.RawMessage `json:"payload"`
}

// Control carries the hub's clock settings and which player the connection plays.
type Control struct {
	Player types.PlayerID `json:"player,omitempty"`
	Speed  float64        `json:"speed"`
	Paused bool           `json:"paused"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// Client to server
const (
	ActionIntent      = "intent"
	ActionSetSpeed    = "set_speed"
	ActionTogglePause = "toggle_pause"
)

type Action struct {
	Action     string        `json:"action"`
	Intent     *world.Intent `json:"intent,omitempty"`
	Multiplier float64       `json:"multiplier,omitempty"`
}

func Encode(t MsgType, tick uint64, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return json.Marshal(Message{Type: t, Tick: tick, Payload: raw})
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

func (m Message) Keyframe() (world.Snapshot, error) {
	var s world.Snapshot
	err := m.expect(TypeKeyframe, &s)
	return s, err
}

func (m Message) Diff() (world.Diff, error) {
	var d world.Diff
	err := m.expect(TypeDiff, &d)
	return d, err
}

func (m Message) Control() (Control, error) {
	var c Control
	err := m.expect(TypeControl, &c)
	return c, err
}

// Failure decodes an error message. Not named Error so Message stays out
// of the error interface.
func (m Message) Failure() (ErrorPayload, error) {
	var e ErrorPayload
	err := m.expect(TypeError, &e)
	return e, err
}

func (m Message) expect(t MsgType, v any) error {
	if m.Type != t {
		return fmt.Errorf("got %s message, want %s", m.Type, t)
	}
	return json.Unmarshal(m.Payload, v)
}
