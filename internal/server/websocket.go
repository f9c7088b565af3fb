package server

import (
	"encoding/json"
	"net/http"

	"github.com/Scrimzay/rtsim/internal/protocol"
	"github.com/Scrimzay/rtsim/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebsocket upgrades /ws?player=<id>. Without a player the connection
// only watches.
func HandleWebsocket(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		player := types.PlayerID(c.Query("player"))
		if player != "" {
			if _, ok := hub.World().Resources(player); !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown player"})
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Info("ws upgrade failed", "err", err)
			return
		}
		conn.SetReadLimit(maxMessageSize)

		sub := hub.NewSubscriber(conn, player)
		hub.Register(sub)
		defer hub.Unregister(sub)

		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}

			var a protocol.Action
			if err := json.Unmarshal(msg, &a); err != nil {
				hub.sendError(sub, "malformed action")
				continue
			}

			switch a.Action {
			case protocol.ActionIntent:
				if a.Intent == nil {
					hub.sendError(sub, "intent action without intent")
					continue
				}
				if sub.Player == "" {
					hub.sendError(sub, "spectators cannot issue intents")
					continue
				}
				in := *a.Intent
				in.Player = sub.Player
				hub.Submit(in, sub.limiter)

			case protocol.ActionSetSpeed:
				if a.Multiplier > 0 {
					hub.SetSpeed(a.Multiplier)
				}

			case protocol.ActionTogglePause:
				hub.TogglePause()

			default:
				hub.sendError(sub, "unknown action "+a.Action)
			}
		}
	}
}
