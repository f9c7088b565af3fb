package server

import (
	"net/http"
	"strconv"

	"github.com/Scrimzay/rtsim/internal/types"
	"github.com/Scrimzay/rtsim/internal/world"
	"github.com/gin-gonic/gin"
)

// SetupRouter exposes the read-only query surface, intent submission and /ws.
func SetupRouter(hub *Hub) *gin.Engine {
	r := gin.Default()

	api := r.Group("/api")
	api.GET("/units", unitsHandler(hub))
	api.GET("/units/:id", unitHandler(hub))
	api.GET("/units/:id/reach", reachHandler(hub))
	api.GET("/buildings", buildingsHandler(hub))
	api.GET("/players", playersHandler(hub))
	api.GET("/players/:id/resources", resourcesHandler(hub))
	api.GET("/players/:id/techs", techsHandler(hub))
	api.GET("/players/:id/selection", selectionHandler(hub))
	api.GET("/map", mapHandler(hub))
	api.GET("/status", statusHandler(hub))
	api.GET("/digest", digestHandler(hub))
	api.POST("/intents", submitHandler(hub))
	api.GET("/intents/:opId", ackHandler(hub))

	r.GET("/ws", HandleWebsocket(hub))

	return r
}

func unitsHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.World().Units())
	}
}

func unitID(c *gin.Context) (types.EntityID, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad unit id"})
		return 0, false
	}
	return types.EntityID(id), true
}

func unitHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := unitID(c)
		if !ok {
			return
		}
		u, ok := hub.World().Unit(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown unit"})
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

// reachHandler serves the movement-range preview for one unit.
func reachHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := unitID(c)
		if !ok {
			return
		}
		tiles, ok := hub.World().ReachableTiles(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown unit"})
			return
		}
		c.JSON(http.StatusOK, tiles)
	}
}

func buildingsHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.World().Buildings())
	}
}

func playersHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.World().Players())
	}
}

func resourcesHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		bal, ok := hub.World().Resources(types.PlayerID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown player"})
			return
		}
		c.JSON(http.StatusOK, bal)
	}
}

func techsHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		techs, ok := hub.World().ResearchableTechs(types.PlayerID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown player"})
			return
		}
		if techs == nil {
			techs = []world.TechInfo{}
		}
		c.JSON(http.StatusOK, techs)
	}
}

func selectionHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		player := types.PlayerID(c.Param("id"))
		if _, ok := hub.World().Resources(player); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown player"})
			return
		}
		sel := hub.World().Selection(player)
		if sel == nil {
			sel = []types.EntityID{}
		}
		c.JSON(http.StatusOK, sel)
	}
}

func mapHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.World().Map())
	}
}

type statusResponse struct {
	world.Status
	Speed   float64 `json:"speed"`
	Paused  bool    `json:"paused"`
	Clients int     `json:"clients"`
}

func statusHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, statusResponse{
			Status:  hub.World().Status(),
			Speed:   hub.Speed(),
			Paused:  hub.Paused(),
			Clients: hub.Clients(),
		})
	}
}

func digestHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		w := hub.World()
		c.JSON(http.StatusOK, gin.H{
			"tick":   w.CurrentTick(),
			"digest": world.DigestHex(w.Digest()),
		})
	}
}

// intentTarget binds the issuing player from ?player=, the same way /ws does.
type intentTarget struct {
	Player types.PlayerID `form:"player" binding:"required,max=32"`
}

// intentRequest mirrors world.Intent with the checks a caller must pass
// before the intent is even staged. A body player, if given, must match the
// query.
type intentRequest struct {
	OpID   string           `json:"opId" binding:"required,max=64"`
	Player types.PlayerID   `json:"player" binding:"omitempty,max=32"`
	Type   world.IntentType `json:"type" binding:"required,oneof=moveUnits gatherAt createBuilding queueUnit cancelUnit researchTech activateAbility selectUnits"`

	Move     *world.MoveUnits       `json:"moveUnits"`
	Gather   *world.GatherAt        `json:"gatherAt"`
	Build    *world.CreateBuilding  `json:"createBuilding"`
	Train    *world.QueueUnit       `json:"queueUnit"`
	Cancel   *world.CancelUnit      `json:"cancelUnit"`
	Research *world.ResearchTech    `json:"researchTech"`
	Ability  *world.ActivateAbility `json:"activateAbility"`
	Select   *world.SelectUnits     `json:"selectUnits"`
}

func (r intentRequest) intent(player types.PlayerID) world.Intent {
	return world.Intent{
		OpID:     r.OpID,
		Player:   player,
		Type:     r.Type,
		Move:     r.Move,
		Gather:   r.Gather,
		Build:    r.Build,
		Train:    r.Train,
		Cancel:   r.Cancel,
		Research: r.Research,
		Ability:  r.Ability,
		Select:   r.Select,
	}
}

func submitHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var target intentTarget
		if err := c.ShouldBindQuery(&target); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, ok := hub.World().Resources(target.Player); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown player"})
			return
		}
		var req intentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Player != "" && req.Player != target.Player {
			c.JSON(http.StatusForbidden, gin.H{"error": "intent player does not match ?player"})
			return
		}
		hub.SubmitHTTP(req.intent(target.Player))
		c.JSON(http.StatusAccepted, gin.H{"opId": req.OpID, "tick": hub.World().CurrentTick()})
	}
}

func ackHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ack, ok := hub.Ack(c.Param("opId"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no ack for op, pending or unknown"})
			return
		}
		c.JSON(http.StatusOK, ack)
	}
}
