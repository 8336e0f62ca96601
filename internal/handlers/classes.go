package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tutor-realtime/internal/events"
)

// RoomEmitter publishes to a room.
type RoomEmitter interface {
	EmitToRoom(ctx context.Context, room, event string, data any)
}

// ClassEventHandler lets the class, attendance and enrollment services push
// their events to the class:{id} room.
type ClassEventHandler struct {
	emitter RoomEmitter
	log     zerolog.Logger
}

func NewClassEventHandler(emitter RoomEmitter, log zerolog.Logger) *ClassEventHandler {
	return &ClassEventHandler{emitter: emitter, log: log}
}

// Register mounts the relay route on r.
func (h *ClassEventHandler) Register(r gin.IRouter) {
	r.POST("/classes/:class_id/events", h.Relay)
}

// Relay forwards one catalogued class event. Only staff roles may publish.
func (h *ClassEventHandler) Relay(c *gin.Context) {
	actor := actorFromContext(c)
	if !actor.Privileged() {
		c.JSON(http.StatusForbidden, gin.H{"error": "class events require a staff role"})
		return
	}
	var req struct {
		Event string          `json:"event" binding:"required"`
		Data  json.RawMessage `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !events.IsClassEvent(req.Event) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown class event " + req.Event})
		return
	}
	data := req.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	room := events.ClassRoom(c.Param("class_id"))
	h.emitter.EmitToRoom(c.Request.Context(), room, req.Event, data)
	h.log.Debug().Str("room", room).Str("event", req.Event).Str("request_id", requestIDFromContext(c)).Msg("class event relayed")
	c.JSON(http.StatusAccepted, gin.H{"room": room, "event": req.Event})
}
