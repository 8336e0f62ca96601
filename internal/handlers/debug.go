package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tutor-realtime/internal/telemetry"
)

// DebugInfo reports live process state for the debug routes.
type DebugInfo interface {
	OnlineUserIDs() []string
	RoomSize(room string) int
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, info DebugInfo, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/connections", func(c *gin.Context) {
		users := info.OnlineUserIDs()
		resp := gin.H{"online_users": users, "count": len(users)}
		if room := c.Query("room"); room != "" {
			resp["room"] = room
			resp["room_size"] = info.RoomSize(room)
		}
		c.JSON(http.StatusOK, resp)
	})
}
