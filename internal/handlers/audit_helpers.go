package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tutor-realtime/internal/dualwrite"
	"tutor-realtime/internal/middleware"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if id := c.GetString(middleware.UserIDKey); id != "" {
		return &id
	}
	if header := c.GetHeader("X-User-ID"); header != "" {
		return &header
	}
	return nil
}

// actorFromContext builds the caller identity set by the auth middleware.
func actorFromContext(c *gin.Context) dualwrite.Actor {
	return dualwrite.Actor{
		UserID:    c.GetString(middleware.UserIDKey),
		Role:      c.GetString(middleware.RoleKey),
		Username:  c.GetString(middleware.UsernameKey),
		RequestID: requestIDFromContext(c),
	}
}

const maxLimit = 200

// limitParam reads ?limit=, defaulting to 50 and capped at maxLimit.
func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return 50
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
