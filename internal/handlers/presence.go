package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"tutor-realtime/internal/models"
	"tutor-realtime/internal/repositories"
)

// PresenceReader answers presence queries.
type PresenceReader interface {
	Status(ctx context.Context, userID string) (models.User, error)
	OnlineUsers(ctx context.Context) ([]models.User, error)
}

type PresenceHandler struct {
	presence PresenceReader
	log      zerolog.Logger
}

func NewPresenceHandler(presence PresenceReader, log zerolog.Logger) *PresenceHandler {
	return &PresenceHandler{presence: presence, log: log}
}

// Register mounts the presence routes on r.
func (h *PresenceHandler) Register(r gin.IRouter) {
	r.GET("/presence/online", h.OnlineUsers)
	r.GET("/presence/:user_id", h.UserStatus)
}

// OnlineUsers lists users currently online.
func (h *PresenceHandler) OnlineUsers(c *gin.Context) {
	users, err := h.presence.OnlineUsers(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list online users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load online users"})
		return
	}
	if users == nil {
		users = []models.User{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// UserStatus returns the presence of one user.
func (h *PresenceHandler) UserStatus(c *gin.Context) {
	userID := c.Param("user_id")
	user, err := h.presence.Status(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.log.Error().Err(err).Str("user_id", userID).Msg("load presence")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load presence"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":     user.ID,
		"status":     user.Status,
		"lastActive": user.LastActive,
		"username":   user.Username,
	})
}
