package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tutor-realtime/internal/dualwrite"
)

// NotificationService is the slice of the coordinator behind the
// notification endpoints.
type NotificationService interface {
	CreateNotification(ctx context.Context, actor dualwrite.Actor, in dualwrite.NotificationInput) (dualwrite.Entity, error)
	ListNotifications(ctx context.Context, actor dualwrite.Actor, unreadOnly bool, limit int) ([]dualwrite.Entity, error)
	MarkNotificationRead(ctx context.Context, actor dualwrite.Actor, id string) (int64, error)
	MarkAllNotificationsRead(ctx context.Context, actor dualwrite.Actor) (int64, error)
	UnreadCount(ctx context.Context, actor dualwrite.Actor) (int64, error)
	DeleteNotification(ctx context.Context, actor dualwrite.Actor, id string) (dualwrite.Entity, error)
}

type NotificationHandler struct {
	notes NotificationService
	log   zerolog.Logger
}

func NewNotificationHandler(notes NotificationService, log zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{notes: notes, log: log}
}

// Register mounts the notification routes on r.
func (h *NotificationHandler) Register(r gin.IRouter) {
	r.GET("/notifications", h.List)
	r.POST("/notifications", h.Create)
	r.GET("/notifications/unread-count", h.UnreadCount)
	r.POST("/notifications/read-all", h.MarkAllRead)
	r.POST("/notifications/:id/read", h.MarkRead)
	r.DELETE("/notifications/:id", h.Delete)
}

// List returns the caller's notifications; ?unread=true filters.
func (h *NotificationHandler) List(c *gin.Context) {
	actor := actorFromContext(c)
	notes, err := h.notes.ListNotifications(c.Request.Context(), actor, c.Query("unread") == "true", limitParam(c))
	if err != nil {
		respondError(c, h.log, err, "failed to load notifications")
		return
	}
	unread, err := h.notes.UnreadCount(c.Request.Context(), actor)
	if err != nil {
		respondError(c, h.log, err, "failed to load unread count")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notes, "unread_count": unread})
}

// Create stores a notification for user_id.
func (h *NotificationHandler) Create(c *gin.Context) {
	var req struct {
		UserID           string `json:"user_id" binding:"required"`
		Content          string `json:"content" binding:"required"`
		NotificationType string `json:"notification_type"`
		ReferenceType    string `json:"reference_type"`
		ReferenceID      string `json:"reference_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	note, err := h.notes.CreateNotification(c.Request.Context(), actorFromContext(c), dualwrite.NotificationInput{
		UserID:        req.UserID,
		Content:       req.Content,
		Type:          req.NotificationType,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
	})
	if err != nil {
		respondError(c, h.log, err, "could not create notification")
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	n, err := h.notes.UnreadCount(c.Request.Context(), actorFromContext(c))
	if err != nil {
		respondError(c, h.log, err, "failed to load unread count")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": n})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	n, err := h.notes.MarkNotificationRead(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, "could not mark notification read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": n})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	changed, err := h.notes.MarkAllNotificationsRead(c.Request.Context(), actorFromContext(c))
	if err != nil {
		respondError(c, h.log, err, "could not mark notifications read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": changed, "unread_count": 0})
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	if _, err := h.notes.DeleteNotification(c.Request.Context(), actorFromContext(c), c.Param("id")); err != nil {
		respondError(c, h.log, err, "could not delete notification")
		return
	}
	c.Status(http.StatusNoContent)
}
