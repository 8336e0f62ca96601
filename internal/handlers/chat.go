package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tutor-realtime/internal/dualwrite"
)

// ChatService is the slice of the coordinator behind direct messaging.
type ChatService interface {
	CreateConversation(ctx context.Context, actor dualwrite.Actor, peerID string) (dualwrite.Entity, error)
	ListConversations(ctx context.Context, actor dualwrite.Actor, limit int) ([]dualwrite.Entity, error)
	DeleteConversation(ctx context.Context, actor dualwrite.Actor, id string) (dualwrite.Entity, error)
	SendMessage(ctx context.Context, actor dualwrite.Actor, conversationID, content string, attachment any) (dualwrite.Entity, error)
	ListMessages(ctx context.Context, actor dualwrite.Actor, conversationID string, limit int) ([]dualwrite.Entity, error)
	UpdateMessage(ctx context.Context, actor dualwrite.Actor, id, content string) (dualwrite.Entity, error)
	DeleteMessage(ctx context.Context, actor dualwrite.Actor, id string) (dualwrite.Entity, error)
	MarkMessageRead(ctx context.Context, actor dualwrite.Actor, id string) (dualwrite.Entity, error)
}

// ChatHandler manages direct conversations between two users.
type ChatHandler struct {
	chats ChatService
	log   zerolog.Logger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chats ChatService, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{chats: chats, log: log}
}

// Register mounts the conversation and message routes on r.
func (h *ChatHandler) Register(r gin.IRouter) {
	r.POST("/conversations", h.StartConversation)
	r.GET("/conversations", h.ListConversations)
	r.DELETE("/conversations/:id", h.DeleteConversation)
	r.GET("/conversations/:id/messages", h.ListMessages)
	r.POST("/conversations/:id/messages", h.SendMessage)
	r.PUT("/messages/:id", h.UpdateMessage)
	r.DELETE("/messages/:id", h.DeleteMessage)
	r.POST("/messages/:id/read", h.MarkRead)
}

// StartConversation creates or returns the conversation with a peer.
func (h *ChatHandler) StartConversation(c *gin.Context) {
	var req struct {
		PeerID string `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv, err := h.chats.CreateConversation(c.Request.Context(), actorFromContext(c), req.PeerID)
	if err != nil {
		respondError(c, h.log, err, "could not create conversation")
		return
	}
	c.JSON(http.StatusOK, conv)
}

// ListConversations returns the conversations of the caller.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	convs, err := h.chats.ListConversations(c.Request.Context(), actorFromContext(c), limitParam(c))
	if err != nil {
		respondError(c, h.log, err, "failed to load conversations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// DeleteConversation hides a conversation for both participants.
func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	if _, err := h.chats.DeleteConversation(c.Request.Context(), actorFromContext(c), c.Param("id")); err != nil {
		respondError(c, h.log, err, "could not delete conversation")
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMessages returns messages of a conversation in send order.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	msgs, err := h.chats.ListMessages(c.Request.Context(), actorFromContext(c), c.Param("id"), limitParam(c))
	if err != nil {
		respondError(c, h.log, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// SendMessage stores a message and publishes message:sent.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req struct {
		Content    string         `json:"content"`
		Attachment map[string]any `json:"attachment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var attachment any
	if len(req.Attachment) > 0 {
		attachment = req.Attachment
	}
	msg, err := h.chats.SendMessage(c.Request.Context(), actorFromContext(c), c.Param("id"), req.Content, attachment)
	if err != nil {
		respondError(c, h.log, err, "failed to store message")
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// UpdateMessage edits the content of the caller's message.
func (h *ChatHandler) UpdateMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := h.chats.UpdateMessage(c.Request.Context(), actorFromContext(c), c.Param("id"), req.Content)
	if err != nil {
		respondError(c, h.log, err, "could not update message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage replaces the caller's message with a tombstone.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	msg, err := h.chats.DeleteMessage(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, "could not delete message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// MarkRead records a read receipt.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	msg, err := h.chats.MarkMessageRead(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, "could not mark message read")
		return
	}
	c.JSON(http.StatusOK, msg)
}
