package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tutor-realtime/internal/dualwrite"
	"tutor-realtime/internal/events"
)

// PostService is the slice of the coordinator behind the post endpoints.
type PostService interface {
	CreatePost(ctx context.Context, actor dualwrite.Actor, in dualwrite.PostInput) (dualwrite.Entity, error)
	ListPosts(ctx context.Context, actor dualwrite.Actor, status string, limit int) ([]dualwrite.Entity, error)
	Read(ctx context.Context, actor dualwrite.Actor, id string) (dualwrite.Entity, error)
	RecordView(ctx context.Context, actor dualwrite.Actor, id string) (int64, error)
	UpdatePost(ctx context.Context, actor dualwrite.Actor, id string, patch map[string]any) (dualwrite.Entity, error)
	DeletePost(ctx context.Context, actor dualwrite.Actor, id string) (dualwrite.Entity, error)
	HardDeletePost(ctx context.Context, actor dualwrite.Actor, id string) ([]string, error)
	Moderate(ctx context.Context, actor dualwrite.Actor, id, status, reason string) (dualwrite.Entity, error)
	React(ctx context.Context, actor dualwrite.Actor, postID, reactionType string) (dualwrite.ReactionResult, error)
	Reactions(ctx context.Context, actor dualwrite.Actor, postID string) ([]events.ReactionCount, error)
	RecomputeReactions(ctx context.Context, actor dualwrite.Actor, postID string) ([]events.ReactionCount, error)
	CreateComment(ctx context.Context, actor dualwrite.Actor, postID, content string) (dualwrite.Entity, error)
	ListComments(ctx context.Context, actor dualwrite.Actor, postID string, limit int) ([]dualwrite.Entity, error)
	UpdateComment(ctx context.Context, actor dualwrite.Actor, id, content string) (dualwrite.Entity, error)
	DeleteComment(ctx context.Context, actor dualwrite.Actor, id string) (dualwrite.Entity, error)
}

// PostHandler serves the community board: posts, moderation, reactions
// and comments.
type PostHandler struct {
	posts PostService
	log   zerolog.Logger
}

// NewPostHandler builds a PostHandler.
func NewPostHandler(posts PostService, log zerolog.Logger) *PostHandler {
	return &PostHandler{posts: posts, log: log}
}

// Register mounts the post routes on r.
func (h *PostHandler) Register(r gin.IRouter) {
	r.POST("/posts", h.CreatePost)
	r.GET("/posts", h.ListPosts)
	r.GET("/posts/:id", h.GetPost)
	r.PUT("/posts/:id", h.UpdatePost)
	r.DELETE("/posts/:id", h.DeletePost)
	r.POST("/posts/:id/moderate", h.ModeratePost)
	r.POST("/posts/:id/reactions", h.React)
	r.GET("/posts/:id/reactions", h.ListReactions)
	r.POST("/posts/:id/reactions/recompute", h.RecomputeReactions)
	r.POST("/posts/:id/comments", h.CreateComment)
	r.GET("/posts/:id/comments", h.ListComments)
	r.PUT("/comments/:id", h.UpdateComment)
	r.DELETE("/comments/:id", h.DeleteComment)
}

// CreatePost stores a post; students' posts wait for moderation.
func (h *PostHandler) CreatePost(c *gin.Context) {
	var req struct {
		Title       string `json:"title" binding:"required"`
		Content     string `json:"content"`
		CategoryID  string `json:"category_id"`
		Attachments []any  `json:"attachments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := dualwrite.PostInput{Title: req.Title, Content: req.Content, CategoryID: req.CategoryID}
	if len(req.Attachments) > 0 {
		in.Attachments = req.Attachments
	}
	post, err := h.posts.CreatePost(c.Request.Context(), actorFromContext(c), in)
	if err != nil {
		respondError(c, h.log, err, "could not create post")
		return
	}
	c.JSON(http.StatusCreated, post)
}

// ListPosts lists posts by ?status=, approved by default.
func (h *PostHandler) ListPosts(c *gin.Context) {
	posts, err := h.posts.ListPosts(c.Request.Context(), actorFromContext(c), c.Query("status"), limitParam(c))
	if err != nil {
		respondError(c, h.log, err, "failed to load posts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

// GetPost returns a post and counts the caller's view.
func (h *PostHandler) GetPost(c *gin.Context) {
	actor := actorFromContext(c)
	post, err := h.posts.Read(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, "failed to load post")
		return
	}
	if post.Str("kind") != "post" {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	if !isTrue(post["is_deleted"]) {
		views, err := h.posts.RecordView(c.Request.Context(), actor, post.ID())
		if err != nil {
			h.log.Warn().Err(err).Str("post_id", post.ID()).Msg("record post view")
		} else {
			post["view_count"] = views
		}
	}
	c.JSON(http.StatusOK, post)
}

// UpdatePost edits title, content or category.
func (h *PostHandler) UpdatePost(c *gin.Context) {
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	post, err := h.posts.UpdatePost(c.Request.Context(), actorFromContext(c), c.Param("id"), patch)
	if err != nil {
		respondError(c, h.log, err, "could not update post")
		return
	}
	c.JSON(http.StatusOK, post)
}

// DeletePost soft deletes a post, or removes it for good with ?hard=true.
func (h *PostHandler) DeletePost(c *gin.Context) {
	actor := actorFromContext(c)
	if c.Query("hard") == "true" {
		if !actor.Privileged() {
			c.JSON(http.StatusForbidden, gin.H{"error": "hard delete requires a staff role"})
			return
		}
		paths, err := h.posts.HardDeletePost(c.Request.Context(), actor, c.Param("id"))
		if err != nil {
			respondError(c, h.log, err, "could not delete post")
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed_files": paths})
		return
	}
	if _, err := h.posts.DeletePost(c.Request.Context(), actor, c.Param("id")); err != nil {
		respondError(c, h.log, err, "could not delete post")
		return
	}
	c.Status(http.StatusNoContent)
}

// ModeratePost approves or rejects a post.
func (h *PostHandler) ModeratePost(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	post, err := h.posts.Moderate(c.Request.Context(), actorFromContext(c), c.Param("id"), req.Status, req.Reason)
	if err != nil {
		respondError(c, h.log, err, "could not moderate post")
		return
	}
	c.JSON(http.StatusOK, post)
}

// React toggles the caller's reaction.
func (h *PostHandler) React(c *gin.Context) {
	var req struct {
		ReactionType string `json:"reaction_type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.posts.React(c.Request.Context(), actorFromContext(c), c.Param("id"), req.ReactionType)
	if err != nil {
		respondError(c, h.log, err, "could not react")
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListReactions returns the reaction tallies of a post.
func (h *PostHandler) ListReactions(c *gin.Context) {
	list, err := h.posts.Reactions(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, "failed to load reactions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"post_id": c.Param("id"), "reactions": list})
}

// RecomputeReactions rebuilds the tallies from stored reactions.
func (h *PostHandler) RecomputeReactions(c *gin.Context) {
	list, err := h.posts.RecomputeReactions(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, "could not recompute reactions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"post_id": c.Param("id"), "reactions": list})
}

func (h *PostHandler) CreateComment(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	comment, err := h.posts.CreateComment(c.Request.Context(), actorFromContext(c), c.Param("id"), req.Content)
	if err != nil {
		respondError(c, h.log, err, "could not create comment")
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *PostHandler) ListComments(c *gin.Context) {
	comments, err := h.posts.ListComments(c.Request.Context(), actorFromContext(c), c.Param("id"), limitParam(c))
	if err != nil {
		respondError(c, h.log, err, "failed to load comments")
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

func (h *PostHandler) UpdateComment(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	comment, err := h.posts.UpdateComment(c.Request.Context(), actorFromContext(c), c.Param("id"), req.Content)
	if err != nil {
		respondError(c, h.log, err, "could not update comment")
		return
	}
	c.JSON(http.StatusOK, comment)
}

func (h *PostHandler) DeleteComment(c *gin.Context) {
	if _, err := h.posts.DeleteComment(c.Request.Context(), actorFromContext(c), c.Param("id")); err != nil {
		respondError(c, h.log, err, "could not delete comment")
		return
	}
	c.Status(http.StatusNoContent)
}

func isTrue(v any) bool {
	b, _ := v.(bool)
	return b
}
