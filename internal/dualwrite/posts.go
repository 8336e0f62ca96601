package dualwrite

import (
	"context"

	"github.com/pkg/errors"

	"tutor-realtime/internal/events"
	"tutor-realtime/internal/livestore"
	"tutor-realtime/internal/models"
	"tutor-realtime/internal/repositories"
)

// PostInput is the content of a new post.
type PostInput struct {
	Title       string
	Content     string
	CategoryID  string
	Attachments any
}

// CreatePost publishes a post. Posts of tutors and staff are approved right
// away, others wait for moderation and are announced with post:pending.
func (c *Coordinator) CreatePost(ctx context.Context, actor Actor, in PostInput) (ent Entity, err error) {
	ctx, done := c.track(ctx, models.KindPost, "create")
	defer done(&err)

	if in.Title == "" {
		return nil, invalid("title is required")
	}
	user, err := c.activeUser(ctx, actor)
	if err != nil {
		return nil, err
	}

	status := models.PostPending
	if actor.Privileged() {
		status = models.PostApproved
	}
	payload := map[string]any{
		"user_id":    actor.UserID,
		"title":      in.Title,
		"content":    in.Content,
		"status":     status,
		"view_count": 0,
		"is_edited":  false,
	}
	if in.CategoryID != "" {
		payload["category_id"] = in.CategoryID
	}
	if in.Attachments != nil {
		payload["attachments"] = in.Attachments
	}
	ent, shell, err := c.create(ctx, "create", draft{
		kind:    models.KindPost,
		ownerID: actor.UserID,
		status:  status,
		payload: payload,
	})
	if err != nil {
		return nil, err
	}

	if status == models.PostPending {
		c.fanout.Broadcast(ctx, events.PostPending, events.PostPendingPayload{
			PostID: shell.ID,
			Title:  in.Title,
			Author: events.UserRef{ID: actor.UserID, Username: user.Username},
		})
	}
	return ent, nil
}

// ListPosts returns posts with status. Only moderators may list posts that
// are not approved, except their authors listing their own.
func (c *Coordinator) ListPosts(ctx context.Context, actor Actor, status string, limit int) ([]Entity, error) {
	filter := models.ShellFilter{Kind: models.KindPost, Status: status, Limit: limit}
	switch status {
	case "":
		filter.Status = models.PostApproved
	case models.PostApproved:
	case models.PostPending, models.PostRejected:
		if !actor.Privileged() {
			filter.OwnerID = actor.UserID
		}
	default:
		return nil, invalid("unknown post status %q", status)
	}
	shells, err := c.shells.Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "find posts")
	}
	return c.loadAll(shells)
}

// UpdatePost edits a post of the actor.
func (c *Coordinator) UpdatePost(ctx context.Context, actor Actor, id string, patch map[string]any) (Entity, error) {
	return c.updateKind(ctx, actor, id, models.KindPost, patch)
}

// DeletePost soft deletes a post.
func (c *Coordinator) DeletePost(ctx context.Context, actor Actor, id string) (Entity, error) {
	return c.softDeleteKind(ctx, actor, id, models.KindPost)
}

// livePost loads a post that is not deleted and visible to the actor.
func (c *Coordinator) livePost(ctx context.Context, actor Actor, id string) (models.Shell, error) {
	post, err := c.shell(ctx, id, models.KindPost)
	if err != nil {
		return post, err
	}
	if post.IsDeleted {
		return post, notFound("post %s", id)
	}
	return post, c.canView(ctx, actor, post)
}

// Moderate sets the status of a post. The reason is kept only for
// rejections. The author is notified.
func (c *Coordinator) Moderate(ctx context.Context, actor Actor, id, status, reason string) (ent Entity, err error) {
	ctx, done := c.track(ctx, models.KindPost, "moderate")
	defer done(&err)

	if !actor.Privileged() {
		return nil, forbidden("moderation requires a staff role")
	}
	switch status {
	case models.PostApproved, models.PostRejected, models.PostPending:
	default:
		return nil, invalid("unknown post status %q", status)
	}
	if status != models.PostRejected {
		reason = ""
	}
	if _, err := c.activeUser(ctx, actor); err != nil {
		return nil, err
	}
	post, err := c.shell(ctx, id, models.KindPost)
	if err != nil {
		return nil, err
	}
	if post.IsDeleted {
		return nil, notFound("post %s", id)
	}

	info := map[string]any{
		"moderated_at": livestore.ServerTimestamp,
		"moderated_by": actor.UserID,
	}
	if reason != "" {
		info["reason"] = reason
	}
	if err := c.live.Update(payloadPath(post), map[string]any{
		"status":         status,
		"moderated_info": info,
	}); err != nil {
		return nil, errors.Wrap(err, "write post payload")
	}
	update := repositories.ShellUpdate{Status: &status, UpdatedAt: c.now()}
	if err := c.shells.UpdateOne(ctx, post.ID, update); err != nil {
		return nil, c.partial(models.KindPost, "moderate", "shell", post.ID, err)
	}
	post = applyUpdate(post, update)
	ent, err = c.load(post)
	if err != nil {
		return nil, err
	}

	c.fanout.Broadcast(ctx, events.PostModerated, events.PostModeratedPayload{
		PostID:      post.ID,
		Status:      status,
		Reason:      reason,
		ModeratedBy: c.userRef(ctx, actor),
	})
	c.notifyModeration(ctx, actor, post, ent.Str("title"), status, reason)
	c.auditAction(ctx, actor, "post.moderate", "post moderated", map[string]any{
		"post_id": post.ID,
		"status":  status,
		"reason":  reason,
	})
	return ent, nil
}

func (c *Coordinator) notifyModeration(ctx context.Context, actor Actor, post models.Shell, title, status, reason string) {
	if post.OwnerID == actor.UserID {
		return
	}
	text := "Your post \"" + title + "\" was " + status
	if reason != "" {
		text += ": " + reason
	}
	if _, err := c.notify(ctx, NotificationInput{
		UserID:        post.OwnerID,
		Content:       text,
		Type:          "post_" + status,
		ReferenceType: string(models.KindPost),
		ReferenceID:   post.ID,
	}); err != nil {
		c.log.Error().Err(err).Str("post_id", post.ID).Msg("notify post author")
	}
	c.fanout.EmitToUser(ctx, post.OwnerID, events.NotificationPost, events.NotificationPostPayload{
		Type:      "post_" + status,
		PostID:    post.ID,
		Title:     title,
		User:      c.userRef(ctx, actor),
		CreatedAt: c.now().UnixMilli(),
	})
}

// RecordView counts the actor's view of a post once and publishes the new
// count on the first view.
func (c *Coordinator) RecordView(ctx context.Context, actor Actor, id string) (n int64, err error) {
	ctx, done := c.track(ctx, models.KindPost, "view")
	defer done(&err)

	post, err := c.livePost(ctx, actor, id)
	if err != nil {
		return 0, err
	}
	n, first, err := c.counters.RecordView(ctx, post.ID, actor.UserID)
	if err != nil {
		return 0, errors.Wrap(err, "record view")
	}
	if !first {
		return n, nil
	}
	if err := c.live.Update(payloadPath(post), map[string]any{"view_count": n}); err != nil {
		c.log.Error().Err(err).Str("post_id", post.ID).Msg("copy view count")
	}
	c.fanout.EmitToRoom(ctx, events.PostRoom(post.ID), events.PostViewUpdated, events.PostViewPayload{
		PostID:    post.ID,
		ViewCount: n,
		Viewer:    c.userRef(ctx, actor),
	})
	return n, nil
}

// CreateComment adds a comment to a visible post.
func (c *Coordinator) CreateComment(ctx context.Context, actor Actor, postID, content string) (ent Entity, err error) {
	ctx, done := c.track(ctx, models.KindComment, "create")
	defer done(&err)

	if content == "" {
		return nil, invalid("content is required")
	}
	user, err := c.activeUser(ctx, actor)
	if err != nil {
		return nil, err
	}
	if _, err := c.livePost(ctx, actor, postID); err != nil {
		return nil, err
	}

	author := events.CommentUser{
		ID:        user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Avatar:    user.Avatar,
	}
	ent, shell, err := c.create(ctx, "create", draft{
		kind:     models.KindComment,
		ownerID:  actor.UserID,
		parentID: postID,
		status:   models.StatusActive,
		payload: map[string]any{
			"post_id":   postID,
			"user_id":   actor.UserID,
			"content":   content,
			"user":      author,
			"is_edited": false,
		},
	})
	if err != nil {
		return nil, err
	}
	c.fanout.EmitToRoom(ctx, events.PostRoom(postID), events.CommentCreated, events.CommentCreatedPayload{
		Comment: events.Comment{
			ID:        shell.ID,
			PostID:    postID,
			Content:   content,
			User:      author,
			CreatedAt: shell.CreatedAt.UnixMilli(),
		},
	})
	return ent, nil
}

// ListComments returns the comments of a post, tombstones included.
func (c *Coordinator) ListComments(ctx context.Context, actor Actor, postID string, limit int) ([]Entity, error) {
	if _, err := c.livePost(ctx, actor, postID); err != nil {
		return nil, err
	}
	shells, err := c.shells.Find(ctx, models.ShellFilter{
		Kind:           models.KindComment,
		ParentID:       postID,
		IncludeDeleted: true,
		Limit:          limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "find comments")
	}
	return c.loadAll(shells)
}

// UpdateComment edits the actor's comment.
func (c *Coordinator) UpdateComment(ctx context.Context, actor Actor, id, content string) (Entity, error) {
	return c.updateKind(ctx, actor, id, models.KindComment, map[string]any{"content": content})
}

// DeleteComment soft deletes a comment.
func (c *Coordinator) DeleteComment(ctx context.Context, actor Actor, id string) (Entity, error) {
	return c.softDeleteKind(ctx, actor, id, models.KindComment)
}
