package dualwrite

import (
	"context"

	"tutor-realtime/internal/events"
	"tutor-realtime/internal/livestore"
	"tutor-realtime/internal/models"
)

// afterUpdate publishes the change and refreshes denormalized copies. Both
// halves are already written, so failures here are only logged.
func (c *Coordinator) afterUpdate(ctx context.Context, actor Actor, shell models.Shell, ent Entity) {
	switch shell.Kind {
	case models.KindMessage:
		c.refreshLastMessage(shell, ent.Str("content"))
		c.fanout.EmitToRoom(ctx, events.ConversationRoom(shell.ParentID), events.MessageUpdated, events.MessageChangedPayload{
			MessageID:      shell.ID,
			ConversationID: shell.ParentID,
			Content:        ent.Str("content"),
		})
	case models.KindPost:
		c.fanout.EmitToRoom(ctx, events.PostRoom(shell.ID), events.PostUpdated, events.PostUpdatedPayload{
			PostID:    shell.ID,
			Title:     ent.Str("title"),
			Content:   ent.Str("content"),
			Status:    ent.Str("status"),
			UpdatedBy: c.userRef(ctx, actor),
		})
	case models.KindComment:
		c.fanout.EmitToRoom(ctx, events.PostRoom(shell.ParentID), events.CommentUpdated, events.CommentUpdatedPayload{
			CommentID: shell.ID,
			PostID:    shell.ParentID,
			Content:   ent.Str("content"),
			UpdatedAt: c.now().UnixMilli(),
		})
	}
}

func (c *Coordinator) afterSoftDelete(ctx context.Context, actor Actor, shell models.Shell) {
	switch shell.Kind {
	case models.KindMessage:
		c.fanout.EmitToRoom(ctx, events.ConversationRoom(shell.ParentID), events.MessageDeleted, events.MessageChangedPayload{
			MessageID:      shell.ID,
			ConversationID: shell.ParentID,
			IsDeleted:      true,
		})
	case models.KindPost:
		c.fanout.Broadcast(ctx, events.PostDeleted, events.PostDeletedPayload{
			PostID:    shell.ID,
			DeletedBy: c.userRef(ctx, actor),
		})
	case models.KindComment:
		c.fanout.EmitToRoom(ctx, events.PostRoom(shell.ParentID), events.CommentDeleted, events.CommentDeletedPayload{
			CommentID: shell.ID,
			PostID:    shell.ParentID,
			DeletedBy: c.userRef(ctx, actor),
		})
	case models.KindNotification:
		if shell.Status == models.StatusUnread {
			if _, err := c.counters.IncrementUnread(ctx, shell.OwnerID, -1); err != nil {
				c.log.Error().Err(err).Str("user_id", shell.OwnerID).Msg("decrement unread counter")
			}
		}
	}
}

// refreshLastMessage rewrites the conversation preview when message is the
// latest one.
func (c *Coordinator) refreshLastMessage(message models.Shell, content string) {
	convPath := livestore.Join("conversations", message.ParentID)
	conv, err := c.live.GetMap(convPath)
	if err != nil {
		c.log.Warn().Err(err).Str("conversation_id", message.ParentID).Msg("read conversation preview")
		return
	}
	if str(conv, "last_message_id") != message.ID {
		return
	}
	if err := c.live.Update(convPath, map[string]any{"last_message": content}); err != nil {
		c.log.Error().Err(err).Str("conversation_id", message.ParentID).Msg("update conversation preview")
	}
}
