package dualwrite

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"tutor-realtime/internal/events"
	"tutor-realtime/internal/livestore"
	"tutor-realtime/internal/models"
	"tutor-realtime/internal/repositories"
)

const attachmentPreview = "Sent an attachment"

// CreateConversation opens a direct conversation between the actor and
// peerID, or returns the one they already share.
func (c *Coordinator) CreateConversation(ctx context.Context, actor Actor, peerID string) (ent Entity, err error) {
	ctx, done := c.track(ctx, models.KindConversation, "create")
	defer done(&err)

	if peerID == "" {
		return nil, invalid("peer_id is required")
	}
	if peerID == actor.UserID {
		return nil, invalid("cannot open a conversation with yourself")
	}
	if _, err := c.activeUser(ctx, actor); err != nil {
		return nil, err
	}
	if _, err := c.users.FindByID(ctx, peerID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, invalid("unknown peer %s", peerID)
		}
		return nil, errors.Wrap(err, "load peer")
	}

	existing, err := c.shells.Find(ctx, models.ShellFilter{Kind: models.KindConversation, Participant: actor.UserID})
	if err != nil {
		return nil, errors.Wrap(err, "find conversations")
	}
	for _, s := range existing {
		if s.Involves(peerID) {
			return c.load(s)
		}
	}

	ent, _, err = c.create(ctx, "create", draft{
		kind:    models.KindConversation,
		ownerID: actor.UserID,
		peerID:  peerID,
		status:  models.StatusActive,
		payload: map[string]any{
			"user1_id":     actor.UserID,
			"user2_id":     peerID,
			"last_message": "",
		},
	})
	return ent, err
}

// ListConversations returns the actor's conversations, newest first.
func (c *Coordinator) ListConversations(ctx context.Context, actor Actor, limit int) ([]Entity, error) {
	shells, err := c.shells.Find(ctx, models.ShellFilter{
		Kind:        models.KindConversation,
		Participant: actor.UserID,
		Limit:       limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "find conversations")
	}
	return c.loadAll(shells)
}

// DeleteConversation soft deletes a conversation of the actor.
func (c *Coordinator) DeleteConversation(ctx context.Context, actor Actor, id string) (Entity, error) {
	return c.softDeleteKind(ctx, actor, id, models.KindConversation)
}

// conversation loads a live conversation the actor takes part in.
func (c *Coordinator) conversation(ctx context.Context, userID, id string) (models.Shell, error) {
	conv, err := c.shell(ctx, id, models.KindConversation)
	if err != nil {
		return conv, err
	}
	if conv.IsDeleted {
		return conv, notFound("conversation %s", id)
	}
	if !conv.Involves(userID) {
		return conv, forbidden("not a participant of conversation %s", id)
	}
	return conv, nil
}

// other returns the participant of conv that is not userID.
func other(conv models.Shell, userID string) string {
	if conv.OwnerID == userID {
		return conv.PeerID
	}
	return conv.OwnerID
}

// SendMessage stores a message and refreshes the conversation preview. A
// message needs content, an attachment or both.
func (c *Coordinator) SendMessage(ctx context.Context, actor Actor, conversationID, content string, attachment any) (ent Entity, err error) {
	ctx, done := c.track(ctx, models.KindMessage, "create")
	defer done(&err)

	if content == "" && attachment == nil {
		return nil, invalid("content or attachment is required")
	}
	if _, err := c.activeUser(ctx, actor); err != nil {
		return nil, err
	}
	conv, err := c.conversation(ctx, actor.UserID, conversationID)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"conversation_id": conversationID,
		"sender_id":       actor.UserID,
		"content":         content,
		"is_read":         false,
		"is_edited":       false,
	}
	if attachment != nil {
		payload["attachment"] = attachment
	}
	ent, shell, err := c.create(ctx, "create", draft{
		kind:     models.KindMessage,
		ownerID:  actor.UserID,
		parentID: conversationID,
		peerID:   other(conv, actor.UserID),
		status:   models.StatusSent,
		payload:  payload,
	})
	if err != nil {
		return nil, err
	}

	preview := content
	if preview == "" {
		preview = attachmentPreview
	}
	if err := c.live.Update(livestore.Join("conversations", conversationID), map[string]any{
		"last_message":    preview,
		"last_message_id": shell.ID,
		"last_message_at": livestore.ServerTimestamp,
	}); err != nil {
		c.log.Error().Err(err).Str("conversation_id", conversationID).Msg("update conversation preview")
	}

	c.fanout.EmitToRoom(ctx, events.ConversationRoom(conversationID), events.MessageSent, events.MessageSentPayload{
		Message: events.ChatMessage{
			ID:             shell.ID,
			ConversationID: conversationID,
			SenderID:       actor.UserID,
			Content:        content,
			Attachment:     attachment,
			CreatedAt:      shell.CreatedAt.UnixMilli(),
		},
	})
	return ent, nil
}

// ListMessages returns the messages of a conversation in send order.
// Deleted messages are kept as tombstones.
func (c *Coordinator) ListMessages(ctx context.Context, actor Actor, conversationID string, limit int) ([]Entity, error) {
	if _, err := c.conversation(ctx, actor.UserID, conversationID); err != nil {
		return nil, err
	}
	shells, err := c.shells.Find(ctx, models.ShellFilter{
		Kind:           models.KindMessage,
		ParentID:       conversationID,
		IncludeDeleted: true,
		Limit:          limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "find messages")
	}
	sort.SliceStable(shells, func(i, j int) bool {
		if !shells[i].CreatedAt.Equal(shells[j].CreatedAt) {
			return shells[i].CreatedAt.Before(shells[j].CreatedAt)
		}
		return shells[i].ID < shells[j].ID
	})
	return c.loadAll(shells)
}

// UpdateMessage edits the content of the actor's message.
func (c *Coordinator) UpdateMessage(ctx context.Context, actor Actor, id, content string) (Entity, error) {
	return c.updateKind(ctx, actor, id, models.KindMessage, map[string]any{"content": content})
}

// DeleteMessage soft deletes the actor's message.
func (c *Coordinator) DeleteMessage(ctx context.Context, actor Actor, id string) (Entity, error) {
	return c.softDeleteKind(ctx, actor, id, models.KindMessage)
}

// MarkMessageRead records that the recipient read a message. Reading an
// already read message changes nothing.
func (c *Coordinator) MarkMessageRead(ctx context.Context, actor Actor, id string) (ent Entity, err error) {
	ctx, done := c.track(ctx, models.KindMessage, "mark_read")
	defer done(&err)

	msg, err := c.shell(ctx, id, models.KindMessage)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, notFound("message %s", id)
	}
	if _, err := c.conversation(ctx, actor.UserID, msg.ParentID); err != nil {
		return nil, err
	}
	if msg.OwnerID == actor.UserID {
		return nil, invalid("cannot mark your own message as read")
	}
	if msg.Status == models.StatusRead {
		return c.load(msg)
	}

	if err := c.live.Update(payloadPath(msg), map[string]any{
		"is_read": true,
		"read_at": livestore.ServerTimestamp,
	}); err != nil {
		return nil, errors.Wrap(err, "write message payload")
	}
	read := models.StatusRead
	update := repositories.ShellUpdate{Status: &read, UpdatedAt: c.now()}
	if err := c.shells.UpdateOne(ctx, msg.ID, update); err != nil {
		return nil, c.partial(models.KindMessage, "mark_read", "shell", msg.ID, err)
	}
	msg = applyUpdate(msg, update)

	c.fanout.EmitToRoom(ctx, events.ConversationRoom(msg.ParentID), events.MessageRead, events.MessageReadPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ParentID,
		ReadBy:         actor.UserID,
		ReadAt:         msg.UpdatedAt.UnixMilli(),
	})
	return c.load(msg)
}
