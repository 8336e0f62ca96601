package dualwrite

import (
	"context"

	"github.com/pkg/errors"

	"tutor-realtime/internal/events"
	"tutor-realtime/internal/livestore"
	"tutor-realtime/internal/models"
	"tutor-realtime/internal/repositories"
)

// NotificationInput is a notification for UserID.
type NotificationInput struct {
	UserID        string
	Content       string
	Type          string
	ReferenceType string
	ReferenceID   string
}

// CreateNotification stores a notification on behalf of the actor. Only
// staff may notify other users.
func (c *Coordinator) CreateNotification(ctx context.Context, actor Actor, in NotificationInput) (Entity, error) {
	if in.UserID != actor.UserID && !actor.Privileged() {
		return nil, forbidden("cannot notify other users")
	}
	if _, err := c.activeUser(ctx, actor); err != nil {
		return nil, err
	}
	if _, err := c.users.FindByID(ctx, in.UserID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, invalid("unknown recipient %s", in.UserID)
		}
		return nil, errors.Wrap(err, "load recipient")
	}
	return c.notify(ctx, in)
}

// notify stores a notification, bumps the recipient's unread counter and
// pushes notification:new.
func (c *Coordinator) notify(ctx context.Context, in NotificationInput) (ent Entity, err error) {
	ctx, done := c.track(ctx, models.KindNotification, "create")
	defer done(&err)

	if in.UserID == "" {
		return nil, invalid("user_id is required")
	}
	if in.Content == "" {
		return nil, invalid("content is required")
	}
	if in.Type == "" {
		in.Type = "system"
	}
	payload := map[string]any{
		"user_id":           in.UserID,
		"content":           in.Content,
		"notification_type": in.Type,
		"is_read":           false,
	}
	if in.ReferenceType != "" {
		payload["reference_type"] = in.ReferenceType
		payload["reference_id"] = in.ReferenceID
	}
	ent, shell, err := c.create(ctx, "create", draft{
		kind:    models.KindNotification,
		ownerID: in.UserID,
		tag:     in.Type,
		status:  models.StatusUnread,
		payload: payload,
	})
	if err != nil {
		return nil, err
	}

	unread, err := c.counters.IncrementUnread(ctx, in.UserID, 1)
	if err != nil {
		c.log.Error().Err(err).Str("user_id", in.UserID).Msg("increment unread counter")
	}
	c.fanout.EmitToUser(ctx, in.UserID, events.NotificationNew, events.NotificationNewPayload{
		NotificationID: shell.ID,
		Type:           in.Type,
		Message:        in.Content,
		UnreadCount:    unread,
	})
	return ent, nil
}

// ListNotifications returns the actor's notifications, newest first.
func (c *Coordinator) ListNotifications(ctx context.Context, actor Actor, unreadOnly bool, limit int) ([]Entity, error) {
	filter := models.ShellFilter{Kind: models.KindNotification, OwnerID: actor.UserID, Limit: limit}
	if unreadOnly {
		filter.Status = models.StatusUnread
	}
	shells, err := c.shells.Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "find notifications")
	}
	return c.loadAll(shells)
}

// MarkNotificationRead marks one notification of the actor read and returns
// the remaining unread count.
func (c *Coordinator) MarkNotificationRead(ctx context.Context, actor Actor, id string) (unread int64, err error) {
	ctx, done := c.track(ctx, models.KindNotification, "mark_read")
	defer done(&err)

	n, err := c.shell(ctx, id, models.KindNotification)
	if err != nil {
		return 0, err
	}
	if n.IsDeleted {
		return 0, notFound("notification %s", id)
	}
	if n.OwnerID != actor.UserID {
		return 0, forbidden("not the recipient")
	}
	if n.Status == models.StatusRead {
		return c.counters.Unread(ctx, actor.UserID)
	}

	if err := c.live.Update(payloadPath(n), map[string]any{
		"is_read": true,
		"read_at": livestore.ServerTimestamp,
	}); err != nil {
		return 0, errors.Wrap(err, "write notification payload")
	}
	read := models.StatusRead
	if err := c.shells.UpdateOne(ctx, n.ID, repositories.ShellUpdate{Status: &read, UpdatedAt: c.now()}); err != nil {
		return 0, c.partial(models.KindNotification, "mark_read", "shell", n.ID, err)
	}
	unread, err = c.counters.IncrementUnread(ctx, actor.UserID, -1)
	if err != nil {
		return 0, errors.Wrap(err, "decrement unread counter")
	}
	if unread < 0 {
		return c.counters.RecomputeUnread(ctx, actor.UserID)
	}
	return unread, nil
}

// MarkAllNotificationsRead marks every unread notification of the actor
// read in one realtime batch, then rebuilds the unread counter. It returns
// how many notifications changed.
func (c *Coordinator) MarkAllNotificationsRead(ctx context.Context, actor Actor) (changed int64, err error) {
	ctx, done := c.track(ctx, models.KindNotification, "mark_all_read")
	defer done(&err)

	filter := models.ShellFilter{Kind: models.KindNotification, OwnerID: actor.UserID, Status: models.StatusUnread}
	unread, err := c.shells.Find(ctx, filter)
	if err != nil {
		return 0, errors.Wrap(err, "find unread notifications")
	}
	if len(unread) > 0 {
		writes := make(map[string]any, 2*len(unread))
		ids := make([]string, 0, len(unread))
		for _, n := range unread {
			writes[livestore.Join(n.ID, "is_read")] = true
			writes[livestore.Join(n.ID, "read_at")] = livestore.ServerTimestamp
			ids = append(ids, n.ID)
		}
		if err := c.live.Update(livestore.Join("notifications", actor.UserID), writes); err != nil {
			return 0, errors.Wrap(err, "write notification payloads")
		}
		read := models.StatusRead
		// Only the shells whose payloads were flipped above; a notification
		// created since the read must stay unread in both halves.
		filter.IDs = ids
		changed, err = c.shells.UpdateMany(ctx, filter, repositories.ShellUpdate{Status: &read, UpdatedAt: c.now()})
		if err != nil {
			return 0, c.partial(models.KindNotification, "mark_all_read", "shell", actor.UserID, err)
		}
	}
	if _, err := c.counters.RecomputeUnread(ctx, actor.UserID); err != nil {
		return changed, errors.Wrap(err, "recompute unread counter")
	}
	return changed, nil
}

// UnreadCount returns the actor's unread notification counter.
func (c *Coordinator) UnreadCount(ctx context.Context, actor Actor) (int64, error) {
	return c.counters.Unread(ctx, actor.UserID)
}

// DeleteNotification soft deletes a notification of the actor.
func (c *Coordinator) DeleteNotification(ctx context.Context, actor Actor, id string) (Entity, error) {
	return c.softDeleteKind(ctx, actor, id, models.KindNotification)
}
