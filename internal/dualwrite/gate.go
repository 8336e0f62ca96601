package dualwrite

import (
	"context"

	"github.com/pkg/errors"

	"tutor-realtime/internal/events"
)

// CanJoin reports whether userID may join room. Conversation rooms are open
// to participants, post rooms follow post visibility. Class membership is
// owned by the class services, so class rooms are open to any user.
func (c *Coordinator) CanJoin(ctx context.Context, userID, room string) (bool, error) {
	kind, id, err := events.ParseRoom(room)
	if err != nil {
		return false, nil
	}
	switch kind {
	case events.RoomConversation:
		_, err = c.conversation(ctx, userID, id)
	case events.RoomPost:
		var actor Actor
		actor, err = c.actorFor(ctx, userID)
		if err == nil {
			_, err = c.livePost(ctx, actor, id)
		}
	case events.RoomClass:
		return true, nil
	}
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrInvalid) {
		return false, nil
	}
	return false, err
}

// TypingPeer returns the other participant of a conversation of userID.
func (c *Coordinator) TypingPeer(ctx context.Context, userID, conversationID string) (string, error) {
	conv, err := c.conversation(ctx, userID, conversationID)
	if err != nil {
		return "", err
	}
	return other(conv, userID), nil
}

func (c *Coordinator) actorFor(ctx context.Context, userID string) (Actor, error) {
	user, err := c.activeUser(ctx, Actor{UserID: userID})
	if err != nil {
		return Actor{}, err
	}
	return Actor{UserID: userID, Role: user.Role, Username: user.Username}, nil
}
