package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"

	"tutor-realtime/internal/dualwrite"
	"tutor-realtime/internal/events"
	"tutor-realtime/internal/models"
)

type postServiceMock struct {
	mock.Mock
}

var _ PostService = (*postServiceMock)(nil)

func entity(args mock.Arguments) (dualwrite.Entity, error) {
	var ent dualwrite.Entity
	if v := args.Get(0); v != nil {
		ent = v.(dualwrite.Entity)
	}
	return ent, args.Error(1)
}

func entities(args mock.Arguments) ([]dualwrite.Entity, error) {
	var list []dualwrite.Entity
	if v := args.Get(0); v != nil {
		list = v.([]dualwrite.Entity)
	}
	return list, args.Error(1)
}

func counts(args mock.Arguments) ([]events.ReactionCount, error) {
	var list []events.ReactionCount
	if v := args.Get(0); v != nil {
		list = v.([]events.ReactionCount)
	}
	return list, args.Error(1)
}

func (m *postServiceMock) CreatePost(ctx context.Context, actor dualwrite.Actor, in dualwrite.PostInput) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, in))
}

func (m *postServiceMock) ListPosts(ctx context.Context, actor dualwrite.Actor, status string, limit int) ([]dualwrite.Entity, error) {
	return entities(m.Called(ctx, actor, status, limit))
}

func (m *postServiceMock) Read(ctx context.Context, actor dualwrite.Actor, id string) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, id))
}

func (m *postServiceMock) RecordView(ctx context.Context, actor dualwrite.Actor, id string) (int64, error) {
	args := m.Called(ctx, actor, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *postServiceMock) UpdatePost(ctx context.Context, actor dualwrite.Actor, id string, patch map[string]any) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, id, patch))
}

func (m *postServiceMock) DeletePost(ctx context.Context, actor dualwrite.Actor, id string) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, id))
}

func (m *postServiceMock) HardDeletePost(ctx context.Context, actor dualwrite.Actor, id string) ([]string, error) {
	args := m.Called(ctx, actor, id)
	var paths []string
	if v := args.Get(0); v != nil {
		paths = v.([]string)
	}
	return paths, args.Error(1)
}

func (m *postServiceMock) Moderate(ctx context.Context, actor dualwrite.Actor, id, status, reason string) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, id, status, reason))
}

func (m *postServiceMock) React(ctx context.Context, actor dualwrite.Actor, postID, reactionType string) (dualwrite.ReactionResult, error) {
	args := m.Called(ctx, actor, postID, reactionType)
	return args.Get(0).(dualwrite.ReactionResult), args.Error(1)
}

func (m *postServiceMock) Reactions(ctx context.Context, actor dualwrite.Actor, postID string) ([]events.ReactionCount, error) {
	return counts(m.Called(ctx, actor, postID))
}

func (m *postServiceMock) RecomputeReactions(ctx context.Context, actor dualwrite.Actor, postID string) ([]events.ReactionCount, error) {
	return counts(m.Called(ctx, actor, postID))
}

func (m *postServiceMock) CreateComment(ctx context.Context, actor dualwrite.Actor, postID, content string) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, postID, content))
}

func (m *postServiceMock) ListComments(ctx context.Context, actor dualwrite.Actor, postID string, limit int) ([]dualwrite.Entity, error) {
	return entities(m.Called(ctx, actor, postID, limit))
}

func (m *postServiceMock) UpdateComment(ctx context.Context, actor dualwrite.Actor, id, content string) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, id, content))
}

func (m *postServiceMock) DeleteComment(ctx context.Context, actor dualwrite.Actor, id string) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, id))
}

type chatServiceMock struct {
	mock.Mock
}

var _ ChatService = (*chatServiceMock)(nil)

func (m *chatServiceMock) CreateConversation(ctx context.Context, actor dualwrite.Actor, peerID string) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, peerID))
}

func (m *chatServiceMock) ListConversations(ctx context.Context, actor dualwrite.Actor, limit int) ([]dualwrite.Entity, error) {
	return entities(m.Called(ctx, actor, limit))
}

func (m *chatServiceMock) DeleteConversation(ctx context.Context, actor dualwrite.Actor, id string) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, id))
}

func (m *chatServiceMock) SendMessage(ctx context.Context, actor dualwrite.Actor, conversationID, content string, attachment any) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, conversationID, content, attachment))
}

func (m *chatServiceMock) ListMessages(ctx context.Context, actor dualwrite.Actor, conversationID string, limit int) ([]dualwrite.Entity, error) {
	return entities(m.Called(ctx, actor, conversationID, limit))
}

func (m *chatServiceMock) UpdateMessage(ctx context.Context, actor dualwrite.Actor, id, content string) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, id, content))
}

func (m *chatServiceMock) DeleteMessage(ctx context.Context, actor dualwrite.Actor, id string) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, id))
}

func (m *chatServiceMock) MarkMessageRead(ctx context.Context, actor dualwrite.Actor, id string) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, id))
}

type notificationServiceMock struct {
	mock.Mock
}

var _ NotificationService = (*notificationServiceMock)(nil)

func (m *notificationServiceMock) CreateNotification(ctx context.Context, actor dualwrite.Actor, in dualwrite.NotificationInput) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, in))
}

func (m *notificationServiceMock) ListNotifications(ctx context.Context, actor dualwrite.Actor, unreadOnly bool, limit int) ([]dualwrite.Entity, error) {
	return entities(m.Called(ctx, actor, unreadOnly, limit))
}

func (m *notificationServiceMock) MarkNotificationRead(ctx context.Context, actor dualwrite.Actor, id string) (int64, error) {
	args := m.Called(ctx, actor, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *notificationServiceMock) MarkAllNotificationsRead(ctx context.Context, actor dualwrite.Actor) (int64, error) {
	args := m.Called(ctx, actor)
	return args.Get(0).(int64), args.Error(1)
}

func (m *notificationServiceMock) UnreadCount(ctx context.Context, actor dualwrite.Actor) (int64, error) {
	args := m.Called(ctx, actor)
	return args.Get(0).(int64), args.Error(1)
}

func (m *notificationServiceMock) DeleteNotification(ctx context.Context, actor dualwrite.Actor, id string) (dualwrite.Entity, error) {
	return entity(m.Called(ctx, actor, id))
}

type presenceReaderMock struct {
	mock.Mock
}

func (m *presenceReaderMock) Status(ctx context.Context, userID string) (models.User, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *presenceReaderMock) OnlineUsers(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	var users []models.User
	if v := args.Get(0); v != nil {
		users = v.([]models.User)
	}
	return users, args.Error(1)
}

type roomEmitterMock struct {
	mock.Mock
}

func (m *roomEmitterMock) EmitToRoom(ctx context.Context, room, event string, data any) {
	m.Called(ctx, room, event, data)
}
