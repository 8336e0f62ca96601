package dualwrite

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutor-realtime/internal/aggregate"
	"tutor-realtime/internal/events"
	"tutor-realtime/internal/livestore"
	"tutor-realtime/internal/models"
	"tutor-realtime/internal/repositories"
)

func TestReactionToggleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	post, err := f.c.CreatePost(ctx, staff(), PostInput{Title: "Poll"})
	require.NoError(t, err)
	p := post.ID()

	res, err := f.c.React(ctx, student("x"), p, "like")
	require.NoError(t, err)
	assert.Equal(t, aggregate.Added, res.Action)
	assert.Equal(t, []events.ReactionCount{{Type: "like", Count: 1}}, res.Reactions)

	res, err = f.c.React(ctx, student("y"), p, "like")
	require.NoError(t, err)
	assert.Equal(t, []events.ReactionCount{{Type: "like", Count: 2}}, res.Reactions)

	res, err = f.c.React(ctx, student("x"), p, "love")
	require.NoError(t, err)
	assert.Equal(t, aggregate.Switched, res.Action)
	assert.Equal(t, []events.ReactionCount{{Type: "like", Count: 1}, {Type: "love", Count: 1}}, res.Reactions)

	res, err = f.c.React(ctx, student("x"), p, "love")
	require.NoError(t, err)
	assert.Equal(t, aggregate.Removed, res.Action)
	assert.Equal(t, []events.ReactionCount{{Type: "like", Count: 1}}, res.Reactions)

	mine, err := f.shells.Find(ctx, models.ShellFilter{Kind: models.KindReaction, ParentID: p})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "y", mine[0].OwnerID)
	assert.Equal(t, "like", mine[0].Tag)

	updates := f.fanout.named(events.ReactionUpdated)
	require.Len(t, updates, 4)
	last := updates[3].Data.(events.ReactionUpdatedPayload)
	assert.Equal(t, events.PostRoom(p), updates[3].Target)
	assert.Nil(t, last.LatestReaction)
	added := updates[0].Data.(events.ReactionUpdatedPayload)
	assert.Equal(t, &events.LatestReaction{UserID: "x", Username: "xavier", ReactionType: "like"}, added.LatestReaction)

	list, err := f.c.Reactions(ctx, student("z"), p)
	require.NoError(t, err)
	assert.Equal(t, res.Reactions, list)
}

func TestReactRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	post, err := f.c.CreatePost(ctx, student("x"), PostInput{Title: "Pending"})
	require.NoError(t, err)

	_, err = f.c.React(ctx, student("y"), post.ID(), "meh")
	assert.True(t, errors.Is(err, ErrInvalid))
	_, err = f.c.React(ctx, student("y"), post.ID(), "like")
	assert.True(t, errors.Is(err, ErrForbidden))
	_, err = f.c.React(ctx, student("y"), "nope", "like")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRecomputeReactionsRepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	post, err := f.c.CreatePost(ctx, staff(), PostInput{Title: "Drift"})
	require.NoError(t, err)
	_, err = f.c.React(ctx, student("x"), post.ID(), "wow")
	require.NoError(t, err)
	require.NoError(t, f.live.Set(livestore.Join(aggregate.ReactionCountsPath(post.ID()), "wow"), 9))

	_, err = f.c.RecomputeReactions(ctx, student("x"), post.ID())
	assert.True(t, errors.Is(err, ErrForbidden))

	list, err := f.c.RecomputeReactions(ctx, staff(), post.ID())
	require.NoError(t, err)
	assert.Equal(t, []events.ReactionCount{{Type: "wow", Count: 1}}, list)
	counts, err := f.c.Reactions(ctx, student("y"), post.ID())
	require.NoError(t, err)
	assert.Equal(t, list, counts)
}

func TestModerateRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	post, err := f.c.CreatePost(ctx, student("x"), PostInput{Title: "Ad"})
	require.NoError(t, err)

	_, err = f.c.Moderate(ctx, student("y"), post.ID(), models.PostApproved, "")
	assert.True(t, errors.Is(err, ErrForbidden))
	_, err = f.c.Moderate(ctx, staff(), post.ID(), "archived", "")
	assert.True(t, errors.Is(err, ErrInvalid))

	ent, err := f.c.Moderate(ctx, staff(), post.ID(), models.PostRejected, "spam")
	require.NoError(t, err)
	assert.Equal(t, models.PostRejected, ent["status"])
	info, ok := ent["moderated_info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "spam", info["reason"])
	assert.Equal(t, "s1", info["moderated_by"])

	moderated := f.fanout.named(events.PostModerated)
	require.Len(t, moderated, 1)
	assert.Equal(t, events.PostModeratedPayload{
		PostID: post.ID(), Status: models.PostRejected, Reason: "spam",
		ModeratedBy: events.UserRef{ID: "s1", Username: "sam"},
	}, moderated[0].Data)

	notes, err := f.c.ListNotifications(ctx, student("x"), false, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "post_rejected", notes[0]["notification_type"])
	assert.Equal(t, post.ID(), notes[0]["reference_id"])
	unread, err := f.c.UnreadCount(ctx, student("x"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread)

	pushed := f.fanout.named(events.NotificationPost)
	require.Len(t, pushed, 1)
	assert.Equal(t, "x", pushed[0].Target)
	assert.Len(t, f.fanout.named(events.NotificationNew), 1)
}

func TestModerateApprovalDropsReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	post, err := f.c.CreatePost(ctx, student("x"), PostInput{Title: "Tips"})
	require.NoError(t, err)
	ent, err := f.c.Moderate(ctx, staff(), post.ID(), models.PostApproved, "looks fine")
	require.NoError(t, err)
	info := ent["moderated_info"].(map[string]any)
	_, hasReason := info["reason"]
	assert.False(t, hasReason)

	visible, err := f.c.ListPosts(ctx, student("y"), "", 0)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, post.ID(), visible[0].ID())
}

func TestListPostsByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.c.CreatePost(ctx, student("x"), PostInput{Title: "mine"})
	require.NoError(t, err)
	_, err = f.c.CreatePost(ctx, student("y"), PostInput{Title: "theirs"})
	require.NoError(t, err)

	own, err := f.c.ListPosts(ctx, student("x"), models.PostPending, 0)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "mine", own[0]["title"])

	all, err := f.c.ListPosts(ctx, staff(), models.PostPending, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.c.ListPosts(ctx, staff(), "weird", 0)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestRecordViewCountsOncePerViewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	post, err := f.c.CreatePost(ctx, staff(), PostInput{Title: "Lecture"})
	require.NoError(t, err)

	n, err := f.c.RecordView(ctx, student("x"), post.ID())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = f.c.RecordView(ctx, student("x"), post.ID())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = f.c.RecordView(ctx, student("y"), post.ID())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	views := f.fanout.named(events.PostViewUpdated)
	require.Len(t, views, 2)
	assert.Equal(t, events.PostViewPayload{
		PostID: post.ID(), ViewCount: 2,
		Viewer: events.UserRef{ID: "y", Username: "yara"},
	}, views[1].Data)

	pending, err := f.c.CreatePost(ctx, student("x"), PostInput{Title: "hidden"})
	require.NoError(t, err)
	_, err = f.c.RecordView(ctx, student("y"), pending.ID())
	assert.True(t, errors.Is(err, ErrForbidden))
}

func TestComments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	post, err := f.c.CreatePost(ctx, staff(), PostInput{Title: "Q&A"})
	require.NoError(t, err)

	_, err = f.c.CreateComment(ctx, student("x"), post.ID(), "")
	assert.True(t, errors.Is(err, ErrInvalid))

	comment, err := f.c.Create(ctx, student("x"), models.KindComment, post.ID(), map[string]any{"content": "first"})
	require.NoError(t, err)
	created := f.fanout.named(events.CommentCreated)
	require.Len(t, created, 1)
	payload := created[0].Data.(events.CommentCreatedPayload)
	assert.Equal(t, comment.ID(), payload.Comment.ID)
	assert.Equal(t, "xavier", payload.Comment.User.Username)

	_, err = f.c.UpdateComment(ctx, student("y"), comment.ID(), "mine now")
	assert.True(t, errors.Is(err, ErrForbidden))
	ent, err := f.c.UpdateComment(ctx, student("x"), comment.ID(), "first!")
	require.NoError(t, err)
	assert.Equal(t, "first!", ent["content"])
	assert.Len(t, f.fanout.named(events.CommentUpdated), 1)

	_, err = f.c.DeleteComment(ctx, staff(), comment.ID())
	require.NoError(t, err)
	deleted := f.fanout.named(events.CommentDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, events.CommentDeletedPayload{
		CommentID: comment.ID(), PostID: post.ID(),
		DeletedBy: events.UserRef{ID: "s1", Username: "sam"},
	}, deleted[0].Data)

	list, err := f.c.ListComments(ctx, student("y"), post.ID(), 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, true, list[0]["is_deleted"])
}

func TestNotificationsReadState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.c.CreateNotification(ctx, student("y"), NotificationInput{UserID: "x", Content: "hi"})
	assert.True(t, errors.Is(err, ErrForbidden))
	_, err = f.c.CreateNotification(ctx, staff(), NotificationInput{UserID: "ghost", Content: "hi"})
	assert.True(t, errors.Is(err, ErrInvalid))

	first, err := f.c.CreateNotification(ctx, staff(), NotificationInput{UserID: "x", Content: "class moved", Type: "class"})
	require.NoError(t, err)
	_, err = f.c.Create(ctx, staff(), models.KindNotification, "x", map[string]any{"content": "grade posted"})
	require.NoError(t, err)
	_, err = f.c.CreateNotification(ctx, staff(), NotificationInput{UserID: "x", Content: "new post"})
	require.NoError(t, err)

	pushed := f.fanout.named(events.NotificationNew)
	require.Len(t, pushed, 3)
	assert.EqualValues(t, 3, pushed[2].Data.(events.NotificationNewPayload).UnreadCount)

	_, err = f.c.MarkNotificationRead(ctx, student("y"), first.ID())
	assert.True(t, errors.Is(err, ErrForbidden))
	unread, err := f.c.MarkNotificationRead(ctx, student("x"), first.ID())
	require.NoError(t, err)
	assert.EqualValues(t, 2, unread)
	unread, err = f.c.MarkNotificationRead(ctx, student("x"), first.ID())
	require.NoError(t, err)
	assert.EqualValues(t, 2, unread)

	onlyUnread, err := f.c.ListNotifications(ctx, student("x"), true, 0)
	require.NoError(t, err)
	assert.Len(t, onlyUnread, 2)

	changed, err := f.c.MarkAllNotificationsRead(ctx, student("x"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, changed)
	unread, err = f.c.UnreadCount(ctx, student("x"))
	require.NoError(t, err)
	assert.EqualValues(t, 0, unread)

	all, err := f.c.ListNotifications(ctx, student("x"), false, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, n := range all {
		assert.Equal(t, true, n["is_read"])
		assert.Equal(t, models.StatusRead, n["status"])
	}
}

func TestGatekeeper(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.c.CreateConversation(ctx, student("x"), "y")
	require.NoError(t, err)
	pending, err := f.c.CreatePost(ctx, student("x"), PostInput{Title: "draft"})
	require.NoError(t, err)

	cases := []struct {
		user string
		room string
		want bool
	}{
		{"x", events.ConversationRoom(conv.ID()), true},
		{"y", events.ConversationRoom(conv.ID()), true},
		{"z", events.ConversationRoom(conv.ID()), false},
		{"x", events.PostRoom(pending.ID()), true},
		{"y", events.PostRoom(pending.ID()), false},
		{"s1", events.PostRoom(pending.ID()), true},
		{"x", events.PostRoom("missing"), false},
		{"z", events.ClassRoom("algebra"), true},
		{"x", "lobby", false},
	}
	for _, tc := range cases {
		ok, err := f.c.CanJoin(ctx, tc.user, tc.room)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "%s joining %s", tc.user, tc.room)
	}

	peer, err := f.c.TypingPeer(ctx, "y", conv.ID())
	require.NoError(t, err)
	assert.Equal(t, "x", peer)
	_, err = f.c.TypingPeer(ctx, "z", conv.ID())
	assert.True(t, errors.Is(err, ErrForbidden))
}

func TestRecomputeReactionsFlagsOrphanShells(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var logs bytes.Buffer
	f.rebuild(f.shells, zerolog.New(&logs))

	post, err := f.c.CreatePost(ctx, staff(), PostInput{Title: "Poll"})
	require.NoError(t, err)
	_, err = f.c.React(ctx, student("x"), post.ID(), "like")
	require.NoError(t, err)

	_, err = f.c.RecomputeReactions(ctx, staff(), post.ID())
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "reaction shells disagree")

	// A toggle whose payload write never landed.
	f.shells.put(models.Shell{ID: "orphan", Kind: models.KindReaction, ParentID: post.ID(), OwnerID: "y", Tag: "love"})

	list, err := f.c.RecomputeReactions(ctx, staff(), post.ID())
	require.NoError(t, err)
	assert.Equal(t, []events.ReactionCount{{Type: "like", Count: 1}}, list)
	assert.Contains(t, logs.String(), "reaction shells disagree with payloads")
	assert.Contains(t, logs.String(), `"love":1`)
}

// interleavingShells runs a hook right before UpdateMany reaches the table.
type interleavingShells struct {
	*memShells
	beforeUpdateMany func()
}

func (s *interleavingShells) UpdateMany(ctx context.Context, f models.ShellFilter, u repositories.ShellUpdate) (int64, error) {
	if hook := s.beforeUpdateMany; hook != nil {
		s.beforeUpdateMany = nil
		hook()
	}
	return s.memShells.UpdateMany(ctx, f, u)
}

func TestMarkAllReadSparesNotificationCreatedMeanwhile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shells := &interleavingShells{memShells: f.shells}
	f.rebuild(shells, zerolog.Nop())

	_, err := f.c.CreateNotification(ctx, staff(), NotificationInput{UserID: "x", Content: "first"})
	require.NoError(t, err)

	var late Entity
	shells.beforeUpdateMany = func() {
		n, err := f.c.CreateNotification(ctx, staff(), NotificationInput{UserID: "x", Content: "arrived late"})
		require.NoError(t, err)
		late = n
	}

	changed, err := f.c.MarkAllNotificationsRead(ctx, student("x"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, changed)
	require.NotNil(t, late)

	shell, err := f.shells.FindByID(ctx, late.ID())
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnread, shell.Status)
	ent, err := f.c.Read(ctx, student("x"), late.ID())
	require.NoError(t, err)
	assert.Equal(t, false, ent["is_read"])
	unread, err := f.c.UnreadCount(ctx, student("x"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread)

	unread, err = f.c.MarkNotificationRead(ctx, student("x"), late.ID())
	require.NoError(t, err)
	assert.EqualValues(t, 0, unread)
	ent, err = f.c.Read(ctx, student("x"), late.ID())
	require.NoError(t, err)
	assert.Equal(t, true, ent["is_read"])
}
