package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tutor-realtime/internal/events"
	"tutor-realtime/internal/livestore"
	"tutor-realtime/internal/mocks"
	"tutor-realtime/internal/models"
	"tutor-realtime/internal/ws"
)

type recordingBroadcaster struct {
	mu       sync.Mutex
	statuses []events.Status
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := data.(events.Status); ok && event == events.UserStatus {
		r.statuses = append(r.statuses, s)
	}
}

type conn struct{ id, user string }

func (c conn) ID() string             { return c.id }
func (c conn) UserID() string         { return c.user }
func (c conn) Send(frame []byte) bool { return true }
func (c conn) Close()                 {}

type fixture struct {
	hub     *ws.Hub
	users   *mocks.UserRepositoryMock
	store   *livestore.Store
	emitter *recordingBroadcaster
	tracker *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := livestore.Open(livestore.Options{InMemory: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hub := ws.NewHub(zerolog.Nop())
	users := new(mocks.UserRepositoryMock)
	emitter := &recordingBroadcaster{}
	tracker := NewTracker(users, store, hub, emitter, zerolog.Nop())
	tracker.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	hub.SetLifecycle(tracker)
	return &fixture{hub: hub, users: users, store: store, emitter: emitter, tracker: tracker}
}

func TestMultiConnectionStability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.users.On("FindByID", mock.Anything, "U").Return(models.User{ID: "U", Username: "ulla"}, nil)
	f.users.On("SetPresence", mock.Anything, "U", models.Online, mock.Anything).Return(nil).Once()
	f.users.On("SetPresence", mock.Anything, "U", models.Offline, mock.Anything).Return(nil).Once()

	conns := []conn{{"c1", "U"}, {"c2", "U"}, {"c3", "U"}}
	for _, c := range conns {
		f.hub.Register(ctx, c)
	}
	f.hub.Unregister(ctx, conns[0])
	f.hub.Unregister(ctx, conns[1])

	mirror, err := f.store.GetMap(PresencePath("U"))
	require.NoError(t, err)
	assert.Equal(t, models.Online, mirror["status"])
	assert.True(t, f.tracker.IsOnline("U"))

	f.hub.Unregister(ctx, conns[2])
	mirror, err = f.store.GetMap(PresencePath("U"))
	require.NoError(t, err)
	assert.Equal(t, models.Offline, mirror["status"])

	assert.Equal(t, []events.Status{
		{UserID: "U", Status: models.Online, Username: "ulla"},
		{UserID: "U", Status: models.Offline, Username: "ulla"},
	}, f.emitter.statuses)
	f.users.AssertExpectations(t)
}

func TestOnlineArmsOnDisconnectAndShutdownFlipsMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.users.On("FindByID", mock.Anything, "U").Return(models.User{ID: "U", Username: "ulla"}, nil)
	f.users.On("SetPresence", mock.Anything, "U", models.Online, mock.Anything).Return(nil).Once()

	f.hub.Register(ctx, conn{"c1", "U"})
	assert.Equal(t, 1, f.store.PendingDisconnects())

	require.NoError(t, f.store.Disconnect())
	mirror, err := f.store.GetMap(PresencePath("U"))
	require.NoError(t, err)
	assert.Equal(t, models.Offline, mirror["status"])
	assert.Equal(t, "ulla", mirror["username"])
}

func TestOfflineCancelsOnDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.users.On("FindByID", mock.Anything, "U").Return(models.User{ID: "U"}, nil)
	f.users.On("SetPresence", mock.Anything, "U", mock.Anything, mock.Anything).Return(nil)

	c := conn{"c1", "U"}
	f.hub.Register(ctx, c)
	f.hub.Unregister(ctx, c)
	assert.Zero(t, f.store.PendingDisconnects())
}

func TestDurableFailureStillBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.users.On("FindByID", mock.Anything, "U").Return(nil, assert.AnError)
	f.users.On("SetPresence", mock.Anything, "U", models.Online, mock.Anything).Return(assert.AnError)

	f.hub.Register(ctx, conn{"c1", "U"})
	require.Len(t, f.emitter.statuses, 1)
	assert.Equal(t, models.Online, f.emitter.statuses[0].Status)
}

func TestConcurrentConnectDisconnectSettles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.users.On("FindByID", mock.Anything, "U").Return(models.User{ID: "U"}, nil)
	f.users.On("SetPresence", mock.Anything, "U", mock.Anything, mock.Anything).Return(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := conn{id: string(rune('a' + i)), user: "U"}
			f.hub.Register(ctx, c)
			f.hub.Unregister(ctx, c)
		}(i)
	}
	wg.Wait()

	assert.False(t, f.tracker.IsOnline("U"))
	statuses := f.emitter.statuses
	require.NotEmpty(t, statuses)
	assert.Equal(t, models.Offline, statuses[len(statuses)-1].Status)
	for i := 1; i < len(statuses); i++ {
		assert.NotEqual(t, statuses[i-1].Status, statuses[i].Status, "repeated transition")
	}
}

func TestSweepMarksStaleUsersOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.tracker.now()
	f.users.On("FindByID", mock.Anything, "L").Return(models.User{ID: "L"}, nil)
	f.users.On("SetPresence", mock.Anything, "L", models.Online, mock.Anything).Return(nil).Once()
	f.hub.Register(ctx, conn{"c1", "L"})

	f.users.On("Touch", mock.Anything, []string{"L"}, now).Return(nil).Once()
	f.users.On("FindStale", mock.Anything, now.Add(-3*time.Minute)).Return([]models.User{{ID: "L"}, {ID: "G", Username: "ghost"}}, nil).Once()
	f.users.On("FindByID", mock.Anything, "G").Return(models.User{ID: "G", Username: "ghost"}, nil)
	f.users.On("SetPresence", mock.Anything, "G", models.Offline, now).Return(nil).Once()

	marked, err := f.tracker.Sweep(ctx, 3*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	assert.Equal(t, events.Status{UserID: "G", Status: models.Offline, Username: "ghost"}, f.emitter.statuses[len(f.emitter.statuses)-1])
	f.users.AssertExpectations(t)
}

func TestStartSweeperRejectsBadCron(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.tracker.StartSweeper(context.Background(), "every minute", time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.NoError(t, f.tracker.StartSweeper(ctx, "* * * * *", time.Minute))
}

func TestStatusPrefersLocalRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.users.On("FindByID", mock.Anything, "U").Return(models.User{ID: "U", Status: models.Offline}, nil)
	f.users.On("SetPresence", mock.Anything, "U", models.Online, mock.Anything).Return(nil)
	f.hub.Register(ctx, conn{"c1", "U"})

	user, err := f.tracker.Status(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, models.Online, user.Status)
}
