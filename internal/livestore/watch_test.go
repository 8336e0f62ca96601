package livestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case evt, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestWatchDeliversInitialAndChanges(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Set("posts/p1", map[string]any{"title": "a"}))

	sub, err := s.Watch("posts/p1", 4)
	require.NoError(t, err)
	defer sub.Cancel()

	first := nextEvent(t, sub)
	assert.True(t, first.Exists)
	assert.Equal(t, map[string]any{"title": "a"}, first.Value)

	require.NoError(t, s.Update("posts/p1", map[string]any{"title": "b"}))
	evt := nextEvent(t, sub)
	assert.Equal(t, map[string]any{"title": "b"}, evt.Value)

	require.NoError(t, s.Remove("posts/p1"))
	evt = nextEvent(t, sub)
	assert.False(t, evt.Exists)
}

func TestWatchIgnoresUnrelatedPaths(t *testing.T) {
	s := openTestStore(t)

	sub, err := s.Watch("posts/a", 4)
	require.NoError(t, err)
	defer sub.Cancel()
	nextEvent(t, sub)

	require.NoError(t, s.Set("posts/b", map[string]any{"title": "x"}))
	require.NoError(t, s.Set("posts/ab", 1))

	select {
	case evt := <-sub.C:
		t.Fatalf("unexpected event %+v", evt)
	default:
	}
}

func TestWatchSeesIncrements(t *testing.T) {
	s := openTestStore(t)

	sub, err := s.Watch("unread_counts/u1", 4)
	require.NoError(t, err)
	defer sub.Cancel()
	nextEvent(t, sub)

	_, err = s.Increment("unread_counts/u1", 2)
	require.NoError(t, err)
	evt := nextEvent(t, sub)
	assert.Equal(t, int64(2), evt.Value)
}

func TestCancelClosesChannel(t *testing.T) {
	s := openTestStore(t)

	sub, err := s.Watch("x", 1)
	require.NoError(t, err)
	nextEvent(t, sub)
	sub.Cancel()

	_, ok := <-sub.C
	assert.False(t, ok)
	sub.Cancel()
}

func TestWatchChurnUnderConcurrentWrites(t *testing.T) {
	s := openTestStore(t)
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := s.Increment("unread_counts/u1", 1); err != nil {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			sub, err := s.Watch("unread_counts/u1", 1)
			if err != nil {
				return
			}
			<-sub.C
			sub.Cancel()
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("watch churn stalled")
	}
	close(stop)
	<-writerDone
}

func TestWatchFirstEventIsCurrentValue(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Increment("unread_counts/u1", 3)
	require.NoError(t, err)

	sub, err := s.Watch("unread_counts/u1", 1)
	require.NoError(t, err)
	defer sub.Cancel()

	first := nextEvent(t, sub)
	assert.True(t, first.Exists)
	assert.Equal(t, int64(3), first.Value)
}

func TestOnDisconnectAppliedOnDisconnect(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set("presence/u1", map[string]any{"status": "online"}))
	require.NoError(t, s.OnDisconnectSet("presence/u1", map[string]any{"status": "offline", "lastActive": ServerTimestamp}))
	require.NoError(t, s.OnDisconnectSet("presence/u2", map[string]any{"status": "offline"}))
	s.CancelOnDisconnect("presence/u2")
	assert.Equal(t, 1, s.PendingDisconnects())

	require.NoError(t, s.Disconnect())
	assert.Zero(t, s.PendingDisconnects())

	got, err := s.GetMap("presence/u1")
	require.NoError(t, err)
	assert.Equal(t, "offline", got["status"])
	assert.Equal(t, int64(1700000000000), got["lastActive"])

	_, err = s.Get("presence/u2")
	assert.ErrorIs(t, err, ErrNotFound)
}
