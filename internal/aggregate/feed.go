package aggregate

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"tutor-realtime/internal/events"
	"tutor-realtime/internal/livestore"
)

// Watcher subscribes to realtime store paths.
type Watcher interface {
	Watch(p string, buffer int) (*livestore.Subscription, error)
}

// UserEmitter pushes an event to every connection of a user.
type UserEmitter interface {
	EmitToUser(ctx context.Context, userID, event string, data any)
}

// UnreadFeed pushes the unread counter of online users to their
// connections whenever it moves, from any process or device.
type UnreadFeed struct {
	store   Watcher
	emitter UserEmitter
	log     zerolog.Logger

	mu   sync.Mutex
	subs map[string]*livestore.Subscription
}

func NewUnreadFeed(store Watcher, emitter UserEmitter, log zerolog.Logger) *UnreadFeed {
	return &UnreadFeed{store: store, emitter: emitter, log: log, subs: map[string]*livestore.Subscription{}}
}

// UserConnected starts watching the user's counter. The current value is
// pushed right away.
func (f *UnreadFeed) UserConnected(_ context.Context, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[userID]; ok {
		return
	}
	sub, err := f.store.Watch(UnreadPath(userID), 4)
	if err != nil {
		f.log.Error().Err(err).Str("user_id", userID).Msg("watch unread counter")
		return
	}
	f.subs[userID] = sub
	go f.forward(userID, sub)
}

// UserDisconnected stops the user's feed.
func (f *UnreadFeed) UserDisconnected(_ context.Context, userID string) {
	f.mu.Lock()
	sub, ok := f.subs[userID]
	delete(f.subs, userID)
	f.mu.Unlock()
	if ok {
		sub.Cancel()
	}
}

func (f *UnreadFeed) forward(userID string, sub *livestore.Subscription) {
	last := int64(-1)
	for evt := range sub.C {
		n, _ := evt.Value.(int64)
		if n < 0 {
			n = 0
		}
		if n == last {
			continue
		}
		last = n
		f.emitter.EmitToUser(context.Background(), userID, events.NotificationUnread, events.UnreadCountPayload{UnreadCount: n})
	}
}
