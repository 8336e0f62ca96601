// Package presence keeps the online/offline state of users. Transitions are
// driven by the connection registry: the first connection of a user flips
// them online, the last one leaving flips them offline.
package presence

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tutor-realtime/internal/events"
	"tutor-realtime/internal/livestore"
	"tutor-realtime/internal/models"
	"tutor-realtime/internal/observability"
	"tutor-realtime/internal/repositories"
)

// Transition triggers.
const (
	TriggerConnect    = "connect"
	TriggerDisconnect = "disconnect"
	TriggerStale      = "stale"
)

// Mirror is the realtime store surface used for presence records.
type Mirror interface {
	Set(p string, value any) error
	OnDisconnectSet(p string, value any) error
	CancelOnDisconnect(p string)
}

// Registry answers which users hold a local connection.
type Registry interface {
	IsOnline(userID string) bool
	OnlineUserIDs() []string
}

// Broadcaster publishes events to every connected client.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, data any)
}

// Tracker implements the presence state machine.
type Tracker struct {
	users    repositories.UserRepository
	mirror   Mirror
	registry Registry
	emitter  Broadcaster
	log      zerolog.Logger
	now      func() time.Time

	stripes [64]sync.Mutex

	mu     sync.Mutex
	online map[string]bool
}

// NewTracker builds a Tracker.
func NewTracker(users repositories.UserRepository, mirror Mirror, registry Registry, emitter Broadcaster, log zerolog.Logger) *Tracker {
	return &Tracker{
		users:    users,
		mirror:   mirror,
		registry: registry,
		emitter:  emitter,
		log:      log,
		now:      time.Now,
		online:   make(map[string]bool),
	}
}

// PresencePath is the realtime mirror of one user's presence.
func PresencePath(userID string) string { return livestore.Join("presence", userID) }

// UserConnected is called when userID gets their first local connection.
func (t *Tracker) UserConnected(ctx context.Context, userID string) {
	t.sync(ctx, userID, TriggerConnect)
}

// UserDisconnected is called after userID lost their last local connection.
func (t *Tracker) UserDisconnected(ctx context.Context, userID string) {
	t.sync(ctx, userID, TriggerDisconnect)
}

// IsOnline reports whether this process has published userID as online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[userID]
}

// sync compares the registry with the last published state under the user's
// stripe lock, so racing connects and disconnects settle on the registry's
// final answer and never publish the same state twice.
func (t *Tracker) sync(ctx context.Context, userID, trigger string) {
	lock := t.stripe(userID)
	lock.Lock()
	defer lock.Unlock()

	want := t.registry.IsOnline(userID)
	t.mu.Lock()
	current := t.online[userID]
	t.mu.Unlock()
	if want == current {
		return
	}

	status := models.Offline
	if want {
		status = models.Online
	}
	t.transition(ctx, userID, status, trigger)

	t.mu.Lock()
	if want {
		t.online[userID] = true
	} else {
		delete(t.online, userID)
	}
	t.mu.Unlock()
}

func (t *Tracker) transition(ctx context.Context, userID, status, trigger string) {
	now := t.now().UTC()
	log := t.log.With().Str("user_id", userID).Str("status", status).Str("trigger", trigger).Logger()

	user, err := t.users.FindByID(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Msg("load user for presence")
		user = models.User{ID: userID}
	}
	if err := t.users.SetPresence(ctx, userID, status, now); err != nil {
		log.Error().Err(err).Msg("write durable presence")
	}

	path := PresencePath(userID)
	if err := t.mirror.Set(path, presenceRecord(user, status)); err != nil {
		log.Error().Err(err).Msg("write presence mirror")
	}
	if status == models.Online {
		if err := t.mirror.OnDisconnectSet(path, presenceRecord(user, models.Offline)); err != nil {
			log.Warn().Err(err).Msg("arm presence on-disconnect")
		}
	} else {
		t.mirror.CancelOnDisconnect(path)
	}

	t.emitter.Broadcast(ctx, events.UserStatus, events.Status{
		UserID:   userID,
		Status:   status,
		Username: user.Username,
	})
	observability.IncPresenceTransition(status, trigger)
	log.Debug().Msg("presence transition")
}

func presenceRecord(user models.User, status string) map[string]any {
	return map[string]any{
		"status":     status,
		"lastActive": livestore.ServerTimestamp,
		"username":   user.Username,
		"first_name": user.FirstName,
		"last_name":  user.LastName,
		"avatar":     user.Avatar,
	}
}

func (t *Tracker) stripe(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &t.stripes[h.Sum32()%uint32(len(t.stripes))]
}

// Status returns the durable presence of userID, corrected by the local
// registry when this process holds a connection for them.
func (t *Tracker) Status(ctx context.Context, userID string) (models.User, error) {
	user, err := t.users.FindByID(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	if t.registry.IsOnline(userID) {
		user.Status = models.Online
	}
	return user, nil
}

// OnlineUsers lists users the durable store marks online.
func (t *Tracker) OnlineUsers(ctx context.Context) ([]models.User, error) {
	return t.users.ListOnline(ctx)
}
