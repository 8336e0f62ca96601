package presence

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/pkg/errors"

	"tutor-realtime/internal/models"
)

// Sweep refreshes last_active for users connected to this process and marks
// offline every online user whose heartbeat is older than staleAfter and who
// is not connected here. It bounds the staleness left by a crashed process.
func (t *Tracker) Sweep(ctx context.Context, staleAfter time.Duration) (int, error) {
	now := t.now().UTC()
	if err := t.users.Touch(ctx, t.registry.OnlineUserIDs(), now); err != nil {
		return 0, errors.Wrap(err, "heartbeat local users")
	}

	stale, err := t.users.FindStale(ctx, now.Add(-staleAfter))
	if err != nil {
		return 0, errors.Wrap(err, "find stale users")
	}
	marked := 0
	for _, user := range stale {
		if t.registry.IsOnline(user.ID) {
			continue
		}
		t.expire(ctx, user.ID)
		marked++
	}
	if marked > 0 {
		t.log.Info().Int("count", marked).Msg("stale presence marked offline")
	}
	return marked, nil
}

func (t *Tracker) expire(ctx context.Context, userID string) {
	lock := t.stripe(userID)
	lock.Lock()
	defer lock.Unlock()
	if t.registry.IsOnline(userID) {
		return
	}
	t.transition(ctx, userID, models.Offline, TriggerStale)
	t.mu.Lock()
	delete(t.online, userID)
	t.mu.Unlock()
}

// StartSweeper runs Sweep on the cron schedule until ctx is done.
func (t *Tracker) StartSweeper(ctx context.Context, cronExpr string, staleAfter time.Duration) error {
	if !gronx.IsValid(cronExpr) {
		return errors.Errorf("invalid presence sweep cron expression: %s", cronExpr)
	}
	t.log.Info().Str("cron", cronExpr).Dur("stale_after", staleAfter).Msg("presence sweeper started")
	go t.runSweeper(ctx, cronExpr, staleAfter)
	return nil
}

func (t *Tracker) runSweeper(ctx context.Context, cronExpr string, staleAfter time.Duration) {
	for {
		next, err := gronx.NextTickAfter(cronExpr, time.Now().UTC(), false)
		wait := time.Until(next)
		if err != nil {
			t.log.Error().Err(err).Str("cron", cronExpr).Msg("compute next sweep")
			wait = 30 * time.Second
		}

		select {
		case <-ctx.Done():
			t.log.Info().Msg("presence sweeper stopping")
			return
		case <-time.After(wait):
		}
		if err != nil {
			continue
		}
		if _, err := t.Sweep(ctx, staleAfter); err != nil {
			t.log.Error().Err(err).Msg("presence sweep failed")
		}
	}
}
