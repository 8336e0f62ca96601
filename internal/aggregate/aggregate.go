// Package aggregate keeps derived counters (reaction tallies, post views,
// unread notifications) in the realtime store. Counters are caches: they are
// moved with atomic deltas and can always be rebuilt from the live records.
package aggregate

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"tutor-realtime/internal/events"
	"tutor-realtime/internal/livestore"
	"tutor-realtime/internal/observability"
)

// Store is the slice of the realtime store the maintainer needs.
type Store interface {
	Get(p string) (any, error)
	GetMap(p string) (map[string]any, error)
	Set(p string, value any) error
	Children(p string) ([]livestore.Child, error)
	Increment(p string, delta int64) (int64, error)
	ApplyDeltas(deltas map[string]int64) error
	Counter(p string) (int64, error)
}

// Maintainer owns every derived counter.
type Maintainer struct {
	store Store
	log   zerolog.Logger

	viewMu sync.Mutex
}

// NewMaintainer builds a Maintainer.
func NewMaintainer(store Store, log zerolog.Logger) *Maintainer {
	return &Maintainer{store: store, log: log}
}

// ReactionCountsPath is the counter set of one post.
func ReactionCountsPath(postID string) string { return livestore.Join("reaction_counts", postID) }

// UnreadPath is the unread notification counter of one user.
func UnreadPath(userID string) string { return livestore.Join("unread_counts", userID) }

// ViewCountPath is the view counter of one post.
func ViewCountPath(postID string) string { return livestore.Join("post_views", postID, "count") }

func viewerPath(postID, userID string) string {
	return livestore.Join("post_views", postID, "viewers", userID)
}

// ApplyDelta atomically moves one counter dimension of parentID.
func (m *Maintainer) ApplyDelta(ctx context.Context, parentID, dimension string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return m.store.Increment(livestore.Join("reaction_counts", parentID, dimension), delta)
}

// ApplyPlan applies every delta of a reaction plan in one atomic batch.
func (m *Maintainer) ApplyPlan(ctx context.Context, parentID string, plan Plan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(plan.Deltas) == 0 {
		return nil
	}
	deltas := make(map[string]int64, len(plan.Deltas))
	for dim, d := range plan.Deltas {
		deltas[livestore.Join("reaction_counts", parentID, dim)] = d
	}
	return m.store.ApplyDeltas(deltas)
}

// Counts returns the cached reaction counters of parentID. Zero and negative
// dimensions are omitted.
func (m *Maintainer) Counts(ctx context.Context, parentID string) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	children, err := m.store.Children(ReactionCountsPath(parentID))
	if err != nil {
		return nil, err
	}
	out := map[string]int64{}
	for _, child := range children {
		if n, ok := child.Value.(int64); ok && n > 0 {
			out[child.Key] = n
		}
	}
	return out, nil
}

// Recompute rebuilds the reaction counters of parentID from the live
// reaction records and overwrites the cache.
func (m *Maintainer) Recompute(ctx context.Context, parentID string) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	children, err := m.store.Children(livestore.Join("reactions", parentID))
	if err != nil {
		return nil, err
	}
	counts := map[string]int64{}
	for _, child := range children {
		rec, ok := child.Value.(map[string]any)
		if !ok || truthy(rec["is_deleted"]) {
			continue
		}
		if t, ok := rec["reaction_type"].(string); ok && ValidReaction(t) {
			counts[t]++
		}
	}

	cached, err := m.Counts(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if !equalCounts(cached, counts) {
		observability.IncCounterDrift("reactions")
		m.log.Info().Str("post_id", parentID).Interface("cached", cached).Interface("live", counts).Msg("reaction counters drifted")
	}

	value := make(map[string]any, len(counts))
	for k, v := range counts {
		value[k] = v
	}
	if err := m.store.Set(ReactionCountsPath(parentID), value); err != nil {
		return nil, errors.Wrap(err, "rewrite reaction counters")
	}
	return counts, nil
}

// IncrementUnread moves the unread counter of userID.
func (m *Maintainer) IncrementUnread(ctx context.Context, userID string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return m.store.Increment(UnreadPath(userID), delta)
}

// Unread reads the unread counter of userID, never below zero.
func (m *Maintainer) Unread(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := m.store.Counter(UnreadPath(userID))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// RecomputeUnread rebuilds the unread counter of userID from the stored
// notifications.
func (m *Maintainer) RecomputeUnread(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	children, err := m.store.Children(livestore.Join("notifications", userID))
	if err != nil {
		return 0, err
	}
	var unread int64
	for _, child := range children {
		rec, ok := child.Value.(map[string]any)
		if !ok || truthy(rec["is_deleted"]) || truthy(rec["is_read"]) {
			continue
		}
		unread++
	}
	if err := m.store.Set(UnreadPath(userID), unread); err != nil {
		return 0, errors.Wrap(err, "rewrite unread counter")
	}
	return unread, nil
}

// RecordView counts a view of postID by userID once per viewer. It returns
// the view count and whether this was the viewer's first view.
func (m *Maintainer) RecordView(ctx context.Context, postID, userID string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	m.viewMu.Lock()
	defer m.viewMu.Unlock()

	_, err := m.store.Get(viewerPath(postID, userID))
	if err == nil {
		n, err := m.store.Counter(ViewCountPath(postID))
		return n, false, err
	}
	if !errors.Is(err, livestore.ErrNotFound) {
		return 0, false, err
	}
	if err := m.store.Set(viewerPath(postID, userID), livestore.ServerTimestamp); err != nil {
		return 0, false, err
	}
	n, err := m.store.Increment(ViewCountPath(postID), 1)
	return n, true, err
}

// ReactionList renders counts in the reaction:updated shape, ordered by the
// canonical reaction order.
func ReactionList(counts map[string]int64) []events.ReactionCount {
	out := make([]events.ReactionCount, 0, len(counts))
	for t, n := range counts {
		if n > 0 {
			out = append(out, events.ReactionCount{Type: t, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return reactionRank(out[i].Type) < reactionRank(out[j].Type) })
	return out
}

func equalCounts(a, b map[string]int64) bool {
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	for k, v := range b {
		if a[k] != v {
			return false
		}
	}
	return true
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
