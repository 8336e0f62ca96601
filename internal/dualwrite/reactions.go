package dualwrite

import (
	"context"

	"github.com/pkg/errors"

	"tutor-realtime/internal/aggregate"
	"tutor-realtime/internal/events"
	"tutor-realtime/internal/models"
	"tutor-realtime/internal/observability"
	"tutor-realtime/internal/repositories"
)

// ReactionResult is the outcome of a reaction toggle.
type ReactionResult struct {
	Action    aggregate.Action       `json:"action"`
	Type      string                 `json:"reaction_type,omitempty"`
	Reactions []events.ReactionCount `json:"reactions"`
}

// React toggles the actor's reaction on a post: a new type is added, the
// same type again removes it, another type replaces it.
func (c *Coordinator) React(ctx context.Context, actor Actor, postID, reactionType string) (res ReactionResult, err error) {
	ctx, done := c.track(ctx, models.KindReaction, "toggle")
	defer done(&err)

	if !aggregate.ValidReaction(reactionType) {
		return res, invalid("unknown reaction type %q", reactionType)
	}
	user, err := c.activeUser(ctx, actor)
	if err != nil {
		return res, err
	}
	if _, err := c.livePost(ctx, actor, postID); err != nil {
		return res, err
	}
	mine, err := c.shells.Find(ctx, models.ShellFilter{
		Kind:     models.KindReaction,
		ParentID: postID,
		OwnerID:  actor.UserID,
	})
	if err != nil {
		return res, errors.Wrap(err, "find reaction")
	}

	var existing models.Shell
	if len(mine) > 0 {
		existing = mine[0]
	}
	plan := aggregate.PlanReaction(existing.Tag, reactionType)
	switch plan.Action {
	case aggregate.Added:
		_, _, err = c.create(ctx, "toggle", draft{
			kind:     models.KindReaction,
			ownerID:  actor.UserID,
			parentID: postID,
			tag:      reactionType,
			payload: map[string]any{
				"post_id":       postID,
				"user_id":       actor.UserID,
				"reaction_type": reactionType,
			},
		})
	case aggregate.Removed:
		err = c.removeReaction(ctx, existing)
	case aggregate.Switched:
		err = c.switchReaction(ctx, existing, reactionType)
	}
	if err != nil {
		return res, err
	}

	if err := c.counters.ApplyPlan(ctx, postID, plan); err != nil {
		c.log.Error().Err(err).Str("post_id", postID).Msg("apply reaction deltas")
	}
	counts, err := c.counters.Counts(ctx, postID)
	if err != nil {
		return res, errors.Wrap(err, "read reaction counts")
	}
	res = ReactionResult{Action: plan.Action, Type: plan.Current, Reactions: aggregate.ReactionList(counts)}

	payload := events.ReactionUpdatedPayload{PostID: postID, Reactions: res.Reactions}
	if plan.Action != aggregate.Removed {
		username := user.Username
		if username == "" {
			username = actor.Username
		}
		payload.LatestReaction = &events.LatestReaction{
			UserID:       actor.UserID,
			Username:     username,
			ReactionType: plan.Current,
		}
	}
	c.fanout.EmitToRoom(ctx, events.PostRoom(postID), events.ReactionUpdated, payload)
	return res, nil
}

// removeReaction drops the payload before the shell so a recompute never
// counts a reaction whose shell is gone.
func (c *Coordinator) removeReaction(ctx context.Context, r models.Shell) error {
	if err := c.live.Remove(payloadPath(r)); err != nil {
		return errors.Wrap(err, "remove reaction payload")
	}
	if err := c.shells.DeleteOne(ctx, r.ID); err != nil && !errors.Is(err, repositories.ErrShellNotFound) {
		return c.partial(models.KindReaction, "toggle", "shell", r.ID, err)
	}
	return nil
}

func (c *Coordinator) switchReaction(ctx context.Context, r models.Shell, reactionType string) error {
	if err := c.live.Update(payloadPath(r), map[string]any{"reaction_type": reactionType}); err != nil {
		return errors.Wrap(err, "write reaction payload")
	}
	update := repositories.ShellUpdate{Tag: &reactionType, UpdatedAt: c.now()}
	if err := c.shells.UpdateOne(ctx, r.ID, update); err != nil {
		return c.partial(models.KindReaction, "toggle", "shell", r.ID, err)
	}
	return nil
}

// Reactions returns the reaction tallies of a post.
func (c *Coordinator) Reactions(ctx context.Context, actor Actor, postID string) ([]events.ReactionCount, error) {
	if _, err := c.livePost(ctx, actor, postID); err != nil {
		return nil, err
	}
	counts, err := c.counters.Counts(ctx, postID)
	if err != nil {
		return nil, errors.Wrap(err, "read reaction counts")
	}
	return aggregate.ReactionList(counts), nil
}

// RecomputeReactions rebuilds the tallies of a post from its reactions and
// republishes them.
func (c *Coordinator) RecomputeReactions(ctx context.Context, actor Actor, postID string) (list []events.ReactionCount, err error) {
	ctx, done := c.track(ctx, models.KindReaction, "recompute")
	defer done(&err)

	if !actor.Privileged() {
		return nil, forbidden("recompute requires a staff role")
	}
	if _, err := c.shell(ctx, postID, models.KindPost); err != nil {
		return nil, err
	}
	counts, err := c.counters.Recompute(ctx, postID)
	if err != nil {
		return nil, errors.Wrap(err, "recompute reactions")
	}
	c.checkReactionShells(ctx, postID, counts)
	list = aggregate.ReactionList(counts)
	c.fanout.EmitToRoom(ctx, events.PostRoom(postID), events.ReactionUpdated, events.ReactionUpdatedPayload{
		PostID:    postID,
		Reactions: list,
	})
	return list, nil
}

// checkReactionShells compares the recomputed tallies with the reaction
// shells in Postgres. A mismatch means one half of a toggle never landed.
func (c *Coordinator) checkReactionShells(ctx context.Context, postID string, counts map[string]int64) {
	byTag, err := c.shells.Aggregate(ctx, models.ShellFilter{Kind: models.KindReaction, ParentID: postID}, "tag")
	if err != nil {
		c.log.Warn().Err(err).Str("post_id", postID).Msg("aggregate reaction shells")
		return
	}
	if sameTallies(byTag, counts) {
		return
	}
	observability.IncCounterDrift("reaction_shells")
	c.log.Warn().
		Str("post_id", postID).
		Interface("shells", byTag).
		Interface("payloads", counts).
		Msg("reaction shells disagree with payloads")
}

func sameTallies(a, b map[string]int64) bool {
	for k, v := range a {
		if v != b[k] {
			return false
		}
	}
	for k, v := range b {
		if v != a[k] {
			return false
		}
	}
	return true
}
