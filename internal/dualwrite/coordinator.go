// Package dualwrite keeps live-backed entities consistent across the durable
// store, which holds the queryable shell, and the realtime store, which holds
// the payload. Both halves share one id allocated by the realtime store.
package dualwrite

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tutor-realtime/internal/aggregate"
	"tutor-realtime/internal/events"
	"tutor-realtime/internal/livestore"
	"tutor-realtime/internal/models"
	"tutor-realtime/internal/observability"
	"tutor-realtime/internal/repositories"
	"tutor-realtime/internal/telemetry"
)

var tracer = observability.Tracer("tutor-realtime/dualwrite")

// LiveStore is the slice of the realtime store the coordinator writes to.
type LiveStore interface {
	PushChild(p string) (string, error)
	GetMap(p string) (map[string]any, error)
	Set(p string, value any) error
	Update(p string, partial map[string]any) error
	Remove(p string) error
}

// Fanout publishes room, user and global events.
type Fanout interface {
	EmitToRoom(ctx context.Context, room, event string, data any)
	EmitToUser(ctx context.Context, userID, event string, data any)
	Broadcast(ctx context.Context, event string, data any)
}

// FileRemover receives the attachment paths of hard deleted entities.
type FileRemover interface {
	RemoveFiles(ctx context.Context, paths []string) error
}

// NoopFiles drops every path.
type NoopFiles struct{}

func (NoopFiles) RemoveFiles(context.Context, []string) error { return nil }

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID   string
	Role     string
	Username string
	// RequestID is carried into audit records.
	RequestID string
}

// Privileged reports whether the actor may moderate.
func (a Actor) Privileged() bool { return models.Privileged(a.Role) }

// Entity is the merged view of shell and payload.
type Entity map[string]any

// ID returns the shared id.
func (e Entity) ID() string {
	id, _ := e["_id"].(string)
	return id
}

// Str returns a string field or "".
func (e Entity) Str(key string) string {
	s, _ := e[key].(string)
	return s
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Shells   repositories.ShellRepository
	Users    repositories.UserRepository
	Live     LiveStore
	Counters *aggregate.Maintainer
	Fanout   Fanout
	Files    FileRemover
	Audit    *telemetry.AuditEmitter
	Logger   zerolog.Logger
}

// Coordinator runs every mutation of live-backed entities: validate against
// the durable store, write the payload, write the shell, move derived
// counters, publish. Steps are not compensated when a later one fails.
type Coordinator struct {
	shells   repositories.ShellRepository
	users    repositories.UserRepository
	live     LiveStore
	counters *aggregate.Maintainer
	fanout   Fanout
	files    FileRemover
	audit    *telemetry.AuditEmitter
	log      zerolog.Logger
	now      func() time.Time
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(d Deps) *Coordinator {
	files := d.Files
	if files == nil {
		files = NoopFiles{}
	}
	return &Coordinator{
		shells:   d.Shells,
		users:    d.Users,
		live:     d.Live,
		counters: d.Counters,
		fanout:   d.Fanout,
		files:    files,
		audit:    d.Audit,
		log:      d.Logger,
		now:      time.Now,
	}
}

// draft is an entity about to be created.
type draft struct {
	kind     models.Kind
	ownerID  string
	parentID string
	peerID   string
	tag      string
	status   string
	payload  map[string]any
}

// Create dispatches a generic create to the kind's operation. parentID is
// the conversation of a message, the post of a comment, the peer of a
// conversation and the recipient of a notification.
func (c *Coordinator) Create(ctx context.Context, actor Actor, kind models.Kind, parentID string, content map[string]any) (Entity, error) {
	switch kind {
	case models.KindPost:
		return c.CreatePost(ctx, actor, PostInput{
			Title:       str(content, "title"),
			Content:     str(content, "content"),
			CategoryID:  str(content, "category_id"),
			Attachments: content["attachments"],
		})
	case models.KindComment:
		return c.CreateComment(ctx, actor, parentID, str(content, "content"))
	case models.KindMessage:
		return c.SendMessage(ctx, actor, parentID, str(content, "content"), content["attachment"])
	case models.KindConversation:
		return c.CreateConversation(ctx, actor, parentID)
	case models.KindNotification:
		return c.CreateNotification(ctx, actor, NotificationInput{
			UserID:        parentID,
			Content:       str(content, "content"),
			Type:          str(content, "notification_type"),
			ReferenceType: str(content, "reference_type"),
			ReferenceID:   str(content, "reference_id"),
		})
	case models.KindReaction:
		return nil, invalid("reactions are created by toggling")
	}
	return nil, invalid("unknown kind %q", kind)
}

// create allocates the shared id, writes the payload and then the shell.
func (c *Coordinator) create(ctx context.Context, op string, d draft) (Entity, models.Shell, error) {
	now := c.now()
	shell := models.Shell{
		Kind:      d.kind,
		OwnerID:   d.ownerID,
		ParentID:  d.parentID,
		PeerID:    d.peerID,
		Tag:       d.tag,
		Status:    d.status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	pol := policies[d.kind]
	id, err := c.live.PushChild(pol.container(shell))
	if err != nil {
		return nil, shell, errors.Wrap(err, "allocate id")
	}
	shell.ID = id

	payload := make(map[string]any, len(d.payload)+3)
	for k, v := range d.payload {
		payload[k] = v
	}
	payload["_id"] = id
	payload["is_deleted"] = false
	payload["created_at"] = livestore.ServerTimestamp
	if err := c.live.Set(pol.path(shell), payload); err != nil {
		return nil, shell, errors.Wrapf(err, "write %s payload", d.kind)
	}
	if err := c.shells.Insert(ctx, shell); err != nil {
		return nil, shell, c.partial(d.kind, op, "shell", id, err)
	}
	c.log.Debug().Str("kind", string(d.kind)).Str("id", id).Str("op", op).Msg("entity created")

	stored, err := c.live.GetMap(pol.path(shell))
	if err != nil {
		stored = payload
	}
	return merge(shell, stored), shell, nil
}

// Read returns the merged view of id. The shell is consulted first: without
// it the entity does not exist, whatever the realtime store holds.
func (c *Coordinator) Read(ctx context.Context, actor Actor, id string) (ent Entity, err error) {
	ctx, done := c.track(ctx, "", "read")
	defer done(&err)

	shell, err := c.shell(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if shell.IsDeleted && !policies[shell.Kind].tombstones {
		return nil, notFound("%s %s", shell.Kind, id)
	}
	if err := c.canView(ctx, actor, shell); err != nil {
		return nil, err
	}
	return c.load(shell)
}

// load reads the payload of shell and merges it.
func (c *Coordinator) load(shell models.Shell) (Entity, error) {
	payload, err := c.live.GetMap(payloadPath(shell))
	if errors.Is(err, livestore.ErrNotFound) {
		c.log.Warn().Str("kind", string(shell.Kind)).Str("id", shell.ID).Msg("shell without payload")
		return nil, notFound("%s %s payload", shell.Kind, shell.ID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s payload", shell.Kind)
	}
	return merge(shell, payload), nil
}

// Update merges patch into the payload of id. Only the kind's editable
// fields are accepted.
func (c *Coordinator) Update(ctx context.Context, actor Actor, id string, patch map[string]any) (Entity, error) {
	return c.updateKind(ctx, actor, id, "", patch)
}

func (c *Coordinator) updateKind(ctx context.Context, actor Actor, id string, kind models.Kind, patch map[string]any) (ent Entity, err error) {
	ctx, done := c.track(ctx, kind, "update")
	defer done(&err)

	shell, err := c.shell(ctx, id, kind)
	if err != nil {
		return nil, err
	}
	ent, err = c.update(ctx, actor, shell, patch)
	if err != nil {
		return nil, err
	}
	c.afterUpdate(ctx, actor, shell, ent)
	return ent, nil
}

func (c *Coordinator) update(ctx context.Context, actor Actor, shell models.Shell, patch map[string]any) (Entity, error) {
	if shell.IsDeleted {
		return nil, notFound("%s %s", shell.Kind, shell.ID)
	}
	pol := policies[shell.Kind]
	if len(patch) == 0 {
		return nil, invalid("empty update")
	}
	for k := range patch {
		if !pol.editable[k] {
			return nil, invalid("field %q of %s is not editable", k, shell.Kind)
		}
	}
	if shell.OwnerID != actor.UserID {
		return nil, forbidden("only the author can edit this %s", shell.Kind)
	}
	if _, err := c.activeUser(ctx, actor); err != nil {
		return nil, err
	}

	writes := make(map[string]any, len(patch)+3)
	for k, v := range patch {
		writes[k] = v
	}
	writes["is_edited"] = true
	writes["updated_at"] = livestore.ServerTimestamp

	// Every edit bumps the shell so the merged updated_at moves with it.
	shellUpdate := repositories.ShellUpdate{}
	switch shell.Kind {
	case models.KindMessage:
		current, err := c.live.GetMap(pol.path(shell))
		if err != nil && !errors.Is(err, livestore.ErrNotFound) {
			return nil, errors.Wrap(err, "read message")
		}
		if str(current, "content") == "" {
			return nil, invalid("attachment-only messages cannot be edited")
		}
		if s, _ := patch["content"].(string); s == "" {
			return nil, invalid("content is required")
		}
	case models.KindComment:
		if s, _ := patch["content"].(string); s == "" {
			return nil, invalid("content is required")
		}
	case models.KindPost:
		if t, ok := patch["title"]; ok {
			if s, _ := t.(string); s == "" {
				return nil, invalid("title is required")
			}
		}
		if actor.Role == models.RoleStudent && shell.Status == models.PostApproved {
			pending := models.PostPending
			shellUpdate.Status = &pending
			writes["status"] = pending
		}
	}

	if err := c.live.Update(pol.path(shell), writes); err != nil {
		return nil, errors.Wrapf(err, "write %s payload", shell.Kind)
	}
	shellUpdate.UpdatedAt = c.now()
	if err := c.shells.UpdateOne(ctx, shell.ID, shellUpdate); err != nil {
		return nil, c.partial(shell.Kind, "update", "shell", shell.ID, err)
	}
	return c.load(applyUpdate(shell, shellUpdate))
}

// SoftDelete clears the content fields of id and flags both halves deleted.
// The id mapping is kept.
func (c *Coordinator) SoftDelete(ctx context.Context, actor Actor, id string) (Entity, error) {
	return c.softDeleteKind(ctx, actor, id, "")
}

func (c *Coordinator) softDeleteKind(ctx context.Context, actor Actor, id string, kind models.Kind) (ent Entity, err error) {
	ctx, done := c.track(ctx, kind, "soft_delete")
	defer done(&err)

	shell, err := c.shell(ctx, id, kind)
	if err != nil {
		return nil, err
	}
	ent, err = c.softDelete(ctx, actor, shell)
	if err != nil {
		return nil, err
	}
	c.afterSoftDelete(ctx, actor, shell)
	return ent, nil
}

func (c *Coordinator) softDelete(ctx context.Context, actor Actor, shell models.Shell) (Entity, error) {
	if shell.IsDeleted {
		return nil, notFound("%s %s", shell.Kind, shell.ID)
	}
	if err := c.canModify(ctx, actor, shell); err != nil {
		return nil, err
	}
	pol := policies[shell.Kind]
	writes := map[string]any{
		"is_deleted": true,
		"deleted_at": livestore.ServerTimestamp,
		"deleted_by": actor.UserID,
	}
	for _, f := range pol.content {
		writes[f] = nil
	}
	if err := c.live.Update(pol.path(shell), writes); err != nil {
		return nil, errors.Wrapf(err, "write %s payload", shell.Kind)
	}
	deleted := true
	update := repositories.ShellUpdate{IsDeleted: &deleted, UpdatedAt: c.now()}
	if err := c.shells.UpdateOne(ctx, shell.ID, update); err != nil {
		return nil, c.partial(shell.Kind, "soft_delete", "shell", shell.ID, err)
	}
	return c.load(applyUpdate(shell, update))
}

// HardDelete removes both halves of id and hands attachment paths to the
// file remover. Posts and conversations take their realtime subtrees with
// them.
func (c *Coordinator) HardDelete(ctx context.Context, actor Actor, id string) ([]string, error) {
	return c.hardDelete(ctx, actor, id, "")
}

// HardDeletePost is HardDelete restricted to posts.
func (c *Coordinator) HardDeletePost(ctx context.Context, actor Actor, id string) ([]string, error) {
	return c.hardDelete(ctx, actor, id, models.KindPost)
}

func (c *Coordinator) hardDelete(ctx context.Context, actor Actor, id string, want models.Kind) (paths []string, err error) {
	ctx, done := c.track(ctx, want, "hard_delete")
	defer done(&err)

	shell, err := c.shell(ctx, id, want)
	if err != nil {
		return nil, err
	}
	if err := c.canModify(ctx, actor, shell); err != nil {
		return nil, err
	}
	pol := policies[shell.Kind]
	payload, err := c.live.GetMap(pol.path(shell))
	if err != nil && !errors.Is(err, livestore.ErrNotFound) {
		return nil, errors.Wrapf(err, "read %s payload", shell.Kind)
	}
	paths = attachmentPaths(payload)

	if err := c.shells.DeleteOne(ctx, shell.ID); err != nil {
		if errors.Is(err, repositories.ErrShellNotFound) {
			return nil, notFound("%s %s", shell.Kind, shell.ID)
		}
		return nil, errors.Wrapf(err, "delete %s shell", shell.Kind)
	}
	if err := c.live.Remove(pol.path(shell)); err != nil {
		return nil, c.partial(shell.Kind, "hard_delete", "payload", shell.ID, err)
	}
	for _, sub := range subtrees(shell) {
		if err := c.live.Remove(sub); err != nil {
			c.log.Error().Err(err).Str("path", sub).Msg("remove dependent subtree")
		}
	}
	c.releaseCounters(ctx, shell)
	if len(paths) > 0 {
		if err := c.files.RemoveFiles(ctx, paths); err != nil {
			c.log.Error().Err(err).Strs("paths", paths).Msg("remove attachments")
		}
	}
	c.auditAction(ctx, actor, "entity.hard_delete", "entity hard deleted", map[string]any{
		"kind": shell.Kind,
		"id":   shell.ID,
	})
	return paths, nil
}

// releaseCounters takes a removed entity out of the derived counters it was
// part of. Failures leave drift for the next recompute.
func (c *Coordinator) releaseCounters(ctx context.Context, shell models.Shell) {
	switch {
	case shell.Kind == models.KindReaction && !shell.IsDeleted && shell.Tag != "":
		plan := aggregate.Plan{Action: aggregate.Removed, Previous: shell.Tag, Deltas: map[string]int64{shell.Tag: -1}}
		if err := c.counters.ApplyPlan(ctx, shell.ParentID, plan); err != nil {
			c.log.Error().Err(err).Str("post_id", shell.ParentID).Msg("release reaction counter")
		}
	case shell.Kind == models.KindNotification && !shell.IsDeleted && shell.Status == models.StatusUnread:
		n, err := c.counters.IncrementUnread(ctx, shell.OwnerID, -1)
		if err != nil {
			c.log.Error().Err(err).Str("user_id", shell.OwnerID).Msg("release unread counter")
			return
		}
		if n < 0 {
			if _, err := c.counters.RecomputeUnread(ctx, shell.OwnerID); err != nil {
				c.log.Error().Err(err).Str("user_id", shell.OwnerID).Msg("recompute unread counter")
			}
		}
	}
}

// subtrees lists the realtime data that only exists for shell.
func subtrees(shell models.Shell) []string {
	switch shell.Kind {
	case models.KindPost:
		return []string{
			livestore.Join("comments", shell.ID),
			livestore.Join("reactions", shell.ID),
			aggregate.ReactionCountsPath(shell.ID),
			livestore.Join("post_views", shell.ID),
		}
	case models.KindConversation:
		return []string{livestore.Join("messages", shell.ID)}
	}
	return nil
}

func attachmentPaths(payload map[string]any) []string {
	var out []string
	add := func(v any) {
		if m, ok := v.(map[string]any); ok {
			if p, _ := m["file_path"].(string); p != "" {
				out = append(out, p)
			}
		}
	}
	add(payload["attachment"])
	switch list := payload["attachments"].(type) {
	case []any:
		for _, a := range list {
			add(a)
		}
	case map[string]any:
		for _, a := range list {
			add(a)
		}
	}
	return out
}

// shell loads id and checks its kind when want is set.
func (c *Coordinator) shell(ctx context.Context, id string, want models.Kind) (models.Shell, error) {
	if id == "" {
		return models.Shell{}, invalid("id is required")
	}
	shell, err := c.shells.FindByID(ctx, id)
	if errors.Is(err, repositories.ErrShellNotFound) {
		return models.Shell{}, notFound("entity %s", id)
	}
	if err != nil {
		return models.Shell{}, errors.Wrap(err, "load shell")
	}
	if want != "" && shell.Kind != want {
		return models.Shell{}, notFound("%s %s", want, id)
	}
	return shell, nil
}

// activeUser loads the actor and rejects blocked accounts.
func (c *Coordinator) activeUser(ctx context.Context, actor Actor) (models.User, error) {
	if actor.UserID == "" {
		return models.User{}, forbidden("anonymous actor")
	}
	user, err := c.users.FindByID(ctx, actor.UserID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.User{}, forbidden("unknown user %s", actor.UserID)
	}
	if err != nil {
		return models.User{}, errors.Wrap(err, "load actor")
	}
	if user.IsBlocked {
		return models.User{}, forbidden("user %s is blocked", actor.UserID)
	}
	return user, nil
}

// userRef names actor in event payloads, loading the username when the
// token did not carry one.
func (c *Coordinator) userRef(ctx context.Context, actor Actor) events.UserRef {
	ref := events.UserRef{ID: actor.UserID, Username: actor.Username}
	if ref.Username != "" {
		return ref
	}
	user, err := c.users.FindByID(ctx, actor.UserID)
	if err != nil {
		c.log.Debug().Err(err).Str("user_id", actor.UserID).Msg("resolve username")
		return ref
	}
	ref.Username = user.Username
	return ref
}

// canView checks read access to shell, following parents where the kind
// inherits visibility.
func (c *Coordinator) canView(ctx context.Context, actor Actor, shell models.Shell) error {
	switch shell.Kind {
	case models.KindConversation:
		if !shell.Involves(actor.UserID) {
			return forbidden("not a participant")
		}
	case models.KindMessage:
		conv, err := c.shell(ctx, shell.ParentID, models.KindConversation)
		if err != nil {
			return err
		}
		if !conv.Involves(actor.UserID) {
			return forbidden("not a participant")
		}
	case models.KindPost:
		if shell.Status != models.PostApproved && shell.OwnerID != actor.UserID && !actor.Privileged() {
			return forbidden("post is not published")
		}
	case models.KindComment, models.KindReaction:
		post, err := c.shell(ctx, shell.ParentID, models.KindPost)
		if err != nil {
			return err
		}
		if post.IsDeleted {
			return notFound("post %s", post.ID)
		}
		return c.canView(ctx, actor, post)
	case models.KindNotification:
		if shell.OwnerID != actor.UserID {
			return forbidden("not the recipient")
		}
	}
	return nil
}

// canModify checks delete access. Moderators may remove posts and comments
// of others.
func (c *Coordinator) canModify(ctx context.Context, actor Actor, shell models.Shell) error {
	if _, err := c.activeUser(ctx, actor); err != nil {
		return err
	}
	switch shell.Kind {
	case models.KindConversation:
		if shell.Involves(actor.UserID) {
			return nil
		}
	case models.KindPost, models.KindComment:
		if shell.OwnerID == actor.UserID || actor.Privileged() {
			return nil
		}
	default:
		if shell.OwnerID == actor.UserID {
			return nil
		}
	}
	return forbidden("not allowed to delete this %s", shell.Kind)
}

// partial records a dual write that left only the payload behind.
func (c *Coordinator) partial(kind models.Kind, op, stage, id string, cause error) error {
	observability.IncDualWriteFault(string(kind), op, stage)
	c.log.Error().Err(cause).
		Str("kind", string(kind)).
		Str("op", op).
		Str("stage", stage).
		Str("id", id).
		Msg("partial dual write")
	return errors.Wrapf(ErrPartialWrite, "%s %s %s: %v", op, kind, id, cause)
}

// track opens a span for op and counts its outcome when the returned func
// runs.
func (c *Coordinator) track(ctx context.Context, kind models.Kind, op string) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, "dualwrite."+op, trace.WithAttributes(attribute.String("kind", string(kind))))
	return ctx, func(errp *error) {
		err := *errp
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		label := string(kind)
		if label == "" {
			label = "any"
		}
		observability.IncDualWrite(label, op, outcomeOf(err))
		span.End()
	}
}

func (c *Coordinator) auditAction(ctx context.Context, actor Actor, action, text string, fields map[string]any) {
	uid := actor.UserID
	c.audit.EmitAction(ctx, "info", action, text, actor.RequestID, &uid, fields)
}

// merge overlays the shell-derived fields on the payload.
func merge(shell models.Shell, payload map[string]any) Entity {
	out := make(Entity, len(payload)+8)
	for k, v := range payload {
		out[k] = v
	}
	out["_id"] = shell.ID
	out["kind"] = string(shell.Kind)
	out["owner_id"] = shell.OwnerID
	if shell.ParentID != "" {
		out["parent_id"] = shell.ParentID
	}
	if shell.PeerID != "" {
		out["peer_id"] = shell.PeerID
	}
	if shell.Status != "" {
		out["status"] = shell.Status
	}
	out["is_deleted"] = shell.IsDeleted
	out["created_at"] = shell.CreatedAt.UnixMilli()
	out["updated_at"] = shell.UpdatedAt.UnixMilli()
	return out
}

func applyUpdate(shell models.Shell, u repositories.ShellUpdate) models.Shell {
	if u.Status != nil {
		shell.Status = *u.Status
	}
	if u.Tag != nil {
		shell.Tag = *u.Tag
	}
	if u.IsDeleted != nil {
		shell.IsDeleted = *u.IsDeleted
	}
	if !u.UpdatedAt.IsZero() {
		shell.UpdatedAt = u.UpdatedAt
	}
	return shell
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// loadAll merges the payloads of shells, skipping shells whose payload is
// gone.
func (c *Coordinator) loadAll(shells []models.Shell) ([]Entity, error) {
	out := make([]Entity, 0, len(shells))
	for _, s := range shells {
		ent, err := c.load(s)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, nil
}
