package dualwrite

import (
	"tutor-realtime/internal/livestore"
	"tutor-realtime/internal/models"
)

// policy describes where a kind lives in the realtime store and which payload
// fields callers may touch.
type policy struct {
	// root is the realtime store root; container adds the parent segment
	// when nested.
	root     string
	nested   bool
	byOwner  bool
	editable map[string]bool
	// content fields are cleared by a soft delete.
	content []string
	// tombstones stay readable after a soft delete.
	tombstones bool
}

var policies = map[models.Kind]policy{
	models.KindConversation: {
		root:    "conversations",
		content: []string{"last_message"},
	},
	models.KindMessage: {
		root:       "messages",
		nested:     true,
		editable:   fields("content"),
		content:    []string{"content", "attachment"},
		tombstones: true,
	},
	models.KindPost: {
		root:     "posts",
		editable: fields("title", "content", "category_id"),
		content:  []string{"content", "attachments"},
	},
	models.KindComment: {
		root:       "comments",
		nested:     true,
		editable:   fields("content"),
		content:    []string{"content"},
		tombstones: true,
	},
	models.KindReaction: {
		root:   "reactions",
		nested: true,
	},
	models.KindNotification: {
		root:    "notifications",
		byOwner: true,
		content: []string{"content"},
	},
}

func fields(names ...string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// container is the realtime path that holds the kind's records for shell.
func (p policy) container(shell models.Shell) string {
	switch {
	case p.nested:
		return livestore.Join(p.root, shell.ParentID)
	case p.byOwner:
		return livestore.Join(p.root, shell.OwnerID)
	}
	return p.root
}

// path is the realtime path of shell's payload.
func (p policy) path(shell models.Shell) string {
	return livestore.Join(p.container(shell), shell.ID)
}

func payloadPath(shell models.Shell) string {
	return policies[shell.Kind].path(shell)
}
