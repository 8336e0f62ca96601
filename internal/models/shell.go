package models

import "time"

// Kind names a live-backed entity type. It is also the realtime store root
// for payloads of that kind.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindMessage      Kind = "message"
	KindPost         Kind = "post"
	KindComment      Kind = "comment"
	KindReaction     Kind = "reaction"
	KindNotification Kind = "notification"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindConversation, KindMessage, KindPost, KindComment, KindReaction, KindNotification:
		return true
	}
	return false
}

// Post moderation states.
const (
	PostPending  = "pending"
	PostApproved = "approved"
	PostRejected = "rejected"
)

// Message and notification read states.
const (
	StatusSent   = "sent"
	StatusRead   = "read"
	StatusUnread = "unread"
	StatusActive = "active"
)

// Shell is the durable reference record of a live-backed entity. Its ID is
// shared with the payload kept in the realtime store.
type Shell struct {
	ID        string    `db:"id" json:"id"`
	Kind      Kind      `db:"kind" json:"kind"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	ParentID  string    `db:"parent_id" json:"parent_id,omitempty"`
	PeerID    string    `db:"peer_id" json:"peer_id,omitempty"`
	Tag       string    `db:"tag" json:"tag,omitempty"`
	Status    string    `db:"status" json:"status"`
	IsDeleted bool      `db:"is_deleted" json:"is_deleted"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Involves reports whether userID owns the shell or is its peer.
func (s Shell) Involves(userID string) bool {
	return s.OwnerID == userID || (s.PeerID != "" && s.PeerID == userID)
}

// ShellFilter selects shells. Zero fields are ignored.
type ShellFilter struct {
	Kind           Kind
	OwnerID        string
	ParentID       string
	Participant    string
	Tag            string
	Status         string
	// IDs, when set, pins the filter to these shells.
	IDs            []string
	IncludeDeleted bool
	Limit          int
}
