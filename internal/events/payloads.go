package events

// Status is the payload of user:status.
type Status struct {
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	Username string `json:"username"`
}

// Typing is the payload of user:typing.
type Typing struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// ChatMessage is the message object carried by message:sent.
type ChatMessage struct {
	ID             string `json:"_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	Attachment     any    `json:"attachment"`
	CreatedAt      int64  `json:"createdAt"`
}

// MessageSentPayload is the payload of message:sent.
type MessageSentPayload struct {
	Message ChatMessage `json:"message"`
}

// MessageReadPayload is the payload of message:read.
type MessageReadPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	ReadBy         string `json:"read_by"`
	ReadAt         int64  `json:"read_at"`
}

// MessageChangedPayload is the payload of message:updated and message:deleted.
type MessageChangedPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content,omitempty"`
	IsDeleted      bool   `json:"is_deleted"`
}

// UserRef identifies the user behind a board event.
type UserRef struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

// PostPendingPayload is the payload of post:pending.
type PostPendingPayload struct {
	PostID string  `json:"post_id"`
	Title  string  `json:"title"`
	Author UserRef `json:"author"`
}

// PostModeratedPayload is the payload of post:moderated.
type PostModeratedPayload struct {
	PostID      string  `json:"post_id"`
	Status      string  `json:"status"`
	Reason      string  `json:"reason"`
	ModeratedBy UserRef `json:"moderated_by"`
}

// PostUpdatedPayload is the payload of post:updated.
type PostUpdatedPayload struct {
	PostID    string  `json:"post_id"`
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	Status    string  `json:"status"`
	UpdatedBy UserRef `json:"updated_by"`
}

// PostDeletedPayload is the payload of post:deleted.
type PostDeletedPayload struct {
	PostID    string  `json:"post_id"`
	DeletedBy UserRef `json:"deleted_by"`
}

// PostViewPayload is the payload of post:view_updated.
type PostViewPayload struct {
	PostID    string  `json:"post_id"`
	ViewCount int64   `json:"view_count"`
	Viewer    UserRef `json:"viewer"`
}

// CommentUser is the author summary embedded in comment:created.
type CommentUser struct {
	ID        string `json:"_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar,omitempty"`
}

// Comment is the comment object carried by comment:created.
type Comment struct {
	ID        string      `json:"_id"`
	PostID    string      `json:"post_id"`
	Content   string      `json:"content"`
	User      CommentUser `json:"user"`
	CreatedAt int64       `json:"createdAt"`
}

// CommentCreatedPayload is the payload of comment:created.
type CommentCreatedPayload struct {
	Comment Comment `json:"comment"`
}

// CommentUpdatedPayload is the payload of comment:updated.
type CommentUpdatedPayload struct {
	CommentID string `json:"comment_id"`
	PostID    string `json:"post_id"`
	Content   string `json:"content"`
	UpdatedAt int64  `json:"updated_at"`
}

// CommentDeletedPayload is the payload of comment:deleted.
type CommentDeletedPayload struct {
	CommentID string  `json:"comment_id"`
	PostID    string  `json:"post_id"`
	DeletedBy UserRef `json:"deleted_by"`
}

// ReactionCount is one entry of reaction:updated reactions.
type ReactionCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// LatestReaction describes the change that produced a reaction:updated.
type LatestReaction struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	ReactionType string `json:"reaction_type"`
}

// ReactionUpdatedPayload is the payload of reaction:updated. LatestReaction
// is null when the change removed a reaction or came from a recompute.
type ReactionUpdatedPayload struct {
	PostID         string          `json:"post_id"`
	Reactions      []ReactionCount `json:"reactions"`
	LatestReaction *LatestReaction `json:"latest_reaction"`
}

// NotificationPostPayload is the payload of notification:post.
type NotificationPostPayload struct {
	Type      string  `json:"type"`
	PostID    string  `json:"post_id"`
	Title     string  `json:"title"`
	User      UserRef `json:"user"`
	CreatedAt int64   `json:"createdAt"`
}

// NotificationNewPayload is the payload of notification:new, sent to the
// recipient of a stored notification.
type NotificationNewPayload struct {
	NotificationID string `json:"notification_id"`
	Type           string `json:"type"`
	Message        string `json:"message"`
	UnreadCount    int64  `json:"unread_count"`
}

// UnreadCountPayload is the payload of notification:unread, pushed to a
// user whenever their unread counter moves.
type UnreadCountPayload struct {
	UnreadCount int64 `json:"unread_count"`
}
