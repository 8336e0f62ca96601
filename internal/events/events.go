// Package events holds the wire catalog of realtime events. Names and field
// sets are a contract with existing clients.
package events

import (
	"fmt"
	"strings"
)

// Event names.
const (
	UserStatus           = "user:status"
	UserTyping           = "user:typing"
	MessageSent          = "message:sent"
	MessageRead          = "message:read"
	MessageUpdated       = "message:updated"
	MessageDeleted       = "message:deleted"
	PostPending          = "post:pending"
	PostModerated        = "post:moderated"
	PostUpdated          = "post:updated"
	PostDeleted          = "post:deleted"
	PostViewUpdated      = "post:view_updated"
	CommentCreated       = "comment:created"
	CommentUpdated       = "comment:updated"
	CommentDeleted       = "comment:deleted"
	ReactionUpdated      = "reaction:updated"
	NotificationPost     = "notification:post"
	NotificationNew      = "notification:new"
	NotificationUnread   = "notification:unread"
	AttendanceCreated    = "attendance:created"
	AttendanceUpdated    = "attendance:updated"
	AttendanceBulk       = "attendance:bulk_updated"
	EnrollmentCreated    = "enrollment:created"
	EnrollmentDeleted    = "enrollment:deleted"
	SubmissionCreated    = "submission:created"
	SubmissionGraded     = "submission:graded"
	ClassScheduleUpdated = "class:schedule_updated"
	ClassContentUpdated  = "class:content_updated"
)

// Room prefixes.
const (
	RoomConversation = "conversation"
	RoomPost         = "post"
	RoomClass        = "class"
)

// Room builds a room name of the form kind:id.
func Room(kind, id string) string {
	return kind + ":" + id
}

// ConversationRoom, PostRoom and ClassRoom name the three room families.
func ConversationRoom(id string) string { return Room(RoomConversation, id) }
func PostRoom(id string) string         { return Room(RoomPost, id) }
func ClassRoom(id string) string        { return Room(RoomClass, id) }

// ParseRoom splits a room name and checks its kind.
func ParseRoom(room string) (kind, id string, err error) {
	kind, id, ok := strings.Cut(room, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("malformed room %q", room)
	}
	switch kind {
	case RoomConversation, RoomPost, RoomClass:
		return kind, id, nil
	}
	return "", "", fmt.Errorf("unknown room kind %q", kind)
}

// Frame is the server to client websocket envelope.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

var classEvents = map[string]bool{
	AttendanceCreated:    true,
	AttendanceUpdated:    true,
	AttendanceBulk:       true,
	EnrollmentCreated:    true,
	EnrollmentDeleted:    true,
	SubmissionCreated:    true,
	SubmissionGraded:     true,
	ClassScheduleUpdated: true,
	ClassContentUpdated:  true,
}

// IsClassEvent reports whether name may be relayed to a class room.
func IsClassEvent(name string) bool {
	return classEvents[name]
}
