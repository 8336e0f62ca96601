package ws

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"tutor-realtime/internal/events"
	"tutor-realtime/internal/observability"
)

// Fan-out scopes, also used on the relay wire.
const (
	ScopeRoom      = "room"
	ScopeUser      = "user"
	ScopeBroadcast = "broadcast"
)

// Sender is one registered client connection.
type Sender interface {
	ID() string
	UserID() string
	// Send queues a frame without blocking. It reports false when the frame
	// could not be queued.
	Send(frame []byte) bool
	Close()
}

// Relay forwards frames to the other processes of a deployment.
type Relay interface {
	Forward(ctx context.Context, scope, target, event string, data any) error
}

// Lifecycle receives registry transitions. UserConnected fires when a user
// gets their first connection, UserDisconnected after their last one is gone.
type Lifecycle interface {
	UserConnected(ctx context.Context, userID string)
	UserDisconnected(ctx context.Context, userID string)
}

// Lifecycles fans registry transitions out to several hooks, in order.
type Lifecycles []Lifecycle

func (ls Lifecycles) UserConnected(ctx context.Context, userID string) {
	for _, l := range ls {
		l.UserConnected(ctx, userID)
	}
}

func (ls Lifecycles) UserDisconnected(ctx context.Context, userID string) {
	for _, l := range ls {
		l.UserDisconnected(ctx, userID)
	}
}

// Hub maintains the connection registry and the rooms built on top of it.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Sender
	users  map[string]map[string]Sender
	rooms  map[string]map[string]Sender
	joined map[string]map[string]struct{}

	relay     Relay
	lifecycle Lifecycle
	log       zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]Sender),
		users:  make(map[string]map[string]Sender),
		rooms:  make(map[string]map[string]Sender),
		joined: make(map[string]map[string]struct{}),
		log:    log,
	}
}

// SetRelay installs the cross-process relay.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// SetLifecycle installs the registry transition hook.
func (h *Hub) SetLifecycle(l Lifecycle) {
	h.mu.Lock()
	h.lifecycle = l
	h.mu.Unlock()
}

// Register adds a connection. It reports whether it is the user's first.
func (h *Hub) Register(ctx context.Context, s Sender) bool {
	h.mu.Lock()
	h.conns[s.ID()] = s
	set, ok := h.users[s.UserID()]
	if !ok {
		set = make(map[string]Sender)
		h.users[s.UserID()] = set
	}
	set[s.ID()] = s
	first := len(set) == 1
	online := len(h.users)
	lifecycle := h.lifecycle
	h.mu.Unlock()

	observability.SetOnlineUsers(online)
	if first && lifecycle != nil {
		lifecycle.UserConnected(ctx, s.UserID())
	}
	return first
}

// Unregister removes a connection from the registry and every room it
// joined. It reports whether it was the user's last.
func (h *Hub) Unregister(ctx context.Context, s Sender) bool {
	h.mu.Lock()
	if _, ok := h.conns[s.ID()]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.conns, s.ID())
	for room := range h.joined[s.ID()] {
		h.leaveLocked(s.ID(), room)
	}
	delete(h.joined, s.ID())

	last := false
	if set, ok := h.users[s.UserID()]; ok {
		delete(set, s.ID())
		if len(set) == 0 {
			delete(h.users, s.UserID())
			last = true
		}
	}
	online := len(h.users)
	lifecycle := h.lifecycle
	h.mu.Unlock()

	observability.SetOnlineUsers(online)
	if last && lifecycle != nil {
		lifecycle.UserDisconnected(ctx, s.UserID())
	}
	return last
}

// CloseAll closes and unregisters every connection, so each user's
// disconnect transition runs before the process exits.
func (h *Hub) CloseAll(ctx context.Context) int {
	h.mu.RLock()
	conns := make([]Sender, 0, len(h.conns))
	for _, s := range h.conns {
		conns = append(conns, s)
	}
	h.mu.RUnlock()

	for _, s := range conns {
		s.Close()
		h.Unregister(ctx, s)
	}
	return len(conns)
}

// JoinRoom adds a registered connection to room.
func (h *Hub) JoinRoom(connID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.conns[connID]
	if !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]Sender)
		h.rooms[room] = members
	}
	members[connID] = s
	rooms, ok := h.joined[connID]
	if !ok {
		rooms = make(map[string]struct{})
		h.joined[connID] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

// LeaveRoom removes a connection from room.
func (h *Hub) LeaveRoom(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, room)
	if rooms, ok := h.joined[connID]; ok {
		delete(rooms, room)
	}
}

func (h *Hub) leaveLocked(connID, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// InRoom reports whether connID has joined room.
func (h *Hub) InRoom(connID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][connID]
	return ok
}

// RoomSize returns the number of local members of room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// IsOnline reports whether userID has a local connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// ConnectionCount returns the number of local connections of userID.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// OnlineUserIDs lists users with a local connection, sorted.
func (h *Hub) OnlineUserIDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.users))
	for id := range h.users {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// EmitToRoom delivers event to every member of room.
func (h *Hub) EmitToRoom(ctx context.Context, room, event string, data any) {
	h.emit(ctx, ScopeRoom, room, event, data)
}

// EmitToUser delivers event to every connection of userID.
func (h *Hub) EmitToUser(ctx context.Context, userID, event string, data any) {
	h.emit(ctx, ScopeUser, userID, event, data)
}

// Broadcast delivers event to every connection.
func (h *Hub) Broadcast(ctx context.Context, event string, data any) {
	h.emit(ctx, ScopeBroadcast, "", event, data)
}

func (h *Hub) emit(ctx context.Context, scope, target, event string, data any) {
	h.deliverLocal(scope, target, event, data)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay == nil {
		return
	}
	if err := relay.Forward(ctx, scope, target, event, data); err != nil {
		h.log.Warn().Err(err).Str("event", event).Str("scope", scope).Msg("relay forward failed")
	}
}

// Deliver hands a frame received from the relay to local connections only.
func (h *Hub) Deliver(scope, target, event string, data json.RawMessage) {
	h.deliverLocal(scope, target, event, data)
}

func (h *Hub) deliverLocal(scope, target, event string, data any) {
	payload, err := json.Marshal(events.Frame{Event: event, Data: data})
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}

	for _, s := range h.targets(scope, target) {
		if s.Send(payload) {
			observability.IncFanout(scope, "sent")
			continue
		}
		observability.IncFanout(scope, "dropped")
		h.log.Debug().Str("conn_id", s.ID()).Str("event", event).Msg("send queue full, closing connection")
		s.Close()
	}
}

func (h *Hub) targets(scope, target string) []Sender {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var set map[string]Sender
	switch scope {
	case ScopeRoom:
		set = h.rooms[target]
	case ScopeUser:
		set = h.users[target]
	case ScopeBroadcast:
		set = h.conns
	}
	out := make([]Sender, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}
