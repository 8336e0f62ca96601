package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tutor-realtime/internal/events"
	"tutor-realtime/internal/middleware"
	"tutor-realtime/internal/observability"
)

const (
	wsKind       = "realtime"
	wsRoutingKey = "ws_events.connections"
)

// Gatekeeper decides room access and typing targets against the durable
// store.
type Gatekeeper interface {
	CanJoin(ctx context.Context, userID, room string) (bool, error)
	TypingPeer(ctx context.Context, userID, conversationID string) (string, error)
}

// TypingLimits bound typing frames per connection.
type TypingLimits struct {
	Rate  float64
	Burst int
}

// Handler upgrades authenticated requests to the multiplexed realtime socket.
type Handler struct {
	hub      *Hub
	verifier middleware.TokenVerifier
	gate     Gatekeeper
	typing   TypingLimits
	log      zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, verifier middleware.TokenVerifier, gate Gatekeeper, typing TypingLimits, log zerolog.Logger) *Handler {
	return &Handler{hub: hub, verifier: verifier, gate: gate, typing: typing, log: log}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is a client to server message.
type clientFrame struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
}

// Handle upgrades the connection and registers the client.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := observability.Tracer("ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	claims, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      claims.UserID,
		Username:    claims.Username,
		Role:        claims.Role,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	cl := newClient(conn, info, rate.NewLimiter(rate.Limit(h.typing.Rate), h.typing.Burst))

	// The connection outlives the request.
	connCtx := context.WithoutCancel(ctx)
	h.hub.Register(connCtx, cl)
	observability.IncWSActive(wsKind)
	h.publishLifecycle(connCtx, "ws_connect", info, "")
	h.log.Debug().Str("conn_id", info.ConnID).Str("user_id", info.UserID).Msg("websocket connected")

	go cl.writePump()
	go h.readPump(connCtx, cl)
}

func (h *Handler) readPump(ctx context.Context, cl *client) {
	var closeReason string
	defer func() {
		cl.Close()
		h.hub.Unregister(ctx, cl)
		observability.DecWSActive(wsKind)
		h.publishLifecycle(ctx, "ws_disconnect", cl.info, closeReason)
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.publishLifecycle(ctx, "ws_error", cl.info, closeReason)
			}
			return
		}
		h.handleFrame(ctx, cl, raw)
	}
}

func (h *Handler) handleFrame(ctx context.Context, cl Sender, raw []byte) {
	var f clientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		h.reply(cl, "error", gin.H{"message": "malformed frame"})
		return
	}
	action, kind, _ := strings.Cut(f.Type, ":")

	switch action {
	case "join", "leave":
		id := f.ID
		if id == "" {
			id = f.ConversationID
		}
		room := events.Room(kind, id)
		if _, _, err := events.ParseRoom(room); err != nil {
			h.reply(cl, "error", gin.H{"message": err.Error()})
			return
		}
		if action == "leave" {
			h.hub.LeaveRoom(cl.ID(), room)
			return
		}
		ok, err := h.gate.CanJoin(ctx, cl.UserID(), room)
		if err != nil {
			h.log.Warn().Err(err).Str("room", room).Msg("room access check failed")
		}
		if !ok {
			h.reply(cl, "error", gin.H{"message": "cannot join " + room})
			return
		}
		h.hub.JoinRoom(cl.ID(), room)
		h.reply(cl, "joined", gin.H{"room": room})
	case "typing":
		h.handleTyping(ctx, cl, f, kind == "start")
	default:
		h.reply(cl, "error", gin.H{"message": "unknown frame type " + f.Type})
	}
}

// handleTyping relays typing to the conversation peer. Nothing is stored.
func (h *Handler) handleTyping(ctx context.Context, cl Sender, f clientFrame, typing bool) {
	convID := f.ConversationID
	if convID == "" {
		convID = f.ID
	}
	if convID == "" {
		return
	}
	if typing && !h.allowTyping(cl) {
		observability.IncWSEvent(wsKind, "typing_throttled")
		return
	}
	peer, err := h.gate.TypingPeer(ctx, cl.UserID(), convID)
	if err != nil || peer == "" {
		return
	}
	h.hub.EmitToUser(ctx, peer, events.UserTyping, events.Typing{
		ConversationID: convID,
		UserID:         cl.UserID(),
		IsTyping:       typing,
	})
}

func (h *Handler) allowTyping(cl Sender) bool {
	if l, ok := cl.(interface{ AllowTyping() bool }); ok {
		return l.AllowTyping()
	}
	return true
}

func (h *Handler) reply(cl Sender, event string, data any) {
	payload, err := json.Marshal(events.Frame{Event: event, Data: data})
	if err != nil {
		return
	}
	cl.Send(payload)
}

func (h *Handler) publishLifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	observability.IncWSEvent(wsKind, event)
	durationMS := int64(0)
	if event != "ws_connect" {
		durationMS = time.Since(info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.LifecycleEvent{
		EventType: "ws_events",
		EventName: event,
		Payload: observability.ConnectionPayload{
			WS: observability.ConnectionState{
				Kind:       wsKind,
				Event:      event,
				ConnID:     info.ConnID,
				DurationMS: durationMS,
				Reason:     reason,
			},
			Identity: observability.ConnectionIdentity{
				UserID:   info.UserID,
				DeviceID: info.DeviceID,
				IP:       info.IP,
			},
		},
	}, observability.CorrelationHeaders(info.RequestID, info.TraceID))
}
