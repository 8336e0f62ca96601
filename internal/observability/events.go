package observability

// LifecycleEvent is the envelope of websocket lifecycle events.
type LifecycleEvent struct {
	EventType string `json:"event_type"`
	EventName string `json:"event_name"`
	Payload   any    `json:"payload"`
}

// ConnectionPayload describes one websocket connect or disconnect.
type ConnectionPayload struct {
	WS       ConnectionState    `json:"ws"`
	Identity ConnectionIdentity `json:"identity"`
}

type ConnectionState struct {
	Kind       string `json:"kind"`
	Event      string `json:"event"`
	ConnID     string `json:"conn_id"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason"`
}

type ConnectionIdentity struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	IP       string `json:"ip"`
}

// Headers are the string headers attached to a lifecycle event.
type Headers map[string]string

// CorrelationHeaders carries the request and trace ids; empty ones are left
// out.
func CorrelationHeaders(requestID, traceID string) Headers {
	h := Headers{}
	if requestID != "" {
		h["x-request-id"] = requestID
	}
	if traceID != "" {
		h["trace_id"] = traceID
	}
	return h
}
