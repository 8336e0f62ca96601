package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	keys     []string
	messages []any
	headers  []Headers
	err      error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, routingKey string, message any, headers Headers) error {
	p.keys = append(p.keys, routingKey)
	p.messages = append(p.messages, message)
	p.headers = append(p.headers, headers)
	return p.err
}

func TestPublishEventWithoutPublisher(t *testing.T) {
	SetPublisher(nil)
	assert.NoError(t, PublishEvent(context.Background(), "ws_events.connections", LifecycleEvent{}, nil))
}

func TestPublishEventUsesInstalledPublisher(t *testing.T) {
	pub := &recordingPublisher{}
	SetPublisher(pub)
	defer SetPublisher(nil)

	event := LifecycleEvent{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload:   ConnectionPayload{WS: ConnectionState{Event: "ws_connect", ConnID: "c1"}},
	}
	err := PublishEvent(context.Background(), "ws_events.connections", event, CorrelationHeaders("req-1", ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"ws_events.connections"}, pub.keys)
	assert.Equal(t, Headers{"x-request-id": "req-1"}, pub.headers[0])
	assert.Equal(t, event, pub.messages[0])
}

func TestPublishEventReturnsFailure(t *testing.T) {
	SetPublisher(&recordingPublisher{err: assert.AnError})
	defer SetPublisher(nil)

	err := PublishEvent(context.Background(), "ws_events.connections", LifecycleEvent{}, nil)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestConnectionPayloadShape(t *testing.T) {
	raw, err := json.Marshal(LifecycleEvent{
		EventType: "ws_events",
		EventName: "ws_disconnect",
		Payload: ConnectionPayload{
			WS:       ConnectionState{Kind: "realtime", Event: "ws_disconnect", ConnID: "c1", DurationMS: 42, Reason: "closed"},
			Identity: ConnectionIdentity{UserID: "u1", DeviceID: "d1", IP: "10.0.0.1"},
		},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event_type": "ws_events",
		"event_name": "ws_disconnect",
		"payload": {
			"ws": {"kind": "realtime", "event": "ws_disconnect", "conn_id": "c1", "duration_ms": 42, "reason": "closed"},
			"identity": {"user_id": "u1", "device_id": "d1", "ip": "10.0.0.1"}
		}
	}`, string(raw))
}

func TestCorrelationHeaders(t *testing.T) {
	assert.Equal(t, Headers{}, CorrelationHeaders("", ""))
	assert.Equal(t, Headers{"x-request-id": "r", "trace_id": "t"}, CorrelationHeaders("r", "t"))
}

func TestBrokerPublisherRequiresURL(t *testing.T) {
	_, err := NewBrokerPublisher("", "realtime", zerolog.Nop())
	assert.Error(t, err)
}

func TestClosedBrokerPublisherRefuses(t *testing.T) {
	p := &BrokerPublisher{log: zerolog.Nop()}
	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
	assert.Error(t, p.PublishJSON(context.Background(), "k", map[string]any{}, nil))
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	assert.Equal(t, "10.0.0.1", IPFromRequest(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.4:5555"
	assert.Equal(t, "192.168.1.4", IPFromRequest(req))
}

func TestSplitFullMethod(t *testing.T) {
	svc, method := splitFullMethod("/grpc.health.v1.Health/Check")
	assert.Equal(t, "grpc.health.v1.Health", svc)
	assert.Equal(t, "Check", method)

	svc, method = splitFullMethod("bogus")
	assert.Equal(t, "unknown", svc)
	assert.Equal(t, "unknown", method)
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsMiddleware())
	r.GET("/metrics", MetricsHandler())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tutor_http_requests_total")
}

func TestTraceIDFromContextEmpty(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))
}
