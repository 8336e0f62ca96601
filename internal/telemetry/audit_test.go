package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"tutor-realtime/internal/mocks"
)

func TestEmitActionPublishesEnvelope(t *testing.T) {
	pub := new(mocks.AuditPublisherMock)
	emitter := NewAuditEmitter(pub, "audit.realtime", "tutor-realtime", "test", zerolog.Nop())
	emitter.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	user := "u1"

	pub.On("Publish", mock.Anything, "audit.realtime", mock.MatchedBy(func(env AuditEnvelope) bool {
		return env.EventType == "audit_log" &&
			env.OccurredAt == "2024-05-01T12:00:00Z" &&
			env.Payload.Action == "post.moderate" &&
			env.Payload.Fields["post_id"] == "p1" &&
			*env.UserID == "u1"
	})).Return(nil).Once()

	emitter.EmitAction(context.Background(), "INFO", "post.moderate", "post rejected", "req-1", &user, map[string]any{"post_id": "p1"})
	pub.AssertExpectations(t)
	assert.Len(t, pub.Published("audit.realtime"), 1)
	assert.Empty(t, pub.Published("audit.other"))
}

func TestEmitNilEmitter(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "x", "", nil)
	})
}

func TestEmitSwallowsPublishError(t *testing.T) {
	pub := new(mocks.AuditPublisherMock)
	emitter := NewAuditEmitter(pub, "audit.realtime", "svc", "test", zerolog.Nop())
	pub.On("Publish", mock.Anything, "audit.realtime", mock.Anything).Return(assert.AnError).Once()

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "WARN", "x", "req", nil)
	})
	pub.AssertExpectations(t)
}
