package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// AuditPublisherMock stands in for the broker behind the audit emitter.
type AuditPublisherMock struct {
	mock.Mock
}

func (m *AuditPublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func (m *AuditPublisherMock) Close() error {
	return nil
}

// Published returns the events sent under routingKey, oldest first.
func (m *AuditPublisherMock) Published(routingKey string) []any {
	var out []any
	for _, call := range m.Calls {
		if call.Method == "Publish" && call.Arguments.String(1) == routingKey {
			out = append(out, call.Arguments.Get(2))
		}
	}
	return out
}
