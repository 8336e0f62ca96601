package observability

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher sends lifecycle events to the broker.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, message any, headers Headers) error
}

// BrokerPublisher publishes lifecycle events on a durable topic exchange.
// Messages are transient.
type BrokerPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      zerolog.Logger
}

func NewBrokerPublisher(url, exchange string, log zerolog.Logger) (*BrokerPublisher, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	log.Info().Str("exchange", exchange).Msg("lifecycle publisher connected")
	return &BrokerPublisher{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

func (p *BrokerPublisher) PublishJSON(ctx context.Context, routingKey string, message any, headers Headers) error {
	body, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "encode lifecycle event")
	}
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return errors.New("lifecycle publisher closed")
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now().UTC(),
		Headers:      table,
	})
	if err != nil {
		p.log.Warn().Err(err).Str("routing_key", routingKey).Msg("publish lifecycle event")
		return errors.Wrap(err, "publish lifecycle event")
	}
	return nil
}

// Close is safe to call more than once.
func (p *BrokerPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

var (
	publisherMu sync.RWMutex
	publisher   Publisher
)

// SetPublisher installs the process wide lifecycle publisher. Nil disables
// publishing.
func SetPublisher(p Publisher) {
	publisherMu.Lock()
	publisher = p
	publisherMu.Unlock()
}

// PublishEvent sends a lifecycle event through the installed publisher, if
// any. Failures are counted.
func PublishEvent(ctx context.Context, routingKey string, event LifecycleEvent, headers Headers) error {
	publisherMu.RLock()
	p := publisher
	publisherMu.RUnlock()
	if p == nil {
		return nil
	}
	if err := p.PublishJSON(ctx, routingKey, event, headers); err != nil {
		IncAMQPPublishError()
		return err
	}
	return nil
}
