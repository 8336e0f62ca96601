package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"tutor-realtime/internal/observability"
)

const originHeader = "x-origin-node"

// RelayMessage is one fan-out frame forwarded to other processes.
type RelayMessage struct {
	Scope  string          `json:"scope"`
	Target string          `json:"target,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// Relay forwards fan-out frames to the other processes of the deployment
// and hands theirs back. Delivery is best effort.
type Relay interface {
	Forward(ctx context.Context, scope, target, event string, data any) error
	Consume(ctx context.Context, handle func(RelayMessage)) error
	Close() error
}

// NewRelay connects to a fanout exchange. Without a URL the relay is a noop
// and every process only reaches its own connections.
func NewRelay(amqpURL, exchange, nodeID string, log zerolog.Logger) (Relay, error) {
	if amqpURL == "" {
		return noopRelay{}, nil
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial relay broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open relay channel")
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", false, true, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "declare relay exchange")
	}
	log.Info().Str("exchange", exchange).Str("node", nodeID).Msg("fan-out relay connected")
	return &amqpRelay{conn: conn, ch: ch, exchange: exchange, nodeID: nodeID, log: log}, nil
}

type amqpRelay struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	nodeID   string
	log      zerolog.Logger
}

func (r *amqpRelay) Forward(ctx context.Context, scope, target, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "encode relay data")
	}
	body, err := json.Marshal(RelayMessage{Scope: scope, Target: target, Event: event, Data: raw})
	if err != nil {
		return errors.Wrap(err, "encode relay message")
	}
	err = r.ch.PublishWithContext(ctx, r.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{originHeader: r.nodeID},
		Body:         body,
	})
	if err != nil {
		observability.IncAMQPPublishError()
		return errors.Wrap(err, "publish relay message")
	}
	observability.IncRelay("out")
	return nil
}

// Consume binds an exclusive queue and calls handle for every frame
// published by another node until ctx is done.
func (r *amqpRelay) Consume(ctx context.Context, handle func(RelayMessage)) error {
	q, err := r.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return errors.Wrap(err, "declare relay queue")
	}
	if err := r.ch.QueueBind(q.Name, "", r.exchange, false, nil); err != nil {
		return errors.Wrap(err, "bind relay queue")
	}
	deliveries, err := r.ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "consume relay queue")
	}

	go func() {
		for d := range deliveries {
			msg, ok := decodeRelay(d, r.nodeID, r.log)
			if !ok {
				continue
			}
			observability.IncRelay("in")
			handle(msg)
		}
		r.log.Debug().Msg("relay consumer stopped")
	}()
	return nil
}

func decodeRelay(d amqp.Delivery, nodeID string, log zerolog.Logger) (RelayMessage, bool) {
	if origin, _ := d.Headers[originHeader].(string); origin == nodeID {
		return RelayMessage{}, false
	}
	var msg RelayMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		log.Warn().Err(err).Msg("drop malformed relay message")
		return RelayMessage{}, false
	}
	return msg, true
}

func (r *amqpRelay) Close() error {
	_ = r.ch.Close()
	return r.conn.Close()
}

type noopRelay struct{}

func (noopRelay) Forward(context.Context, string, string, string, any) error { return nil }
func (noopRelay) Consume(context.Context, func(RelayMessage)) error        { return nil }
func (noopRelay) Close() error                                             { return nil }
