// README: Lifecycle event publishing to RabbitMQ.
package ride

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"bora/internal/types"
)

const (
	DefaultExchange = "ride_topic"
	publishTimeout  = 3 * time.Second
)

// Publisher announces committed lifecycle events. Failures never undo the transition.
type Publisher interface {
	Publish(ctx context.Context, e Event, r *Ride) error
}

// eventMessage is the broker payload.
type eventMessage struct {
	Event
	PassengerID types.ID `json:"passenger_id"`
	DriverID    types.ID `json:"driver_id,omitempty"`
}

// AMQPPublisher publishes to a topic exchange with routing key "ride.<action>".
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

func NewAMQPPublisher(conn *amqp.Connection, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, e Event, r *Ride) error {
	msg := eventMessage{Event: e, PassengerID: r.Passenger.ID}
	if d, ok := r.Driver(); ok {
		msg.DriverID = d.ID
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, "ride."+string(e.Action), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.At,
		MessageId:    fmt.Sprintf("%s:%d", e.RideID, e.ID),
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}
