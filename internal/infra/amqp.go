// README: RabbitMQ connection for lifecycle event publishing.
package infra

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

func NewAMQP(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	return conn, nil
}
