package amqp_client

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AmqpClient defines the interface for all AMQP operations
type AmqpClient interface {
	DeclareQueue(queueName string) error
	Publish(ctx context.Context, message []byte, queueName string) error
	SetupConsumer(queueName string, handler func(amqp.Delivery)) error
	Close() error
}

// RealAmqpClient implements AmqpClient with real AMQP operations
type RealAmqpClient struct {
	conn     *amqp.Connection
	channels []*amqp.Channel
}

// Dial opens a connection and wraps it in a client.
func Dial(url string) (*RealAmqpClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return &RealAmqpClient{conn: conn}, nil
}

// NewAmqpClient creates a new real AMQP client
func NewAmqpClient(conn *amqp.Connection) *RealAmqpClient {
	return &RealAmqpClient{conn: conn}
}

// DeclareQueue declares a durable queue so messages survive a broker restart
func (c *RealAmqpClient) DeclareQueue(queueName string) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		queueName, // name of the queue
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	return err
}

// Publish publishes a persistent message to a specified queue
func (c *RealAmqpClient) Publish(ctx context.Context, message []byte, queueName string) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return ch.PublishWithContext(ctx,
		"",        // exchange
		queueName, // routing key (queue name)
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         message,
		},
	)
}

// SetupConsumer sets up a manual-ack consumer on a specified queue. The handler
// is responsible for acking each delivery.
func (c *RealAmqpClient) SetupConsumer(queueName string, handler func(amqp.Delivery)) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Qos(10, 0, false); err != nil {
		ch.Close()
		return err
	}

	msgs, err := ch.Consume(
		queueName, // queue
		"",        // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		ch.Close()
		return err
	}
	c.channels = append(c.channels, ch)

	go func() {
		for d := range msgs {
			handler(d)
		}
	}()

	return nil
}

// Close closes consumer channels and the underlying connection.
func (c *RealAmqpClient) Close() error {
	for _, ch := range c.channels {
		ch.Close()
	}
	return c.conn.Close()
}
