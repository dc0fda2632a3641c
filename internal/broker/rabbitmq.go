//go:build rabbitmq

package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type rabbitMQBroker struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func openRabbitMQ(cfg Config) (Broker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("broker: rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("broker: rabbitmq channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		cfg.Topic,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("broker: rabbitmq queue declare: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("broker: rabbitmq confirm mode: %w", err)
	}

	return &rabbitMQBroker{conn: conn, ch: ch, queue: cfg.Topic}, nil
}

// Publish waits for the server to confirm the message.
func (b *rabbitMQBroker) Publish(ctx context.Context, msg Message) error {
	pub := amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		Type:          msg.Kind,
		MessageId:     msg.ID,
		CorrelationId: msg.Key,
		Body:          msg.Value,
	}
	conf, err := b.ch.PublishWithDeferredConfirmWithContext(ctx, "", b.queue, false, false, pub)
	if err != nil {
		return fmt.Errorf("broker: rabbitmq publish: %w", err)
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("broker: rabbitmq confirm: %w", err)
	}
	if !ok {
		return fmt.Errorf("broker: rabbitmq nacked message %q", msg.ID)
	}
	return nil
}

func (b *rabbitMQBroker) Close() error {
	if b == nil {
		return nil
	}
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
