//go:build integration && docker && rabbitmq

package publisher

import (
	"fmt"
	"testing"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/testutil/containers"
	amqp "github.com/rabbitmq/amqp091-go"
)

func TestPublisher_RabbitMQ(t *testing.T) {
	svc := startService(t, containers.StartRabbitMQ)
	queue := fmt.Sprintf("lwsscan.test.%d", time.Now().UnixNano())

	conn, err := amqp.Dial(svc.URL)
	if err != nil {
		t.Fatalf("amqp dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		t.Fatalf("amqp channel: %v", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		t.Fatalf("queue declare: %v", err)
	}
	msgs, err := ch.Consume(queue, "", true, false, false, false, nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	payload := publishOne(t, "rabbitmq", queue, svc)

	select {
	case d := <-msgs:
		if d.Type != "OutputReceived" || d.MessageId != "0:1" {
			t.Fatalf("unexpected delivery metadata: type=%q id=%q", d.Type, d.MessageId)
		}
		checkEnvelope(t, d.Body, payload)
	case <-time.After(10 * time.Second):
		t.Fatalf("timeout waiting for rabbitmq message")
	}
}
