//go:build integration && docker && kafka

package publisher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/testutil/containers"
	kafka "github.com/segmentio/kafka-go"
)

func TestPublisher_Kafka(t *testing.T) {
	svc := startService(t, containers.StartKafka)
	topic := fmt.Sprintf("lwsscan.test.%d", time.Now().UnixNano())

	payload := publishOne(t, "kafka", topic, svc)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   []string{svc.URL},
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1e6,
	})
	defer func() { _ = reader.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg, err := reader.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("kafka ReadMessage: %v", err)
	}
	if string(msg.Key) != "0" {
		t.Fatalf("key=%q want %q", msg.Key, "0")
	}
	checkEnvelope(t, msg.Value, payload)
}
