//go:build integration && docker

package publisher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/broker"
	"github.com/Abdullah1738/lws-scan/internal/testutil/containers"
)

// publishOne stores one event, opens driver against svc and publishes it.
func publishOne(t *testing.T, driver, topic string, svc *containers.Service) json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	br, err := broker.Open(ctx, broker.Config{Driver: driver, URL: svc.URL, Topic: topic})
	if err != nil {
		t.Fatalf("broker.Open: %v", err)
	}
	t.Cleanup(func() { _ = br.Close() })

	st, _, payloads := setup(t, 1)
	pub, err := New(st, br, Config{BatchSize: 10}, nil)
	if err != nil {
		t.Fatalf("publisher.New: %v", err)
	}
	if err := pub.publishOnce(ctx); err != nil {
		t.Fatalf("publishOnce: %v", err)
	}
	return payloads[0]
}

func checkEnvelope(t *testing.T, raw []byte, payload json.RawMessage) {
	t.Helper()
	var env broker.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Kind != "OutputReceived" {
		t.Fatalf("env.kind=%q want %q", env.Kind, "OutputReceived")
	}
	if env.Height != 10 {
		t.Fatalf("env.height=%d want %d", env.Height, 10)
	}
	if string(env.Payload) != string(payload) {
		t.Fatalf("env.payload=%s want %s", env.Payload, payload)
	}
}

func startService(t *testing.T, start func(context.Context) (*containers.Service, error)) *containers.Service {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	svc, err := start(ctx)
	if err != nil {
		t.Fatalf("start container: %v", err)
	}
	t.Cleanup(func() { _ = svc.Terminate(context.Background()) })
	return svc
}
