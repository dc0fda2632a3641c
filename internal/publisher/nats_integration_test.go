//go:build integration && docker && nats

package publisher

import (
	"fmt"
	"testing"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/testutil/containers"
	"github.com/nats-io/nats.go"
)

func TestPublisher_NATS(t *testing.T) {
	svc := startService(t, containers.StartNATS)
	topic := fmt.Sprintf("lwsscan.test.%d", time.Now().UnixNano())

	nc, err := nats.Connect(svc.URL, nats.Timeout(5*time.Second))
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync(topic + ".>")
	if err != nil {
		t.Fatalf("nats subscribe: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("nats flush: %v", err)
	}

	payload := publishOne(t, "nats", topic, svc)

	msg, err := sub.NextMsg(10 * time.Second)
	if err != nil {
		t.Fatalf("nats NextMsg: %v", err)
	}
	if msg.Subject != topic+".OutputReceived" {
		t.Fatalf("subject=%q", msg.Subject)
	}
	if msg.Header.Get(nats.MsgIdHdr) != "0:1" {
		t.Fatalf("msg id=%q want %q", msg.Header.Get(nats.MsgIdHdr), "0:1")
	}
	checkEnvelope(t, msg.Data, payload)
}
