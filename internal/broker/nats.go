//go:build nats

package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type natsBroker struct {
	nc    *nats.Conn
	topic string
}

func openNATS(cfg Config) (Broker, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("lws-scan"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("broker: nats connect: %w", err)
	}
	return &natsBroker{nc: nc, topic: cfg.Topic}, nil
}

// Publish sends on "<topic>.<kind>" so subscribers can filter by wildcard.
func (b *natsBroker) Publish(ctx context.Context, msg Message) error {
	subject := b.topic
	if msg.Kind != "" {
		subject += "." + msg.Kind
	}
	m := &nats.Msg{
		Subject: subject,
		Data:    msg.Value,
		Header:  nats.Header{},
	}
	if msg.Key != "" {
		m.Header.Set("x-key", msg.Key)
	}
	if msg.ID != "" {
		m.Header.Set(nats.MsgIdHdr, msg.ID)
	}
	if err := b.nc.PublishMsg(m); err != nil {
		return fmt.Errorf("broker: nats publish: %w", err)
	}
	if err := b.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("broker: nats flush: %w", err)
	}
	return nil
}

func (b *natsBroker) Close() error {
	if b == nil || b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
