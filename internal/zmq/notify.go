package zmq

import (
	"bytes"
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultTopic is the daemon's minimal chain-tip publication.
const DefaultTopic = "json-minimal-chain_main"

type NotifyConfig struct {
	Endpoint       string
	Topic          string
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Notify subscribes to cfg.Topic and performs a non-blocking send on out for
// every matching message, reconnecting until ctx is done.
func Notify(ctx context.Context, cfg NotifyConfig, out chan<- struct{}, log *zap.Logger) error {
	if out == nil {
		return errors.New("zmq: out channel is nil")
	}
	addr, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return err
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	pc := peerConfig{SocketType: "SUB", DialTimeout: 10 * time.Second, ReadTimeout: cfg.ReadTimeout, WriteTimeout: cfg.WriteTimeout}
	if pc.ReadTimeout <= 0 {
		pc.ReadTimeout = 10 * time.Second
	}
	if pc.WriteTimeout <= 0 {
		pc.WriteTimeout = 5 * time.Second
	}

	for ctx.Err() == nil {
		err := subscribeOnce(ctx, addr, pc, []byte(cfg.Topic), out)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("zmq notify error", zap.String("endpoint", addr), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.ReconnectDelay):
		}
	}
	return nil
}

// subscribeOnce returns only on a connection error or when ctx is done.
func subscribeOnce(ctx context.Context, addr string, cfg peerConfig, topic []byte, out chan<- struct{}) error {
	p, err := dialPeer(ctx, addr, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = p.close() }()
	stop := context.AfterFunc(ctx, func() { _ = p.close() })
	defer stop()

	if err := p.send(append([]byte{0x01}, topic...)); err != nil {
		return err
	}
	// Publications can be minutes apart; only ctx ends the wait.
	p.readTimeout = 0
	_ = p.conn.SetReadDeadline(time.Time{})
	for {
		msg, err := p.recv()
		if err != nil {
			return err
		}
		if len(msg) > 0 && bytes.Equal(msg[0], topic) {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}
}
