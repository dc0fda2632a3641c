// Package publisher forwards stored account events to a broker.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/broker"
	"github.com/Abdullah1738/lws-scan/internal/events"
	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

type Config struct {
	Network      keys.Network
	PollInterval time.Duration
	BatchSize    int
}

// Publisher delivers every event at least once, in per-account order. The
// cursor of an account only moves past events the broker accepted.
type Publisher struct {
	st  store.Store
	br  broker.Broker
	log *zap.Logger

	network      keys.Network
	pollInterval time.Duration
	batchSize    int
}

func New(st store.Store, br broker.Broker, cfg Config, log *zap.Logger) (*Publisher, error) {
	if st == nil {
		return nil, errors.New("publisher: store is nil")
	}
	if br == nil {
		return nil, errors.New("publisher: broker is nil")
	}
	if log == nil {
		log = zap.NewNop()
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > 1000 {
		batchSize = 1000
	}

	return &Publisher{
		st:           st,
		br:           br,
		log:          log,
		network:      cfg.Network,
		pollInterval: poll,
		batchSize:    batchSize,
	}, nil
}

// Run publishes until ctx is done. Failed rounds are logged and retried on
// the next tick.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		if err := p.publishOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("publish failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Publisher) publishOnce(ctx context.Context) error {
	var accounts []store.Account
	err := p.st.View(ctx, func(tx store.ReadTx) error {
		var err error
		accounts, err = tx.ListAccounts(ctx, store.StatusActive, store.StatusInactive, store.StatusHidden)
		return err
	})
	if err != nil {
		return fmt.Errorf("publisher: list accounts: %w", err)
	}

	for _, a := range accounts {
		if err := p.drain(ctx, a); err != nil {
			return fmt.Errorf("publisher: account %d: %w", a.ID, err)
		}
	}
	return nil
}

// drain publishes everything stored for a past its cursor.
func (p *Publisher) drain(ctx context.Context, a store.Account) error {
	address := keys.FormatAddress(p.network, a.Address.Keys())
	for {
		var cursor uint64
		var page []store.Event
		err := p.st.View(ctx, func(tx store.ReadTx) error {
			var err error
			if cursor, err = tx.EventCursor(ctx, a.ID); err != nil {
				return err
			}
			page, _, err = tx.ListEvents(ctx, a.ID, cursor, p.batchSize)
			return err
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		sent := cursor
		var pubErr error
		for _, e := range page {
			if pubErr = p.publish(ctx, a, address, e); pubErr != nil {
				break
			}
			sent = e.ID
		}
		if sent > cursor {
			err := p.st.Update(context.WithoutCancel(ctx), func(tx store.WriteTx) error {
				return tx.SetEventCursor(ctx, a.ID, sent)
			})
			if err != nil {
				return fmt.Errorf("set cursor: %w", err)
			}
		}
		if pubErr != nil {
			return pubErr
		}
		if len(page) < p.batchSize {
			return nil
		}
	}
}

func (p *Publisher) publish(ctx context.Context, a store.Account, address string, e store.Event) error {
	value, err := jsoniter.Marshal(broker.Envelope{
		Version:   events.Version,
		Kind:      e.Kind,
		AccountID: uint32(a.ID),
		Address:   address,
		EventID:   e.ID,
		Height:    uint64(e.Height),
		Payload:   e.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	key := strconv.FormatUint(uint64(a.ID), 10)
	return p.br.Publish(ctx, broker.Message{
		Key:   key,
		ID:    key + ":" + strconv.FormatUint(e.ID, 10),
		Kind:  e.Kind,
		Value: value,
	})
}
