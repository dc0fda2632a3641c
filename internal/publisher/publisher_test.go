package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/broker"
	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/Abdullah1738/lws-scan/internal/store/rocksdb"
)

type fakeBroker struct {
	msgs   []broker.Message
	failAt int
}

func (b *fakeBroker) Publish(_ context.Context, msg broker.Message) error {
	if b.failAt > 0 && len(b.msgs)+1 == b.failAt {
		b.failAt = 0
		return errors.New("broker down")
	}
	msg.Value = append([]byte{}, msg.Value...)
	b.msgs = append(b.msgs, msg)
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func setup(t *testing.T, n int) (store.Store, store.Account, []json.RawMessage) {
	t.Helper()
	ctx := context.Background()

	st, err := rocksdb.Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	addr := store.AccountAddress{ViewPublic: keys.PublicKey{1}, SpendPublic: keys.PublicKey{2}}
	var acct store.Account
	var payloads []json.RawMessage
	if err := st.Update(ctx, func(tx store.WriteTx) error {
		var err error
		if acct, err = tx.AddAccount(ctx, addr, store.ViewKey{3}, 0, 0); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			payload := json.RawMessage(`{"tx_hash":"aa","index":` + string(rune('0'+i)) + `}`)
			payloads = append(payloads, payload)
			if err := tx.InsertEvent(ctx, store.Event{
				Kind:    "OutputReceived",
				Account: acct.ID,
				Height:  store.BlockID(10 + i),
				Payload: payload,
			}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return st, acct, payloads
}

func cursor(t *testing.T, st store.Store, id store.AccountID) uint64 {
	t.Helper()
	var c uint64
	if err := st.View(context.Background(), func(tx store.ReadTx) error {
		var err error
		c, err = tx.EventCursor(context.Background(), id)
		return err
	}); err != nil {
		t.Fatalf("EventCursor: %v", err)
	}
	return c
}

func TestPublisher_PublishesAndAdvancesCursor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, acct, payloads := setup(t, 3)
	br := &fakeBroker{}
	p, err := New(st, br, Config{Network: keys.Testnet, BatchSize: 2}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.publishOnce(ctx); err != nil {
		t.Fatalf("publishOnce: %v", err)
	}
	if len(br.msgs) != 3 {
		t.Fatalf("expected 3 publishes, got %d", len(br.msgs))
	}

	for i, msg := range br.msgs {
		var env broker.Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Kind != "OutputReceived" || env.AccountID != uint32(acct.ID) || env.Height != uint64(10+i) {
			t.Fatalf("unexpected envelope %d: %+v", i, env)
		}
		if env.Address != keys.FormatAddress(keys.Testnet, acct.Address.Keys()) {
			t.Fatalf("unexpected address %q", env.Address)
		}
		if string(env.Payload) != string(payloads[i]) {
			t.Fatalf("unexpected payload: %s", env.Payload)
		}
		if msg.Key != "0" || msg.Kind != "OutputReceived" {
			t.Fatalf("unexpected message routing: %+v", msg)
		}
	}
	if br.msgs[0].ID == br.msgs[1].ID {
		t.Fatalf("message ids must differ")
	}

	if got := cursor(t, st, acct.ID); got != 3 {
		t.Fatalf("cursor=%d want 3", got)
	}

	if err := p.publishOnce(ctx); err != nil {
		t.Fatalf("publishOnce 2: %v", err)
	}
	if len(br.msgs) != 3 {
		t.Fatalf("expected no additional publishes, got %d", len(br.msgs))
	}
}

func TestPublisher_FailureKeepsCursorAtLastDelivered(t *testing.T) {
	ctx := context.Background()
	st, acct, _ := setup(t, 3)
	br := &fakeBroker{failAt: 2}
	p, err := New(st, br, Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.publishOnce(ctx); err == nil {
		t.Fatalf("expected publish error")
	}
	if got := cursor(t, st, acct.ID); got != 1 {
		t.Fatalf("cursor=%d want 1", got)
	}

	if err := p.publishOnce(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(br.msgs) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(br.msgs))
	}
	if got := cursor(t, st, acct.ID); got != 3 {
		t.Fatalf("cursor=%d want 3", got)
	}
}

func TestPublisher_RunStopsOnCancel(t *testing.T) {
	st, _, _ := setup(t, 1)
	br := &fakeBroker{}
	p, err := New(st, br, Config{PollInterval: 5 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for cursor(t, st, 0) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("event never published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, &fakeBroker{}, Config{}, nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
	st, _, _ := setup(t, 0)
	if _, err := New(st, nil, Config{}, nil); err == nil {
		t.Fatalf("expected error for nil broker")
	}
}
