package zmq

import (
	"bytes"
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// fakePeer accepts one connection, handshakes as socketType and hands the
// connection to serve.
func fakePeer(t *testing.T, socketType string, serve func(*peer)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				p, err := newPeer(conn, peerConfig{SocketType: socketType, ReadTimeout: 5 * time.Second, WriteTimeout: time.Second})
				if err != nil {
					return
				}
				serve(p)
			}()
		}
	}()
	return "tcp://" + ln.Addr().String()
}

func TestRequester_RoundTrip(t *testing.T) {
	endpoint := fakePeer(t, "REP", func(p *peer) {
		for {
			frames, err := p.recv()
			if err != nil {
				return
			}
			if len(frames) != 2 || len(frames[0]) != 0 {
				return
			}
			_ = p.send(nil, append([]byte("echo:"), frames[1]...))
		}
	})

	q, err := NewRequester(RequestConfig{Endpoint: endpoint, ReadTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewRequester: %v", err)
	}
	defer q.Close()

	for _, msg := range []string{"one", "two"} {
		got, err := q.Request(context.Background(), []byte(msg))
		if err != nil {
			t.Fatalf("Request(%q): %v", msg, err)
		}
		if want := "echo:" + msg; string(got) != want {
			t.Fatalf("reply=%q want %q", got, want)
		}
	}
}

func TestRequester_ReconnectsAfterFailure(t *testing.T) {
	var calls atomic.Int32
	endpoint := fakePeer(t, "REP", func(p *peer) {
		frames, err := p.recv()
		if err != nil || len(frames) != 2 {
			return
		}
		if calls.Add(1) == 1 {
			return
		}
		_ = p.send(nil, []byte("ok"))
	})

	q, err := NewRequester(RequestConfig{Endpoint: endpoint, ReadTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewRequester: %v", err)
	}
	defer q.Close()

	if _, err := q.Request(context.Background(), []byte("x")); err == nil {
		t.Fatalf("expected error when peer hangs up")
	}
	got, err := q.Request(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("Request after reconnect: %v", err)
	}
	if string(got) != "ok" {
		t.Fatalf("reply=%q want ok", got)
	}
}

func TestRequester_ContextCancel(t *testing.T) {
	endpoint := fakePeer(t, "REP", func(p *peer) {
		_, _ = p.recv()
		time.Sleep(2 * time.Second)
	})

	q, err := NewRequester(RequestConfig{Endpoint: endpoint, ReadTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewRequester: %v", err)
	}
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := q.Request(ctx, []byte("x")); err == nil {
		t.Fatalf("expected error on cancel")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Request did not honor ctx")
	}
}

func TestRequester_Closed(t *testing.T) {
	q, err := NewRequester(RequestConfig{Endpoint: "127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewRequester: %v", err)
	}
	_ = q.Close()
	if _, err := q.Request(context.Background(), nil); err != ErrClosed {
		t.Fatalf("err=%v want ErrClosed", err)
	}
}

func TestNotify_SignalsOnTopic(t *testing.T) {
	endpoint := fakePeer(t, "PUB", func(p *peer) {
		frames, err := p.recv()
		if err != nil || len(frames) != 1 || !bytes.HasPrefix(frames[0], []byte{0x01}) {
			return
		}
		topic := frames[0][1:]
		_ = p.send([]byte("other"), []byte("{}"))
		_ = p.send(topic, []byte(`{"first_height":1}`))
		time.Sleep(time.Second)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- Notify(ctx, NotifyConfig{Endpoint: endpoint, ReadTimeout: 2 * time.Second}, out, nil)
	}()

	select {
	case <-out:
	case <-time.After(3 * time.Second):
		t.Fatalf("no notification")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Notify: %v", err)
	}
}
