package zmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrClosed = errors.New("zmq: client closed")

type RequestConfig struct {
	Endpoint     string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Requester is a REQ socket speaking to a single REP or ROUTER peer. Calls
// are serialized; a failed exchange drops the connection and the next call
// redials.
type Requester struct {
	addr string
	cfg  peerConfig

	mu     sync.Mutex
	p      *peer
	closed bool
}

func NewRequester(cfg RequestConfig) (*Requester, error) {
	addr, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	pc := peerConfig{
		SocketType:   "REQ",
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if pc.DialTimeout <= 0 {
		pc.DialTimeout = 10 * time.Second
	}
	if pc.ReadTimeout <= 0 {
		pc.ReadTimeout = 30 * time.Second
	}
	if pc.WriteTimeout <= 0 {
		pc.WriteTimeout = 5 * time.Second
	}
	return &Requester{addr: addr, cfg: pc}, nil
}

// Request sends body as one message and returns the reply's frames joined.
func (q *Requester) Request(ctx context.Context, body []byte) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if q.p == nil {
		p, err := dialPeer(ctx, q.addr, q.cfg)
		if err != nil {
			return nil, err
		}
		q.p = p
	}

	p := q.p
	stop := context.AfterFunc(ctx, func() { _ = p.conn.SetDeadline(time.Now()) })
	reply, err := exchange(p, body)
	if !stop() {
		err = errors.Join(ctx.Err(), err)
	}
	if err != nil {
		q.drop()
		return nil, err
	}
	return reply, nil
}

// exchange sends body behind the empty envelope delimiter REQ requires.
func exchange(p *peer, body []byte) ([]byte, error) {
	if err := p.send(nil, body); err != nil {
		return nil, fmt.Errorf("request: write: %w", err)
	}
	frames, err := p.recv()
	if err != nil {
		return nil, fmt.Errorf("request: read reply: %w", err)
	}
	if len(frames) == 0 || len(frames[0]) != 0 {
		return nil, errors.New("request: reply missing delimiter")
	}
	var out []byte
	for _, f := range frames[1:] {
		out = append(out, f...)
	}
	return out, nil
}

func (q *Requester) drop() {
	if q.p != nil {
		_ = q.p.close()
	}
	q.p = nil
}

func (q *Requester) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.drop()
	return nil
}
