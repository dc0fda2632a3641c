// Package zmq is a minimal ZMTP 3.0 client for the daemon's REQ/REP RPC
// and PUB chain notifications. Only the NULL security mechanism over TCP
// is supported.
package zmq

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

var ErrEndpointInvalid = errors.New("zmq: invalid endpoint")

// maxFrame bounds a single inbound frame.
const maxFrame = 128 << 20

const (
	flagMore    byte = 0x01
	flagLong    byte = 0x02
	flagCommand byte = 0x04
)

// ParseEndpoint accepts "tcp://host:port" or a bare "host:port" and
// returns the dial address.
func ParseEndpoint(endpoint string) (string, error) {
	e := strings.TrimSpace(endpoint)
	if rest, ok := strings.CutPrefix(e, "tcp://"); ok {
		e = rest
	} else if strings.Contains(e, "://") {
		return "", ErrEndpointInvalid
	}
	host, port, err := net.SplitHostPort(e)
	if err != nil || host == "" || port == "" {
		return "", ErrEndpointInvalid
	}
	return e, nil
}

// greeting is the 64 byte ZMTP 3.0 greeting for the NULL mechanism as a
// client (as-server unset).
func greeting() [64]byte {
	var g [64]byte
	g[0], g[9] = 0xFF, 0x7F
	g[10], g[11] = 3, 0
	copy(g[12:], "NULL")
	return g
}

// appendFrame encodes one frame. Bodies over 255 bytes use the 8 byte
// length form.
func appendFrame(dst []byte, flags byte, body []byte) []byte {
	if len(body) > 255 {
		dst = append(dst, flags|flagLong)
		dst = binary.BigEndian.AppendUint64(dst, uint64(len(body)))
	} else {
		dst = append(dst, flags, byte(len(body)))
	}
	return append(dst, body...)
}

// readFrame returns the flags and body of the next frame on r.
func readFrame(r io.Reader) (byte, []byte, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:2]); err != nil {
		return 0, nil, err
	}
	flags := hdr[0]
	size := uint64(hdr[1])
	if flags&flagLong != 0 {
		if _, err := io.ReadFull(r, hdr[2:]); err != nil {
			return 0, nil, err
		}
		size = binary.BigEndian.Uint64(hdr[1:])
	}
	if size > maxFrame {
		return 0, nil, fmt.Errorf("zmq: frame too large: %d", size)
	}
	if size == 0 {
		return flags, nil, nil
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return flags, body, nil
}

// readyCommand is the READY command body advertising socketType.
func readyCommand(socketType string) []byte {
	b := []byte{5}
	b = append(b, "READY"...)
	for _, p := range [][2]string{{"Socket-Type", socketType}, {"Identity", ""}} {
		b = append(b, byte(len(p[0])))
		b = append(b, p[0]...)
		b = binary.BigEndian.AppendUint32(b, uint32(len(p[1])))
		b = append(b, p[1]...)
	}
	return b
}

// peer is one handshaken connection.
type peer struct {
	conn         net.Conn
	r            *bufio.Reader
	readTimeout  time.Duration
	writeTimeout time.Duration
}

type peerConfig struct {
	SocketType   string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func dialPeer(ctx context.Context, addr string, cfg peerConfig) (*peer, error) {
	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	p, err := newPeer(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

// newPeer runs the greeting and READY exchange on conn.
func newPeer(conn net.Conn, cfg peerConfig) (*peer, error) {
	p := &peer{conn: conn, r: bufio.NewReader(conn), readTimeout: cfg.ReadTimeout, writeTimeout: cfg.WriteTimeout}

	g := greeting()
	if err := p.write(g[:]); err != nil {
		return nil, fmt.Errorf("handshake: write greeting: %w", err)
	}
	var theirs [64]byte
	p.deadline()
	if _, err := io.ReadFull(p.r, theirs[:]); err != nil {
		return nil, fmt.Errorf("handshake: read greeting: %w", err)
	}
	if theirs[0] != 0xFF || theirs[9] != 0x7F || theirs[10] < 3 {
		return nil, errors.New("handshake: peer is not ZMTP 3")
	}

	if err := p.write(appendFrame(nil, flagCommand, readyCommand(cfg.SocketType))); err != nil {
		return nil, fmt.Errorf("handshake: send READY: %w", err)
	}
	p.deadline()
	flags, _, err := readFrame(p.r)
	if err != nil {
		return nil, fmt.Errorf("handshake: read READY: %w", err)
	}
	if flags&flagCommand == 0 {
		return nil, errors.New("handshake: expected READY command")
	}
	return p, nil
}

func (p *peer) write(b []byte) error {
	if p.writeTimeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	_, err := p.conn.Write(b)
	return err
}

func (p *peer) deadline() {
	if p.readTimeout > 0 {
		_ = p.conn.SetReadDeadline(time.Now().Add(p.readTimeout))
	}
}

// send writes frames as one multipart message.
func (p *peer) send(frames ...[]byte) error {
	var buf []byte
	for i, f := range frames {
		var flags byte
		if i < len(frames)-1 {
			flags = flagMore
		}
		buf = appendFrame(buf, flags, f)
	}
	return p.write(buf)
}

// recv returns the next message, skipping any commands in between.
func (p *peer) recv() ([][]byte, error) {
	var msg [][]byte
	for {
		p.deadline()
		flags, body, err := readFrame(p.r)
		if err != nil {
			return nil, err
		}
		if flags&flagCommand != 0 {
			continue
		}
		msg = append(msg, body)
		if flags&flagMore == 0 {
			return msg, nil
		}
	}
}

func (p *peer) close() error { return p.conn.Close() }
