package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/cncjs/cnc-core/internal/logx"
)

// TCPOptions configures a TCP Transport.
type TCPOptions struct {
	Host   string
	Port   int
	Logger logx.Logger
}

// TCP is a Transport backed by a raw TCP socket to the firmware (e.g. an
// ESP32-based WiFi-to-serial bridge).
type TCP struct {
	base
	opts TCPOptions
	conn net.Conn
}

// NewTCP creates a TCP Transport; Open actually dials.
func NewTCP(opts TCPOptions) *TCP {
	return &TCP{base: newBase(opts.Logger), opts: opts}
}

// Open implements Transport.
func (t *TCP) Open(ctx context.Context, h EventHandler, cb func(error)) {
	addr := fmt.Sprintf("%s:%d", t.opts.Host, t.opts.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		cb(fmt.Errorf("transport/tcp: dial %s: %w", addr, err))
		return
	}
	t.conn = conn
	cb(nil)
	go readPump(conn, h, t.isClosed)
}

// Write implements Transport.
func (t *TCP) Write(p []byte) error {
	if t.isClosed() {
		return ErrClosed
	}
	p = t.applyFilter(p)
	_, err := t.conn.Write(p)
	return err
}

// Close implements Transport.
func (t *TCP) Close() error {
	if !t.markClosed() {
		return nil
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
