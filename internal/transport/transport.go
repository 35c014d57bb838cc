// Package transport implements the duplex byte channel to a firmware: a
// serial port or a raw TCP socket, with a writeFilter hook invoked on every
// outgoing buffer before it reaches the wire (spec.md 4.1).
package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/cncjs/cnc-core/internal/logx"
)

// ErrClosed is returned by Write once the Transport has been closed.
var ErrClosed = errors.New("transport: closed")

// WriteFilter rewrites (or observes) every outgoing buffer before it hits
// the wire. It may return a different byte slice; side effects on
// controller-observable state (e.g. reconciling reporting units from a
// "$13=" line) are the caller's responsibility, not the Transport's.
type WriteFilter func(p []byte) []byte

// EventHandler receives Transport-level events, delivered on a dedicated
// goroutine per Transport so the caller never observes re-entrant calls.
type EventHandler interface {
	OnData(b []byte)
	OnClose(err error)
	OnError(err error)
}

// Transport is the byte-level link to a firmware.
type Transport interface {
	// Open starts the read pump and invokes cb once, synchronously or
	// asynchronously, with the open error (nil on success). Further errors
	// arrive via the EventHandler.
	Open(ctx context.Context, h EventHandler, cb func(error))
	// Write submits bytes for transmission, running them through the
	// installed WriteFilter first. Non-blocking best-effort: backpressure
	// is the flow-control protocol's job, not the Transport's.
	Write(p []byte) error
	// Close shuts down the transport. Idempotent.
	Close() error
	// SetWriteFilter installs or replaces the write filter.
	SetWriteFilter(f WriteFilter)
}

// base provides the bookkeeping shared by every Transport implementation:
// filter storage and close-once semantics.
type base struct {
	mu     sync.Mutex
	filter WriteFilter
	closed bool

	logger logx.Logger
}

func newBase(logger logx.Logger) base {
	return base{logger: logx.OrDefault(logger, "transport")}
}

func (b *base) SetWriteFilter(f WriteFilter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter = f
}

func (b *base) applyFilter(p []byte) []byte {
	b.mu.Lock()
	f := b.filter
	b.mu.Unlock()
	if f == nil {
		return p
	}
	return f(p)
}

func (b *base) markClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.closed = true
	return true
}

func (b *base) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// readPump reads from rc in a loop, dispatching OnData/OnClose/OnError to h,
// until rc returns an error (including the synthetic one from Close).
func readPump(rc io.Reader, h EventHandler, closed func() bool) {
	buf := make([]byte, 4096)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			h.OnData(cp)
		}
		if err != nil {
			if closed() {
				h.OnClose(nil)
			} else {
				h.OnError(err)
				h.OnClose(err)
			}
			return
		}
	}
}
