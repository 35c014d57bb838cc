package transport

import (
	"context"
	"fmt"

	"go.bug.st/serial"

	"github.com/cncjs/cnc-core/internal/logx"
)

// SerialOptions configures a Serial Transport.
type SerialOptions struct {
	Path   string
	Baud   int
	Logger logx.Logger
}

// Serial is a Transport backed by a host serial port (go.bug.st/serial),
// the variant used for USB-attached Grbl/Smoothie/Marlin boards.
type Serial struct {
	base
	opts SerialOptions
	port serial.Port
}

// NewSerial creates a Serial Transport; Open actually opens the port.
func NewSerial(opts SerialOptions) *Serial {
	return &Serial{base: newBase(opts.Logger), opts: opts}
}

// Open implements Transport.
func (s *Serial) Open(ctx context.Context, h EventHandler, cb func(error)) {
	mode := &serial.Mode{BaudRate: s.opts.Baud}
	port, err := serial.Open(s.opts.Path, mode)
	if err != nil {
		cb(fmt.Errorf("transport/serial: open %s: %w", s.opts.Path, err))
		return
	}
	s.port = port
	cb(nil)
	go readPump(port, h, s.isClosed)
}

// Write implements Transport.
func (s *Serial) Write(p []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	p = s.applyFilter(p)
	_, err := s.port.Write(p)
	return err
}

// Close implements Transport.
func (s *Serial) Close() error {
	if !s.markClosed() {
		return nil
	}
	if s.port != nil {
		return s.port.Close()
	}
	return nil
}
