// Package ident derives the canonical connection identifier used
// as the key in the global controller registry and as the handle clients
// pass back on every subsequent operation.
package ident

import "fmt"

// Kind is the transport kind of a ConnectionDescriptor.
type Kind string

const (
	Serial Kind = "serial"
	TCP    Kind = "tcp"
)

// Descriptor identifies one open (or to-be-opened) connection.
type Descriptor struct {
	Kind Kind

	// Serial fields.
	Path string
	Baud int

	// TCP fields.
	Host string
	Port int
}

// Ident returns the canonical, deterministic identifier for d.
//
//	serial:/dev/ttyUSB0@115200
//	tcp:192.168.1.10:23
func (d Descriptor) Ident() string {
	switch d.Kind {
	case Serial:
		return fmt.Sprintf("serial:%s@%d", d.Path, d.Baud)
	case TCP:
		return fmt.Sprintf("tcp:%s:%d", d.Host, d.Port)
	default:
		return fmt.Sprintf("%s:%s", d.Kind, d.Path)
	}
}
