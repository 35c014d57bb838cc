// Package dialect defines the capability set each firmware dialect
// implements (spec.md 9: "Model as a generic Controller<Dialect> parameterized
// by a Dialect capability set"). internal/dialect/{grbl,smoothie,tinyg,marlin}
// each provide a concrete Dialect; internal/controller is generic over it.
package dialect

import (
	"time"

	"github.com/cncjs/cnc-core/internal/sender"
)

// Kind names the four supported firmware dialects.
type Kind string

const (
	Grbl     Kind = "Grbl"
	Smoothie Kind = "Smoothie"
	TinyG    Kind = "TinyG"
	Marlin   Kind = "Marlin"
)

// EventKind discriminates the typed events a LineRunner produces.
type EventKind int

const (
	EventOK EventKind = iota
	EventError
	EventAlarm
	EventStatus
	EventParserState
	EventParameters
	EventSettings
	EventStartup
	EventQueueReport
	EventFirmwareInfo
	EventPosition
	EventTemperature
	EventEcho
	EventOther
)

// Event is one parsed line from the firmware, tagged by Kind with dialect-
// specific payloads left as opaque maps so the generic Controller need not
// know every dialect's field set.
type Event struct {
	Kind EventKind
	Raw  string

	// Error/Alarm
	Code    int
	HasCode bool
	Message string

	// Status (Grbl/Smoothie) / SR (TinyG) / Position (Marlin)
	MachineState string
	MPos         map[string]float64
	WPos         map[string]float64

	// Grbl/Smoothie buffer report within a status line: {rx: n}.
	BufferRx int

	// TinyG queue report.
	QR int

	// Settings ($name=value, or M92 etc.)
	SettingName  string
	SettingValue string

	// Firmware banner / M115 reply.
	Firmware        string
	Version         string
	ProtocolVersion string
	MachineType     string
	ExtruderCount   int
	UUID            string

	// Generic free-form fields for less common payloads (parameters,
	// temperature, modal groups) so dialects aren't forced through a
	// shared-but-irrelevant struct shape.
	Fields map[string]any
}

// Runner is a stateless line tokenizer plus a thin mutable last-known-value
// model (settings, modal state, position). Feed accumulates bytes until LF
// and returns zero or more Events (it may buffer a partial line).
type Runner interface {
	// Feed appends bytes read from the Transport and returns events parsed
	// from any complete lines now available.
	Feed(b []byte) []Event

	IsIdle() bool
	IsAlarm() bool
	MachinePosition() (map[string]float64, bool)
	WorkPosition() (map[string]float64, bool)
	Tool() (string, bool)
}

// OverrideKind names the three override channels a Controller can adjust.
type OverrideKind int

const (
	OverrideFeed OverrideKind = iota
	OverrideSpindle
	OverrideRapid
)

// OverrideEncoder turns a requested percentage delta into the bytes or
// G-code the dialect uses to apply it, with its own clamping rules.
type OverrideEncoder interface {
	// Encode returns the bytes to write (realtime byte sequence or an
	// ASCII line) for a delta against kind. delta == 0 means "reset to
	// 100%".
	Encode(kind OverrideKind, delta int) []byte
}

// RealtimeBytes is the set of single bytes a dialect processes out-of-band
// from its line buffer (Grbl/Smoothie: ?, !, ~, 0x18, ...; TinyG: !, ~, %).
type RealtimeBytes struct {
	StatusQuery byte // '?'
	FeedHold    byte // '!'
	CycleStart  byte // '~'
	SoftReset   byte // 0x18
	HasSoftReset bool
}

// Dialect bundles everything generic Controller code needs from a specific
// firmware, per spec.md 9.
type Dialect struct {
	Kind Kind

	NewRunner func() Runner

	Protocol sender.ProtocolSpec
	Realtime RealtimeBytes
	Override OverrideEncoder

	// OpenHandshake writes whatever the dialect sends unconditionally when
	// the transport first connects (M115 for Marlin, "version" for
	// Smoothie, JSON mode + $sys for TinyG; Grbl sends nothing here —
	// spec.md 4.6 has it wait for the banner first). It returns the
	// dialect's fixed settle delay (Smoothie's 1s, Grbl's 50ms; zero for
	// Marlin and TinyG). Controller.Open ignores the returned delay and does
	// not wait on it.
	OpenHandshake func(write func([]byte)) time.Duration

	// ImmediateReady is true when the dialect is considered ready as soon
	// as OpenHandshake returns, rather than waiting for a specific event
	// (Smoothie, TinyG per spec.md 9; Grbl and Marlin gate on ReadyOn).
	ImmediateReady bool

	// ReadyOn reports whether ev is the event that flips ready=true (Grbl:
	// the "Grbl x.x" banner; Marlin: the M115 firmware reply). Ignored when
	// ImmediateReady is set.
	ReadyOn func(ev Event) bool

	// PostReadyHandshake writes whatever must follow readiness (Grbl's
	// "$$" after the banner). Nil for dialects with nothing left to send.
	PostReadyHandshake func(write func([]byte))

	// QueryLine is the line/byte sequence used to poll status ('?' for
	// Grbl/Smoothie, a JSON {"sr":null} frame for TinyG, M114 for Marlin).
	QueryLine []byte
	// ParserStateLine polls modal state ($G for Grbl/Smoothie, M503-style
	// for Marlin, omitted for TinyG where it rides on sr).
	ParserStateLine []byte
}
