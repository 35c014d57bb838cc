// Package sender implements the Sender: it streams a loaded G-code program
// line-by-line under a firmware-appropriate flow-control protocol, enforcing
// the invariant received <= sent <= len(lines) at every step (spec.md 3, 8).
package sender

import (
	"strings"
	"time"

	"github.com/cncjs/cnc-core/internal/exprctx"
	"github.com/cncjs/cnc-core/internal/xtime"
)

// Protocol identifies the flow-control strategy a dialect uses.
type Protocol int

const (
	// SendResponse: send one line, wait for ok, send next (Marlin).
	SendResponse Protocol = iota
	// CharCounting: keep outstanding bytes <= BufferSize (Grbl, Smoothie).
	CharCounting
	// QueueReport: bounded window replenished by qr events (TinyG/g2core).
	QueueReport
)

// ProtocolSpec parameterizes the streaming protocol for a dialect.
type ProtocolSpec struct {
	Protocol Protocol
	// BufferSize is the firmware's input buffer size in bytes, used by
	// CharCounting.
	BufferSize int
	// WindowSize is the number of outstanding lines permitted before a qr
	// event replenishes the window, used by QueueReport.
	WindowSize int
}

// HoldReason tags why the Sender stopped transmitting.
type HoldReason struct {
	M0, M1, M6 bool
	Wait       bool
	Err        string
}

// Program is a loaded G-code program.
type Program struct {
	Name    string
	Content string
}

// Hooks notifies the Controller of Sender lifecycle events.
type Hooks struct {
	// Data is called once per line to actually write it to the Transport.
	Data func(line string, ctx exprctx.Context)
	// Start/End fire when the first line is sent / the program finishes.
	Start func(t time.Time)
	End   func(t time.Time)
	// Hold/Unhold mirror the Feeder's hold semantics but for program-level
	// pauses (M0/M1/M6 raise a Workflow pause instead — see Controller).
	Hold   func(reason HoldReason)
	Unhold func()
}

// Status is the JSON-serializable snapshot returned by toJSON (spec.md 4.4).
type Status struct {
	Name       string          `json:"name"`
	Size       int             `json:"size"`
	Total      int             `json:"total"`
	Sent       int             `json:"sent"`
	Received   int             `json:"received"`
	Protocol   ProtocolSpec    `json:"sp"`
	Context    exprctx.Context `json:"context"`
	FinishTime xtime.Milli     `json:"finishTime"`
}

// Sender streams one loaded program at a time.
type Sender struct {
	hooks Hooks
	sp    ProtocolSpec

	name    string
	content string
	lines   []string

	sent     int
	received int

	dataLength int // CharCounting: outstanding bytes of unacked lines
	inFlight   int // QueueReport: outstanding unacked lines

	hold       bool
	holdReason *HoldReason

	ctx        exprctx.Context
	startTime  time.Time
	finishTime time.Time
}

// New creates an unloaded Sender for the given protocol.
func New(sp ProtocolSpec, hooks Hooks) *Sender {
	return &Sender{sp: sp, hooks: hooks, ctx: exprctx.Context{}}
}

// terminalWait is appended to every loaded program so the finish detector
// has a line to hold on (spec.md 6: "sender:load appends ... %wait").
const terminalWait = "%wait ; Wait for the planner to empty"

// Load splits content into lines on LF, drops blank lines (comments are
// stripped later, at emission time), appends the terminal wait sentinel, and
// resets counters. Any previously loaded program is replaced; Load always
// returns true.
func (s *Sender) Load(p Program, ctx exprctx.Context) bool {
	full := p.Content
	if !strings.HasSuffix(strings.TrimRight(full, "\n"), terminalWait) {
		full = strings.TrimRight(full, "\n") + "\n" + terminalWait
	}
	lines := strings.Split(full, "\n")
	var nonEmpty []string
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		nonEmpty = append(nonEmpty, l)
	}

	s.name = p.Name
	s.content = p.Content
	s.lines = nonEmpty
	s.sent = 0
	s.received = 0
	s.dataLength = 0
	s.inFlight = 0
	s.hold = false
	s.holdReason = nil
	s.ctx = ctx
	s.startTime = time.Time{}
	s.finishTime = time.Time{}
	return true
}

// Unload clears the loaded program.
func (s *Sender) Unload() {
	s.name = ""
	s.content = ""
	s.lines = nil
	s.sent = 0
	s.received = 0
	s.dataLength = 0
	s.inFlight = 0
	s.hold = false
	s.holdReason = nil
	s.finishTime = time.Time{}
}

// Rewind resets sent/received counters and clears any hold for a fresh start
// without reloading content (Workflow start/stop calls this per spec.md 4.5).
func (s *Sender) Rewind() {
	s.sent = 0
	s.received = 0
	s.dataLength = 0
	s.inFlight = 0
	s.hold = false
	s.holdReason = nil
	s.startTime = time.Time{}
	s.finishTime = time.Time{}
}

// Hold stops further Next() transmissions.
func (s *Sender) Hold(reason HoldReason) {
	if s.hold {
		return
	}
	s.hold = true
	s.holdReason = &reason
	if s.hooks.Hold != nil {
		s.hooks.Hold(reason)
	}
}

// Unhold releases a hold and is a no-op if not held.
func (s *Sender) Unhold() {
	if !s.hold {
		return
	}
	s.hold = false
	s.holdReason = nil
	if s.hooks.Unhold != nil {
		s.hooks.Unhold()
	}
}

// IsHeld reports whether the Sender is currently held.
func (s *Sender) IsHeld() bool { return s.hold }

// Peek reports whether there is more to send.
func (s *Sender) Peek() bool {
	return s.sent < len(s.lines)
}

// Next attempts to transmit the next unsent line if flow control and hold
// state permit it. It may transmit zero or more lines per call: at most one
// under SendResponse, and as many as fit the buffer (CharCounting) or the
// window (QueueReport) otherwise; callers typically call Next after every ack
// and after unhold.
func (s *Sender) Next() {
	if s.hold {
		return
	}
	for s.sent < len(s.lines) {
		line := s.lines[s.sent]
		if !s.canSend(line) {
			return
		}
		if s.startTime.IsZero() {
			s.startTime = time.Now()
			if s.hooks.Start != nil {
				s.hooks.Start(s.startTime)
			}
		}

		result, err := exprctx.Translate(line, s.ctx)
		if err != nil {
			// Surface as a held error state; the Controller decides how to
			// recover (spec.md 7: InvariantViolation recovery is ack+next).
			s.Hold(HoldReason{Err: err.Error()})
			return
		}
		s.ctx = result.NewContext

		if result.IsWait {
			s.markSent(line)
			if s.hooks.Data != nil {
				s.hooks.Data(result.Line, s.ctx)
			}
			s.Hold(HoldReason{Wait: true})
			return
		}
		if result.IsAssignment {
			s.markSent(line)
			continue
		}
		if isPauseWord(result.Line, "M0") || isPauseWord(result.Line, "M1") {
			s.markSent(line)
			reason := HoldReason{M0: isPauseWord(result.Line, "M0"), M1: isPauseWord(result.Line, "M1")}
			if s.hooks.Data != nil {
				s.hooks.Data(result.Line, s.ctx)
			}
			s.Hold(reason)
			return
		}
		if isPauseWord(result.Line, "M6") {
			s.markSent(line)
			wrapped := "(" + result.Line + ")"
			if s.hooks.Data != nil {
				s.hooks.Data(wrapped, s.ctx)
			}
			s.Hold(HoldReason{M6: true})
			return
		}
		if result.Line == "" {
			s.markSent(line)
			continue
		}

		s.markSent(line)
		if s.hooks.Data != nil {
			s.hooks.Data(result.Line, s.ctx)
		}
		if s.sp.Protocol == SendResponse {
			return // exactly one outstanding line at a time
		}
	}
}

func isPauseWord(line, word string) bool {
	trimmed := strings.ToUpper(strings.TrimSpace(line))
	return trimmed == word || strings.HasPrefix(trimmed, word+" ")
}

// canSend reports whether line (plus a trailing LF) fits the protocol's
// outstanding budget.
func (s *Sender) canSend(line string) bool {
	switch s.sp.Protocol {
	case SendResponse:
		return s.sent == s.received
	case CharCounting:
		return s.dataLength+len(line)+1 <= s.sp.BufferSize
	case QueueReport:
		return s.inFlight < s.sp.WindowSize
	default:
		return true
	}
}

func (s *Sender) markSent(line string) {
	s.sent++
	switch s.sp.Protocol {
	case CharCounting:
		s.dataLength += len(line) + 1
	case QueueReport:
		s.inFlight++
	}
}

// Ack credits one outstanding line. On CharCounting it subtracts the byte
// length of lines[received]; on QueueReport it decrements inFlight; on
// SendResponse it just advances the counter. An ack received while
// received==sent must not advance received past sent (spec.md 8).
func (s *Sender) Ack() {
	if s.received >= s.sent {
		return
	}
	line := s.lines[s.received]
	switch s.sp.Protocol {
	case CharCounting:
		s.dataLength -= len(line) + 1
		if s.dataLength < 0 {
			s.dataLength = 0
		}
	case QueueReport:
		if s.inFlight > 0 {
			s.inFlight--
		}
	}
	s.received++
	if s.received == s.sent && s.sent == len(s.lines) {
		s.finishTime = time.Now()
		if s.hooks.End != nil {
			s.hooks.End(s.finishTime)
		}
	}
}

// ReplenishWindow credits n outstanding lines at once, the TinyG/g2core qr
// event semantics (spec.md 4.4): "the window is replenished by qr events
// rather than ok count".
func (s *Sender) ReplenishWindow(n int) {
	for i := 0; i < n && s.received < s.sent; i++ {
		s.Ack()
	}
}

// FinishTime returns the wall-clock time the program finished, or the zero
// time if it has not (yet) finished.
func (s *Sender) FinishTime() time.Time { return s.finishTime }

// State exposes the raw counters for invariant tests and the Controller's
// ack-correlation logic.
func (s *Sender) State() (sent, received, total int) {
	return s.sent, s.received, len(s.lines)
}

// HoldReasonValue returns the current hold reason, if held.
func (s *Sender) HoldReasonValue() (HoldReason, bool) {
	if s.holdReason == nil {
		return HoldReason{}, false
	}
	return *s.holdReason, true
}

// ToJSON returns a serializable status snapshot (spec.md 4.4, 8: round-trip
// preserves name/size/total/sent/received/sp/context).
func (s *Sender) ToJSON() Status {
	return Status{
		Name:       s.name,
		Size:       len(s.content),
		Total:      len(s.lines),
		Sent:       s.sent,
		Received:   s.received,
		Protocol:   s.sp,
		Context:    s.ctx,
		FinishTime: xtime.Milli(s.finishTime),
	}
}
