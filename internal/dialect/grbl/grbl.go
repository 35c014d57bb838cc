// Package grbl implements the Grbl dialect: character-counting streaming,
// the classic realtime byte set, and Grbl's bracketed/angle-bracketed line
// grammar.
package grbl

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/cncjs/cnc-core/internal/dialect"
	"github.com/cncjs/cnc-core/internal/sender"
)

// BufferSize is Grbl's classic 127-byte serial RX buffer.
const BufferSize = 127

// errorMessages maps a subset of Grbl's numeric error codes to text, enough
// to exercise the Controller's error-mapping contract (spec.md 4.6).
var errorMessages = map[int]string{
	1:  "Expected command letter",
	2:  "Bad number format",
	3:  "Invalid statement",
	9:  "G-code locked out during alarm",
	20: "Unsupported command",
	22: "Feed rate not specified",
}

// Dialect returns the Grbl capability set.
func Dialect() dialect.Dialect {
	return dialect.Dialect{
		Kind:      dialect.Grbl,
		NewRunner: func() dialect.Runner { return newRunner() },
		Protocol: sender.ProtocolSpec{
			Protocol:   sender.CharCounting,
			BufferSize: BufferSize,
		},
		Realtime: dialect.RealtimeBytes{
			StatusQuery:  '?',
			FeedHold:     '!',
			CycleStart:   '~',
			SoftReset:    0x18,
			HasSoftReset: true,
		},
		Override:  overrideEncoder{},
		OpenHandshake: func(write func([]byte)) time.Duration {
			return 50 * time.Millisecond // spec.md 4.6: 50ms readiness budget, nothing sent up front
		},
		ReadyOn: func(ev dialect.Event) bool {
			return ev.Kind == dialect.EventStartup
		},
		PostReadyHandshake: func(write func([]byte)) {
			write([]byte("$$\n"))
		},
		QueryLine:       []byte("?"),
		ParserStateLine: []byte("$G\n"),
	}
}

type overrideEncoder struct{}

// Encode implements dialect.OverrideEncoder. Grbl overrides are single
// realtime bytes with asymmetric +1%/-1% (feed/spindle) and +10%/-10% steps,
// and dedicated reset bytes (spec.md 4.6).
func (overrideEncoder) Encode(kind dialect.OverrideKind, delta int) []byte {
	switch kind {
	case dialect.OverrideFeed:
		switch {
		case delta == 0:
			return []byte{0x90}
		case delta >= 10:
			return []byte{0x91}
		case delta <= -10:
			return []byte{0x92}
		case delta > 0:
			return []byte{0x93}
		default:
			return []byte{0x94}
		}
	case dialect.OverrideSpindle:
		switch {
		case delta == 0:
			return []byte{0x99}
		case delta >= 10:
			return []byte{0x9a}
		case delta <= -10:
			return []byte{0x9b}
		case delta > 0:
			return []byte{0x9c}
		default:
			return []byte{0x9d}
		}
	case dialect.OverrideRapid:
		switch {
		case delta == 0:
			return []byte{0x95}
		case delta >= 50:
			return []byte{0x96}
		default:
			return []byte{0x97}
		}
	default:
		return nil
	}
}

// runner tokenizes Grbl's line grammar. It is stateless across
// reconnects beyond the last-observed settings/modal/position snapshot.
type runner struct {
	buf         bytes.Buffer
	lastState   string
	lastMPos    map[string]float64
	lastWPos    map[string]float64
	lastTool    string
	alarm       bool
}

func newRunner() *runner {
	return &runner{}
}

// Feed implements dialect.Runner.
func (r *runner) Feed(b []byte) []dialect.Event {
	r.buf.Write(b)
	var events []dialect.Event
	for {
		data := r.buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(data[:i]), "\r")
		r.buf.Next(i + 1)
		if line == "" {
			continue
		}
		events = append(events, r.parseLine(line))
	}
	return events
}

func (r *runner) parseLine(line string) dialect.Event {
	switch {
	case line == "ok":
		return dialect.Event{Kind: dialect.EventOK, Raw: line}

	case strings.HasPrefix(line, "error:"):
		code, err := strconv.Atoi(strings.TrimPrefix(line, "error:"))
		msg := "unknown error"
		if err == nil {
			if m, ok := errorMessages[code]; ok {
				msg = m
			}
			return dialect.Event{Kind: dialect.EventError, Raw: line, Code: code, HasCode: true, Message: msg}
		}
		return dialect.Event{Kind: dialect.EventError, Raw: line, Message: line}

	case strings.HasPrefix(line, "ALARM:"):
		r.alarm = true
		code, err := strconv.Atoi(strings.TrimPrefix(line, "ALARM:"))
		if err == nil {
			return dialect.Event{Kind: dialect.EventAlarm, Raw: line, Code: code, HasCode: true}
		}
		return dialect.Event{Kind: dialect.EventAlarm, Raw: line}

	case strings.HasPrefix(line, "Grbl "):
		r.alarm = false
		return dialect.Event{Kind: dialect.EventStartup, Raw: line, Firmware: "Grbl"}

	case strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">"):
		return r.parseStatus(line)

	case strings.HasPrefix(line, "[GC:"):
		return dialect.Event{Kind: dialect.EventParserState, Raw: line, Fields: map[string]any{"modal": line[4 : len(line)-1]}}

	case strings.HasPrefix(line, "$") && strings.Contains(line, "="):
		name, value, _ := strings.Cut(strings.TrimPrefix(line, "$"), "=")
		return dialect.Event{Kind: dialect.EventSettings, Raw: line, SettingName: name, SettingValue: value}

	default:
		return dialect.Event{Kind: dialect.EventOther, Raw: line}
	}
}

// parseStatus parses "<Idle|MPos:0.000,0.000,0.000|Bf:15,128|FS:0,0>".
func (r *runner) parseStatus(line string) dialect.Event {
	body := line[1 : len(line)-1]
	parts := strings.Split(body, "|")
	if len(parts) == 0 {
		return dialect.Event{Kind: dialect.EventOther, Raw: line}
	}
	state := parts[0]
	r.lastState = state
	r.alarm = strings.EqualFold(state, "Alarm")

	ev := dialect.Event{Kind: dialect.EventStatus, Raw: line, MachineState: state}
	for _, p := range parts[1:] {
		key, val, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		switch key {
		case "MPos":
			ev.MPos = parseCoords(val)
			r.lastMPos = ev.MPos
		case "WPos":
			ev.WPos = parseCoords(val)
			r.lastWPos = ev.WPos
		case "Bf":
			if rx, _, ok := strings.Cut(val, ","); ok {
				if n, err := strconv.Atoi(rx); err == nil {
					ev.BufferRx = n
				}
			}
		}
	}
	return ev
}

func parseCoords(val string) map[string]float64 {
	axes := []string{"x", "y", "z", "a", "b", "c"}
	vals := strings.Split(val, ",")
	out := make(map[string]float64, len(vals))
	for i, v := range vals {
		if i >= len(axes) {
			break
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out[axes[i]] = f
	}
	return out
}

func (r *runner) IsIdle() bool { return strings.EqualFold(r.lastState, "Idle") }
func (r *runner) IsAlarm() bool { return r.alarm }

func (r *runner) MachinePosition() (map[string]float64, bool) {
	return r.lastMPos, r.lastMPos != nil
}

func (r *runner) WorkPosition() (map[string]float64, bool) {
	return r.lastWPos, r.lastWPos != nil
}

func (r *runner) Tool() (string, bool) { return r.lastTool, r.lastTool != "" }

// ErrorMessage returns the known text for a Grbl numeric error code.
func ErrorMessage(code int) (string, bool) {
	m, ok := errorMessages[code]
	return m, ok
}
