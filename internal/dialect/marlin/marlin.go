// Package marlin implements the Marlin dialect: send-response streaming,
// line-oriented only (no realtime byte set beyond what Marlin exposes as
// ordinary G/M-codes), M115-driven readiness.
package marlin

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/cncjs/cnc-core/internal/dialect"
	"github.com/cncjs/cnc-core/internal/sender"
)

// Dialect returns the Marlin capability set.
func Dialect() dialect.Dialect {
	return dialect.Dialect{
		Kind:      dialect.Marlin,
		NewRunner: func() dialect.Runner { return newRunner() },
		Protocol: sender.ProtocolSpec{
			Protocol: sender.SendResponse,
		},
		Realtime: dialect.RealtimeBytes{}, // Marlin has no realtime byte set
		Override: overrideEncoder{},
		OpenHandshake: func(write func([]byte)) time.Duration {
			write([]byte("M115\n"))
			return 0
		},
		ReadyOn: func(ev dialect.Event) bool {
			return ev.Kind == dialect.EventFirmwareInfo
		},
		QueryLine:       []byte("M114\n"),
		ParserStateLine: []byte("M503\n"),
	}
}

type overrideEncoder struct{}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Encode implements dialect.OverrideEncoder. Marlin clamps to [10,500] and
// issues M220 (feed) / M221 (flow/"spindle" slot reused for extrusion rate).
func (overrideEncoder) Encode(kind dialect.OverrideKind, delta int) []byte {
	pct := clamp(100+delta, 10, 500)
	switch kind {
	case dialect.OverrideFeed:
		return []byte("M220 S" + strconv.Itoa(pct) + "\n")
	case dialect.OverrideSpindle:
		return []byte("M221 S" + strconv.Itoa(pct) + "\n")
	default:
		return nil
	}
}

type runner struct {
	buf      bytes.Buffer
	lastPos  map[string]float64
	lastTool string
}

func newRunner() *runner { return &runner{} }

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
	case line == "ok" || strings.HasPrefix(line, "ok "):
		return dialect.Event{Kind: dialect.EventOK, Raw: line}

	case strings.HasPrefix(line, "Error:") || strings.HasPrefix(line, "!!"):
		return dialect.Event{Kind: dialect.EventError, Raw: line, Message: line}

	case strings.HasPrefix(line, "start"):
		return dialect.Event{Kind: dialect.EventStartup, Raw: line}

	case strings.HasPrefix(line, "FIRMWARE_NAME:"):
		return r.parseFirmware(line)

	case strings.HasPrefix(line, "X:") && strings.Contains(line, "Y:"):
		r.lastPos = parseAxes(line)
		return dialect.Event{Kind: dialect.EventPosition, Raw: line, MPos: r.lastPos}

	case strings.HasPrefix(line, "T:") || strings.Contains(line, "B:"):
		return dialect.Event{Kind: dialect.EventTemperature, Raw: line, Fields: map[string]any{"raw": line}}

	case strings.HasPrefix(line, "echo:"):
		return dialect.Event{Kind: dialect.EventEcho, Raw: line}

	default:
		return dialect.Event{Kind: dialect.EventOther, Raw: line}
	}
}

// parseFirmware parses Marlin's M115 reply, e.g.
// "FIRMWARE_NAME:Marlin 2.1.2 PROTOCOL_VERSION:1.0 MACHINE_TYPE:... EXTRUDER_COUNT:1 UUID:..."
func (r *runner) parseFirmware(line string) dialect.Event {
	ev := dialect.Event{Kind: dialect.EventFirmwareInfo, Raw: line}
	fields := map[string]string{}
	tokens := strings.Fields(line)
	var key string
	var val []string
	flush := func() {
		if key != "" {
			fields[key] = strings.TrimSpace(strings.Join(val, " "))
		}
		val = nil
	}
	for _, tok := range tokens {
		if i := strings.Index(tok, ":"); i >= 0 && isKnownKey(tok[:i]) {
			flush()
			key = tok[:i]
			if rest := tok[i+1:]; rest != "" {
				val = append(val, rest)
			}
		} else {
			val = append(val, tok)
		}
	}
	flush()

	ev.Firmware = fields["FIRMWARE_NAME"]
	ev.ProtocolVersion = fields["PROTOCOL_VERSION"]
	ev.MachineType = fields["MACHINE_TYPE"]
	ev.UUID = fields["UUID"]
	if n, err := strconv.Atoi(fields["EXTRUDER_COUNT"]); err == nil {
		ev.ExtruderCount = n
	}
	return ev
}

func isKnownKey(k string) bool {
	switch k {
	case "FIRMWARE_NAME", "SOURCE_CODE_URL", "PROTOCOL_VERSION", "MACHINE_TYPE", "EXTRUDER_COUNT", "UUID":
		return true
	default:
		return false
	}
}

func parseAxes(line string) map[string]float64 {
	out := map[string]float64{}
	for _, tok := range strings.Fields(line) {
		if tok == "Count" {
			break // stepper counts follow; keep the position reported before them
		}
		name, val, ok := strings.Cut(tok, ":")
		if !ok {
			continue
		}
		switch name {
		case "X", "Y", "Z", "E":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				out[strings.ToLower(name)] = f
			}
		}
	}
	return out
}

func (r *runner) IsIdle() bool  { return true } // Marlin has no machine-state word; gated by ok/busy only
func (r *runner) IsAlarm() bool { return false }

func (r *runner) MachinePosition() (map[string]float64, bool) {
	return r.lastPos, r.lastPos != nil
}

func (r *runner) WorkPosition() (map[string]float64, bool) {
	return r.lastPos, r.lastPos != nil
}

func (r *runner) Tool() (string, bool) { return r.lastTool, r.lastTool != "" }
