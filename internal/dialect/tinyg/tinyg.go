// Package tinyg implements the TinyG/g2core dialect: JSON-framed lines and
// a queue-report-windowed streaming protocol.
//
// spec.md 9 flags this dialect as a stub: "the real protocol requires
// queue-report-driven windowing... mark as 'implementer must complete per
// TinyG docs' rather than inferring from source." This package implements
// the bounded-window mechanics (sender.QueueReport, replenished by qr
// events) but does not attempt to reproduce TinyG's full JSON command
// grammar (group queries, persistence flags, etc.) — only enough of the
// wire format to parse qr, sr and r frames. Every r frame is reported as an
// ok whatever its footer status; rx and error frames produce no event of
// their own.
package tinyg

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/cncjs/cnc-core/internal/dialect"
	"github.com/cncjs/cnc-core/internal/sender"
)

// DefaultWindowSize is a conservative default window; real deployments
// should size this to the controller's planner buffer depth.
const DefaultWindowSize = 4

// Dialect returns the TinyG/g2core capability set.
func Dialect() dialect.Dialect {
	return dialect.Dialect{
		Kind:      dialect.TinyG,
		NewRunner: func() dialect.Runner { return newRunner() },
		Protocol: sender.ProtocolSpec{
			Protocol:   sender.QueueReport,
			WindowSize: DefaultWindowSize,
		},
		Realtime: dialect.RealtimeBytes{
			FeedHold:   '!',
			CycleStart: '~',
		},
		Override:       overrideEncoder{},
		ImmediateReady: true,
		OpenHandshake: func(write func([]byte)) time.Duration {
			// spec.md 4.6: "TinyG: set JSON modes, `$sys`".
			write([]byte(`{"ej":1,"jv":4,"qv":1,"sv":1}` + "\n"))
			write([]byte(`{"sys":null}` + "\n"))
			return 0
		},
		QueryLine:       []byte(`{"sr":null}` + "\n"),
		ParserStateLine: nil, // rides on sr; no separate query
	}
}

type overrideEncoder struct{}

// Encode implements dialect.OverrideEncoder. TinyG's override model is not
// part of the spec'd behavior; it is left as a JSON feed-rate-override
// request mirroring the others' shape.
func (overrideEncoder) Encode(kind dialect.OverrideKind, delta int) []byte {
	if kind != dialect.OverrideFeed {
		return nil
	}
	return []byte(`{"mfo":` + itoa(100+delta) + `}` + "\n")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

type frame struct {
	Footer []any           `json:"f,omitempty"`
	QR     *int            `json:"qr,omitempty"`
	QI     *int            `json:"qi,omitempty"`
	QO     *int            `json:"qo,omitempty"`
	RX     *int            `json:"rx,omitempty"`
	SR     json.RawMessage `json:"sr,omitempty"`
	R      json.RawMessage `json:"r,omitempty"`
}

type runner struct {
	buf      bytes.Buffer
	lastSR   map[string]float64
	idle     bool
	alarm    bool
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
		line := strings.TrimSpace(strings.TrimRight(string(data[:i]), "\r"))
		r.buf.Next(i + 1)
		if line == "" {
			continue
		}
		events = append(events, r.parseLine(line))
	}
	return events
}

func (r *runner) parseLine(line string) dialect.Event {
	if !strings.HasPrefix(line, "{") {
		return dialect.Event{Kind: dialect.EventOther, Raw: line}
	}
	var f frame
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		return dialect.Event{Kind: dialect.EventOther, Raw: line}
	}
	if f.QR != nil {
		return dialect.Event{Kind: dialect.EventQueueReport, Raw: line, QR: *f.QR}
	}
	if len(f.SR) > 0 {
		return r.parseSR(line, f.SR)
	}
	if len(f.R) > 0 {
		return dialect.Event{Kind: dialect.EventOK, Raw: line}
	}
	return dialect.Event{Kind: dialect.EventOther, Raw: line}
}

func (r *runner) parseSR(raw string, sr json.RawMessage) dialect.Event {
	var m map[string]any
	_ = json.Unmarshal(sr, &m)
	pos := map[string]float64{}
	for _, axis := range []string{"posx", "posy", "posz", "posa"} {
		if v, ok := m[axis].(float64); ok {
			pos[strings.TrimPrefix(axis, "pos")] = v
		}
	}
	if len(pos) > 0 {
		r.lastSR = pos
	}
	if stat, ok := m["stat"].(float64); ok {
		r.idle = stat == 3 // TinyG machine state 3 == READY/STOP, treated as idle
		r.alarm = stat == 4 || stat == 8 || stat == 9
	}
	return dialect.Event{Kind: dialect.EventStatus, Raw: raw, MPos: pos}
}

func (r *runner) IsIdle() bool  { return r.idle }
func (r *runner) IsAlarm() bool { return r.alarm }

func (r *runner) MachinePosition() (map[string]float64, bool) {
	return r.lastSR, r.lastSR != nil
}

func (r *runner) WorkPosition() (map[string]float64, bool) {
	return r.lastSR, r.lastSR != nil
}

func (r *runner) Tool() (string, bool) { return r.lastTool, r.lastTool != "" }
