// Package smoothie implements the Smoothieware dialect: the same
// character-counting protocol and realtime byte set as Grbl, but a fixed
// ~1s open delay instead of a banner wait, and M220/M221-style overrides
// clamped to [10,200].
package smoothie

import (
	"strconv"
	"time"

	"github.com/cncjs/cnc-core/internal/dialect"
	"github.com/cncjs/cnc-core/internal/dialect/grbl"
	"github.com/cncjs/cnc-core/internal/sender"
)

// BufferSize is Smoothieware's serial RX buffer size.
const BufferSize = 127

// Dialect returns the Smoothieware capability set.
func Dialect() dialect.Dialect {
	return dialect.Dialect{
		Kind:      dialect.Smoothie,
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
		Override:       overrideEncoder{},
		ImmediateReady: true, // spec.md 9: Smoothie sets ready=true before initController, unlike Grbl
		OpenHandshake: func(write func([]byte)) time.Duration {
			write([]byte("version\n"))
			return time.Second
		},
		QueryLine:       []byte("?"),
		ParserStateLine: []byte("$G\n"),
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

// Encode implements dialect.OverrideEncoder. Smoothie clamps feed/spindle
// percentage to [10,200] and issues it as an M220/M221 line rather than a
// realtime byte (spec.md 4.6).
func (overrideEncoder) Encode(kind dialect.OverrideKind, delta int) []byte {
	pct := clamp(100+delta, 10, 200)
	switch kind {
	case dialect.OverrideFeed:
		return []byte("M220 S" + strconv.Itoa(pct) + "\n")
	case dialect.OverrideSpindle:
		return []byte("M221 S" + strconv.Itoa(pct) + "\n")
	default:
		return nil
	}
}

// newRunner reuses Grbl's line grammar: Smoothieware's status/settings/
// parser lines are wire-compatible with Grbl's.
func newRunner() dialect.Runner {
	return grbl.Dialect().NewRunner()
}
