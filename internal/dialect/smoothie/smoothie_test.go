package smoothie

import (
	"testing"
	"time"

	"github.com/cncjs/cnc-core/internal/dialect"
)

func TestDialectShape(t *testing.T) {
	d := Dialect()
	if d.Kind != dialect.Smoothie {
		t.Fatalf("Kind = %v, want Smoothie", d.Kind)
	}
	if !d.ImmediateReady {
		t.Fatal("Smoothie must be ImmediateReady, unlike Grbl's banner gate")
	}
}

func TestOpenHandshakeSendsVersionAndDelaysOneSecond(t *testing.T) {
	d := Dialect()
	var written []byte
	delay := d.OpenHandshake(func(b []byte) { written = append(written, b...) })
	if string(written) != "version\n" {
		t.Fatalf("OpenHandshake wrote %q, want version\\n", written)
	}
	if delay != time.Second {
		t.Fatalf("delay = %v, want 1s", delay)
	}
}

func TestOverrideClampedTo200Percent(t *testing.T) {
	enc := overrideEncoder{}
	got := enc.Encode(dialect.OverrideFeed, 1000)
	if string(got) != "M220 S200\n" {
		t.Fatalf("expected clamp to 200%%, got %q", got)
	}
}

// TestRunnerReusesGrblGrammar documents that Smoothieware's status/settings
// lines parse identically to Grbl's (spec.md 9: wire-compatible).
func TestRunnerReusesGrblGrammar(t *testing.T) {
	r := newRunner()
	events := r.Feed([]byte("<Idle|MPos:0.000,0.000,0.000>\r\n"))
	if len(events) != 1 || events[0].Kind != dialect.EventStatus || events[0].MachineState != "Idle" {
		t.Fatalf("got %+v", events)
	}
}
