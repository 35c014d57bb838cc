package tinyg

import (
	"testing"

	"github.com/cncjs/cnc-core/internal/dialect"
)

func TestDialectShape(t *testing.T) {
	d := Dialect()
	if d.Kind != dialect.TinyG {
		t.Fatalf("Kind = %v, want TinyG", d.Kind)
	}
	if d.Protocol.WindowSize != DefaultWindowSize {
		t.Fatalf("WindowSize = %d, want %d", d.Protocol.WindowSize, DefaultWindowSize)
	}
	if !d.ImmediateReady {
		t.Fatal("TinyG must be ImmediateReady")
	}
}

func TestOpenHandshakeSendsJSONModeAndSys(t *testing.T) {
	d := Dialect()
	var frames []string
	d.OpenHandshake(func(b []byte) { frames = append(frames, string(b)) })
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames written, got %d: %v", len(frames), frames)
	}
	if frames[0] != `{"ej":1,"jv":4,"qv":1,"sv":1}`+"\n" {
		t.Fatalf("unexpected first frame %q", frames[0])
	}
	if frames[1] != `{"sys":null}`+"\n" {
		t.Fatalf("unexpected second frame %q", frames[1])
	}
}

func TestParseQueueReportFrame(t *testing.T) {
	r := newRunner()
	events := r.Feed([]byte(`{"qr":28}` + "\n"))
	if len(events) != 1 || events[0].Kind != dialect.EventQueueReport || events[0].QR != 28 {
		t.Fatalf("got %+v", events)
	}
}

func TestParseStatusReportFrameAndIdle(t *testing.T) {
	r := newRunner()
	events := r.Feed([]byte(`{"sr":{"posx":1.0,"posy":2.0,"stat":3}}` + "\n"))
	if len(events) != 1 || events[0].Kind != dialect.EventStatus {
		t.Fatalf("got %+v", events)
	}
	if events[0].MPos["x"] != 1 || events[0].MPos["y"] != 2 {
		t.Fatalf("MPos = %+v", events[0].MPos)
	}
	if !r.IsIdle() {
		t.Fatal("stat:3 must report idle")
	}
}

func TestParseAlarmStat(t *testing.T) {
	r := newRunner()
	r.Feed([]byte(`{"sr":{"stat":4}}` + "\n"))
	if !r.IsAlarm() {
		t.Fatal("stat:4 must report alarm")
	}
}

func TestParseOKFrame(t *testing.T) {
	r := newRunner()
	events := r.Feed([]byte(`{"r":{"sr":{}},"f":[1,0,10]}` + "\n"))
	if len(events) != 1 || events[0].Kind != dialect.EventOK {
		t.Fatalf("got %+v", events)
	}
}

func TestNonJSONLineIsOther(t *testing.T) {
	r := newRunner()
	events := r.Feed([]byte("tinyg [mm] ok>\r\n"))
	if len(events) != 1 || events[0].Kind != dialect.EventOther {
		t.Fatalf("got %+v", events)
	}
}

func TestOverrideEncoderFeedOnly(t *testing.T) {
	enc := overrideEncoder{}
	if got := enc.Encode(dialect.OverrideSpindle, 10); got != nil {
		t.Fatalf("expected nil for unsupported override kind, got %q", got)
	}
	got := enc.Encode(dialect.OverrideFeed, -10)
	if string(got) != `{"mfo":90}`+"\n" {
		t.Fatalf("got %q", got)
	}
}
