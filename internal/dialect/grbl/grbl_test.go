package grbl

import (
	"testing"

	"github.com/cncjs/cnc-core/internal/dialect"
)

func TestDialectShape(t *testing.T) {
	d := Dialect()
	if d.Kind != dialect.Grbl {
		t.Fatalf("Kind = %v, want Grbl", d.Kind)
	}
	if d.Protocol.BufferSize != BufferSize {
		t.Fatalf("BufferSize = %d, want %d", d.Protocol.BufferSize, BufferSize)
	}
	if d.ImmediateReady {
		t.Fatal("Grbl must gate readiness on its startup banner, not ImmediateReady")
	}
	if !d.Realtime.HasSoftReset || d.Realtime.SoftReset != 0x18 {
		t.Fatal("expected soft-reset byte 0x18")
	}
}

func TestReadyOnBanner(t *testing.T) {
	d := Dialect()
	r := d.NewRunner()
	events := r.Feed([]byte("Grbl 1.1h ['$' for help]\r\n"))
	if len(events) != 1 || events[0].Kind != dialect.EventStartup {
		t.Fatalf("expected a single EventStartup, got %+v", events)
	}
	if !d.ReadyOn(events[0]) {
		t.Fatal("expected the startup banner to satisfy ReadyOn")
	}
}

func TestParseOkAndError(t *testing.T) {
	r := newRunner()
	events := r.Feed([]byte("ok\r\nerror:9\r\n"))
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != dialect.EventOK {
		t.Fatalf("events[0].Kind = %v, want EventOK", events[0].Kind)
	}
	if events[1].Kind != dialect.EventError || events[1].Code != 9 || events[1].Message != "G-code locked out during alarm" {
		t.Fatalf("got %+v", events[1])
	}
}

func TestParseStatusLine(t *testing.T) {
	r := newRunner()
	events := r.Feed([]byte("<Idle|MPos:1.000,2.000,3.000|Bf:15,128|FS:0,0>\r\n"))
	if len(events) != 1 || events[0].Kind != dialect.EventStatus {
		t.Fatalf("got %+v", events)
	}
	ev := events[0]
	if ev.MachineState != "Idle" {
		t.Fatalf("MachineState = %q, want Idle", ev.MachineState)
	}
	if ev.MPos["x"] != 1 || ev.MPos["y"] != 2 || ev.MPos["z"] != 3 {
		t.Fatalf("MPos = %+v", ev.MPos)
	}
	if ev.BufferRx != 15 {
		t.Fatalf("BufferRx = %d, want 15", ev.BufferRx)
	}
	if !r.IsIdle() {
		t.Fatal("expected IsIdle true after an Idle status line")
	}
}

func TestAlarmSetsIsAlarm(t *testing.T) {
	r := newRunner()
	r.Feed([]byte("ALARM:1\r\n"))
	if !r.IsAlarm() {
		t.Fatal("expected IsAlarm true after an ALARM line")
	}
	r.Feed([]byte("Grbl 1.1h ['$' for help]\r\n"))
	if r.IsAlarm() {
		t.Fatal("expected a fresh startup banner to clear the alarm flag")
	}
}

func TestParseSettingsLine(t *testing.T) {
	r := newRunner()
	events := r.Feed([]byte("$110=500.000\r\n"))
	if len(events) != 1 || events[0].Kind != dialect.EventSettings {
		t.Fatalf("got %+v", events)
	}
	if events[0].SettingName != "110" || events[0].SettingValue != "500.000" {
		t.Fatalf("got name=%q value=%q", events[0].SettingName, events[0].SettingValue)
	}
}

func TestFeedBuffersPartialLines(t *testing.T) {
	r := newRunner()
	events := r.Feed([]byte("o"))
	if len(events) != 0 {
		t.Fatalf("expected no events from a partial line, got %+v", events)
	}
	events = r.Feed([]byte("k\r\n"))
	if len(events) != 1 || events[0].Kind != dialect.EventOK {
		t.Fatalf("expected the completed line to parse as ok, got %+v", events)
	}
}

func TestOverrideEncoderFeedSteps(t *testing.T) {
	enc := overrideEncoder{}
	cases := []struct {
		delta int
		want  byte
	}{
		{0, 0x90},
		{10, 0x91},
		{-10, 0x92},
		{1, 0x93},
		{-1, 0x94},
	}
	for _, c := range cases {
		got := enc.Encode(dialect.OverrideFeed, c.delta)
		if len(got) != 1 || got[0] != c.want {
			t.Fatalf("Encode(Feed, %d) = %v, want [%#x]", c.delta, got, c.want)
		}
	}
}

func TestErrorMessageLookup(t *testing.T) {
	if msg, ok := ErrorMessage(1); !ok || msg != "Expected command letter" {
		t.Fatalf("ErrorMessage(1) = %q, %v", msg, ok)
	}
	if _, ok := ErrorMessage(9999); ok {
		t.Fatal("expected unknown error code to report not ok")
	}
}
