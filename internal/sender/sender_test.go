package sender

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/cncjs/cnc-core/internal/exprctx"
)

func TestCharCountingNeverExceedsBuffer(t *testing.T) {
	var outstanding int
	var sent []string
	s := New(ProtocolSpec{Protocol: CharCounting, BufferSize: 20}, Hooks{
		Data: func(line string, ctx exprctx.Context) {
			sent = append(sent, line)
			outstanding += len(line) + 1
			if outstanding > 20 {
				t.Fatalf("outstanding bytes %d exceeded buffer size 20", outstanding)
			}
		},
	})
	s.Load(Program{Name: "p", Content: "G0 X1\nG0 X2\nG0 X3\nG0 X4\nG0 X5\n"}, exprctx.Context{})
	s.Next()
	if outstanding == 0 {
		t.Fatal("expected at least one line sent")
	}
	for i := 0; i < 10 && s.Peek(); i++ {
		s.Ack()
		outstanding -= len(sent[len(sent)-1]) + 1
		s.Next()
	}
}

func TestSendResponseOneOutstandingAtATime(t *testing.T) {
	var dataCalls int
	s := New(ProtocolSpec{Protocol: SendResponse}, Hooks{
		Data: func(line string, ctx exprctx.Context) { dataCalls++ },
	})
	s.Load(Program{Name: "p", Content: "G0 X1\nG0 X2\n"}, exprctx.Context{})
	s.Next()
	if dataCalls != 1 {
		t.Fatalf("expected exactly 1 outstanding line, got %d", dataCalls)
	}
	sent, received, _ := s.State()
	if sent-received != 1 {
		t.Fatalf("expected sent-received == 1, got sent=%d received=%d", sent, received)
	}
	s.Next() // no-op: still awaiting ack
	if dataCalls != 1 {
		t.Fatalf("Next before Ack must not send a second line, got %d calls", dataCalls)
	}
	s.Ack()
	s.Next()
	if dataCalls != 2 {
		t.Fatalf("expected second line after ack, got %d calls", dataCalls)
	}
}

func TestAckNeverAdvancesPastSent(t *testing.T) {
	s := New(ProtocolSpec{Protocol: SendResponse}, Hooks{})
	s.Load(Program{Name: "p", Content: "G0 X1\n"}, exprctx.Context{})
	s.Ack() // nothing sent yet: must be a no-op
	sent, received, _ := s.State()
	if received > sent {
		t.Fatalf("received (%d) must never exceed sent (%d)", received, sent)
	}
}

func TestSenderStopIdempotent(t *testing.T) {
	s := New(ProtocolSpec{Protocol: SendResponse}, Hooks{})
	s.Load(Program{Name: "p", Content: "G0 X1\n"}, exprctx.Context{})
	s.Rewind()
	s.Rewind() // must not panic or double-fire hooks
	sent, received, _ := s.State()
	if sent != 0 || received != 0 {
		t.Fatalf("expected rewind to zero counters, got sent=%d received=%d", sent, received)
	}
}

func TestLoadedLineCountIncludesTerminalWait(t *testing.T) {
	s := New(ProtocolSpec{Protocol: SendResponse}, Hooks{})
	s.Load(Program{Name: "p", Content: "G0 X1\nG0 X2\n"}, exprctx.Context{})
	_, _, total := s.State()
	if total != 3 {
		t.Fatalf("expected 2 content lines + 1 terminal wait == 3, got %d", total)
	}
}

func TestStatusRoundTripsThroughJSON(t *testing.T) {
	s := New(ProtocolSpec{Protocol: CharCounting, BufferSize: 127}, Hooks{})
	s.Load(Program{Name: "job.gcode", Content: "G0 X1\n"}, exprctx.Context{"tool": 1.0})
	s.Next()

	b, err := json.Marshal(s.ToJSON())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Status
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := s.ToJSON()
	if out.Name != want.Name || out.Size != want.Size || out.Total != want.Total ||
		out.Sent != want.Sent || out.Received != want.Received {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", out, want)
	}
}

func TestFinishTimeMarshalsZeroUntilProgramCompletes(t *testing.T) {
	s := New(ProtocolSpec{Protocol: SendResponse}, Hooks{})
	s.Load(Program{Name: "p", Content: "G0 X1\n"}, exprctx.Context{})

	b, err := json.Marshal(s.ToJSON())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got := string(b); !jsonHasField(got, `"finishTime":0`) {
		t.Fatalf("expected finishTime 0 before completion, got %s", got)
	}

	s.Next()
	s.Ack() // content line
	s.Next()
	s.Ack() // terminal %wait

	b, err = json.Marshal(s.ToJSON())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got := string(b); jsonHasField(got, `"finishTime":0`) {
		t.Fatalf("expected a nonzero finishTime after completion, got %s", got)
	}
}

func jsonHasField(doc, field string) bool {
	return strings.Contains(doc, field)
}

func TestQueueReportReplenishesWindow(t *testing.T) {
	var dataCalls int
	s := New(ProtocolSpec{Protocol: QueueReport, WindowSize: 2}, Hooks{
		Data: func(line string, ctx exprctx.Context) { dataCalls++ },
	})
	s.Load(Program{Name: "p", Content: "G0 X1\nG0 X2\nG0 X3\n"}, exprctx.Context{})
	s.Next()
	if dataCalls != 2 {
		t.Fatalf("expected window of 2 lines in flight, got %d", dataCalls)
	}
	s.ReplenishWindow(1)
	s.Next()
	if dataCalls != 3 {
		t.Fatalf("expected replenish to free a window slot, got %d", dataCalls)
	}
}

func TestWaitSentinelHoldsAndIsWait(t *testing.T) {
	var holds []HoldReason
	s := New(ProtocolSpec{Protocol: SendResponse}, Hooks{
		Hold: func(r HoldReason) { holds = append(holds, r) },
	})
	s.Load(Program{Name: "p", Content: "%wait\n"}, exprctx.Context{})
	s.Next()
	if len(holds) != 1 || !holds[0].Wait {
		t.Fatalf("expected a single Wait hold, got %+v", holds)
	}
	if !s.IsHeld() {
		t.Fatal("sender should be held after %wait")
	}
}
