package feeder

import (
	"testing"

	"github.com/cncjs/cnc-core/internal/exprctx"
)

func TestFeedAndNextEmitsInOrder(t *testing.T) {
	var got []string
	f := New(Hooks{Data: func(line string, ctx exprctx.Context) { got = append(got, line) }})
	f.Feed([]string{"G0 X1", "G0 X2"}, exprctx.Context{})
	f.Next()
	f.Next()
	if len(got) != 2 || got[0] != "G0 X1" || got[1] != "G0 X2" {
		t.Fatalf("got %v, want [G0 X1 G0 X2]", got)
	}
}

func TestNextOnEmptyQueueIsNoOp(t *testing.T) {
	var calls int
	f := New(Hooks{Data: func(line string, ctx exprctx.Context) { calls++ }})
	f.Next()
	if calls != 0 {
		t.Fatalf("expected no Data calls on empty queue, got %d", calls)
	}
}

func TestAssignmentOnlyLineEmitsNothing(t *testing.T) {
	var calls int
	f := New(Hooks{Data: func(line string, ctx exprctx.Context) { calls++ }})
	f.Feed([]string{"%x=1"}, exprctx.Context{})
	f.Next()
	if calls != 0 {
		t.Fatalf("assignment-only line must not emit, got %d calls", calls)
	}
	if f.Peek() {
		t.Fatal("item should have been consumed even though nothing was emitted")
	}
}

func TestM0HoldsTheFeeder(t *testing.T) {
	var held bool
	f := New(Hooks{Hold: func(r HoldReason) { held = true }})
	f.Feed([]string{"M0", "G0 X1"}, exprctx.Context{})
	f.Next()
	if !held || !f.IsHeld() {
		t.Fatal("expected M0 to hold the feeder")
	}
	f.Next() // held: must not dequeue the next item
	if f.Size() != 1 {
		t.Fatalf("expected the second item to remain queued, size=%d", f.Size())
	}
}

func TestM6WrapsLineAndHolds(t *testing.T) {
	var got string
	f := New(Hooks{Data: func(line string, ctx exprctx.Context) { got = line }})
	f.Feed([]string{"M6 T2"}, exprctx.Context{})
	f.Next()
	if got != "(M6 T2)" {
		t.Fatalf("got %q, want M6 wrapped in parens", got)
	}
	if !f.IsHeld() {
		t.Fatal("expected M6 to hold the feeder")
	}
}

func TestUnholdAllowsNextToResume(t *testing.T) {
	var got []string
	f := New(Hooks{Data: func(line string, ctx exprctx.Context) { got = append(got, line) }})
	f.Feed([]string{"M0", "G0 X1"}, exprctx.Context{})
	f.Next()
	f.Unhold()
	f.Next()
	if len(got) != 2 {
		t.Fatalf("expected both items emitted after unhold, got %v", got)
	}
}

func TestResetClearsQueueAndPreservesHold(t *testing.T) {
	f := New(Hooks{})
	f.Feed([]string{"G0 X1", "G0 X2"}, exprctx.Context{})
	f.Hold(HoldReason{M0: true})
	f.Reset()
	if f.Peek() {
		t.Fatal("expected queue to be empty after Reset")
	}
	if !f.IsHeld() {
		t.Fatal("expected Reset to leave the hold in place")
	}
}

func TestIsPendingRequiresUnheldAndNonEmpty(t *testing.T) {
	f := New(Hooks{})
	if f.IsPending() {
		t.Fatal("empty feeder must not be pending")
	}
	f.Feed([]string{"M0", "G0 X1"}, exprctx.Context{})
	if !f.IsPending() {
		t.Fatal("non-empty, unheld feeder must be pending")
	}
	f.Next()
	if f.IsPending() {
		t.Fatal("held feeder must not be pending even with items queued")
	}
}
