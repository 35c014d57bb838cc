// Package feeder implements the Feeder: a FIFO queue of ad-hoc (jog/macro)
// command lines, emitted one at a time under an operator-controlled hold.
package feeder

import (
	"container/list"
	"strings"

	"github.com/cncjs/cnc-core/internal/exprctx"
)

// Item is one queued feeder line with the context it was fed under.
type Item struct {
	Line    string
	Context exprctx.Context
}

// Hooks notifies the Controller of Feeder events.
type Hooks struct {
	Data   func(line string, ctx exprctx.Context)
	Hold   func(reason HoldReason)
	Unhold func()
}

// HoldReason tags why the Feeder is holding.
type HoldReason struct {
	M0, M1, M6 bool
}

// Feeder is not safe for concurrent use; callers serialize access the same
// way the rest of a Controller's state is serialized.
type Feeder struct {
	hooks Hooks
	queue *list.List // of Item
	hold  bool
	ctx   exprctx.Context
}

// New creates an empty, un-held Feeder.
func New(hooks Hooks) *Feeder {
	return &Feeder{hooks: hooks, queue: list.New(), ctx: exprctx.Context{}}
}

// Feed enqueues each element of lines as one item under ctx; elements are
// not split further on newlines.
func (f *Feeder) Feed(lines []string, ctx exprctx.Context) {
	for _, l := range lines {
		f.queue.PushBack(Item{Line: l, Context: ctx})
	}
}

// Size returns the number of queued items.
func (f *Feeder) Size() int { return f.queue.Len() }

// Peek reports whether there is a pending item.
func (f *Feeder) Peek() bool { return f.queue.Len() > 0 }

// IsPending reports whether there is work to do and the Feeder isn't held.
func (f *Feeder) IsPending() bool { return f.Size() > 0 && !f.hold }

// Reset discards all queued items; a hold stays in place (the Controller
// calls this on Workflow resume and stop, and on reset).
func (f *Feeder) Reset() {
	f.queue.Init()
}

// Hold blocks further emission until Unhold.
func (f *Feeder) Hold(reason HoldReason) {
	if f.hold {
		return
	}
	f.hold = true
	if f.hooks.Hold != nil {
		f.hooks.Hold(reason)
	}
}

// Unhold releases a hold.
func (f *Feeder) Unhold() {
	if !f.hold {
		return
	}
	f.hold = false
	if f.hooks.Unhold != nil {
		f.hooks.Unhold()
	}
}

// IsHeld reports the current hold state.
func (f *Feeder) IsHeld() bool { return f.hold }

// Next dequeues and filters the head item, emitting a Data event unless the
// line reduces to empty (assignment-only or blank), per spec.md 4.3. If the
// queue is empty or the Feeder is held, Next does nothing.
func (f *Feeder) Next() {
	if f.hold || f.queue.Len() == 0 {
		return
	}
	e := f.queue.Front()
	f.queue.Remove(e)
	item := e.Value.(Item)

	result, err := exprctx.Translate(item.Line, item.Context)
	if err != nil {
		return
	}

	if result.IsAssignment || result.Line == "" && !result.IsWait {
		return
	}
	if result.IsWait {
		if f.hooks.Data != nil {
			f.hooks.Data(result.Line, result.NewContext)
		}
		return
	}
	if isPauseWord(result.Line, "M0") || isPauseWord(result.Line, "M1") {
		reason := HoldReason{M0: isPauseWord(result.Line, "M0"), M1: isPauseWord(result.Line, "M1")}
		if f.hooks.Data != nil {
			f.hooks.Data(result.Line, result.NewContext)
		}
		f.Hold(reason)
		return
	}
	if isPauseWord(result.Line, "M6") {
		wrapped := "(" + result.Line + ")"
		if f.hooks.Data != nil {
			f.hooks.Data(wrapped, result.NewContext)
		}
		f.Hold(HoldReason{M6: true})
		return
	}
	if f.hooks.Data != nil {
		f.hooks.Data(result.Line, result.NewContext)
	}
}

func isPauseWord(line, word string) bool {
	trimmed := strings.ToUpper(strings.TrimSpace(line))
	return trimmed == word || strings.HasPrefix(trimmed, word+" ")
}
