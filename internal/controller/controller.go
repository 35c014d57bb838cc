// Package controller implements the per-connection Controller that composes
// Transport, LineRunner, Feeder, Sender and Workflow, and enforces
// firmware-specific protocol timing (spec.md 4.6). One Controller exists per
// ident; all mutable state is guarded by a single mutex, matching the
// single-threaded-cooperative execution model spec.md 5 asks for in a
// threaded language.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/cncjs/cnc-core/internal/dialect"
	"github.com/cncjs/cnc-core/internal/eventtrigger"
	"github.com/cncjs/cnc-core/internal/exprctx"
	"github.com/cncjs/cnc-core/internal/feeder"
	"github.com/cncjs/cnc-core/internal/logx"
	"github.com/cncjs/cnc-core/internal/sender"
	"github.com/cncjs/cnc-core/internal/transport"
	"github.com/cncjs/cnc-core/internal/workflow"
)

// tickInterval is the periodic status/flush cadence (spec.md 5).
const tickInterval = 250 * time.Millisecond

// statusQueryTimeout / parserQueryTimeout force-reset a pending query so a
// dropped reply never wedges future polling (spec.md 9).
const (
	statusQueryTimeout = 5 * time.Second
	parserQueryTimeout = 10 * time.Second
)

// postFinishIdleWindow is how long the machine must report idle while the
// Sender is held on a %wait before maybeAckTerminalWait releases the hold
// (and, after the terminal %wait, stops the Workflow).
const postFinishIdleWindow = 500 * time.Millisecond

// Subscriber is a client session joined to a Controller's room. Engine
// implements this over a WebSocket; tests use a recording fake.
type Subscriber interface {
	ID() string
	Emit(event string, payload any)
}

// MacroProvider resolves a macro id to its G-code content.
type MacroProvider interface {
	Macro(id string) (name, content string, err error)
}

// ProgramLoader reads a named program from the configured watch directory.
type ProgramLoader interface {
	LoadProgram(name string) (content string, err error)
}

// Options configures a new Controller.
type Options struct {
	Macros       MacroProvider
	Watch        ProgramLoader
	Trigger      *eventtrigger.Trigger
	Logger       logx.Logger
	IgnoreErrors bool
}

type queryState struct {
	pending bool
	sentAt  time.Time
}

// Controller mediates between the Engine and one open firmware connection.
// It owns the Feeder (ad-hoc lines), the Sender (streamed programs) and the
// Workflow (Idle/Running/Paused), and decides which of Feeder/Sender gets to
// advance on every acknowledgement (spec.md 4.6).
type Controller struct {
	mu sync.Mutex

	ident string
	d     dialect.Dialect
	tr    transport.Transport
	run   dialect.Runner

	feeder   *feeder.Feeder
	sender   *sender.Sender
	workflow *workflow.Workflow

	ready    bool
	settings map[string]string
	modal    string

	// replyStatusReport/replyParserState are set by an operator write of "?"
	// / "$G" and cleared by handleEvent the next time the matching report
	// arrives, so only operator-requested polling replies are echoed to
	// clients as connection:read (spec.md 4.6, 9).
	replyStatusReport bool
	replyParserState  bool

	subs map[string]Subscriber

	statusQuery queryState
	parserQuery queryState

	waitingIdleSince time.Time

	macros  MacroProvider
	watch   ProgramLoader
	trigger *eventtrigger.Trigger

	ignoreErrors bool
	logger       logx.Logger

	closed   bool
	stopTick chan struct{}
}

// New constructs a Controller for ident, wired to the given dialect and
// transport. It does not open the transport; call Open.
func New(ident string, d dialect.Dialect, tr transport.Transport, opts Options) *Controller {
	c := &Controller{
		ident:        ident,
		d:            d,
		tr:           tr,
		run:          d.NewRunner(),
		settings:     make(map[string]string),
		subs:         make(map[string]Subscriber),
		macros:       opts.Macros,
		watch:        opts.Watch,
		trigger:      opts.Trigger,
		ignoreErrors: opts.IgnoreErrors,
		logger:       logx.OrDefault(opts.Logger, "controller"),
	}
	c.workflow = workflow.New(workflow.Hooks{
		OnStart:  c.onWorkflowStart,
		OnPause:  c.onWorkflowPause,
		OnResume: c.onWorkflowResume,
		OnStop:   c.onWorkflowStop,
	})
	c.sender = sender.New(d.Protocol, sender.Hooks{
		Data:   c.onSenderData,
		Start:  func(time.Time) { c.broadcast("sender:status", c.sender.ToJSON()) },
		End:    func(time.Time) { c.broadcast("sender:status", c.sender.ToJSON()) },
		Hold:   c.onSenderHold,
		Unhold: func() { c.broadcast("sender:status", c.sender.ToJSON()) },
	})
	c.feeder = feeder.New(feeder.Hooks{
		Data:   c.onFeederData,
		Hold:   c.onFeederHold,
		Unhold: func() { c.broadcast("feeder:status", c.feederStatus()) },
	})
	tr.SetWriteFilter(c.writeFilter)
	return c
}

// Ident returns the controller's registry key.
func (c *Controller) Ident() string { return c.ident }

// Kind returns the firmware dialect.
func (c *Controller) Kind() dialect.Kind { return c.d.Kind }

// Open opens the Transport, installs listeners, and drives the
// firmware-specific readiness handshake. cb is invoked exactly once; once
// open, further faults arrive as a "connection:error" broadcast.
func (c *Controller) Open(ctx context.Context, cb func(error)) {
	c.tr.Open(ctx, (*transportHandler)(c), func(err error) {
		if err != nil {
			cb(err)
			return
		}
		c.mu.Lock()
		c.closed = false
		c.waitingIdleSince = time.Time{}
		if c.d.ImmediateReady {
			c.ready = true
		}
		c.stopTick = make(chan struct{})
		tick := c.stopTick
		writeFn := func(b []byte) { _ = c.tr.Write(b) }
		c.mu.Unlock()

		c.d.OpenHandshake(writeFn)
		go c.tickLoop(tick)

		c.mu.Lock()
		becameReady := c.ready
		c.mu.Unlock()
		if becameReady {
			c.fire(eventtrigger.ControllerReady)
		}
		cb(nil)
	})
}

// Close tears down the tick loop, marks the controller not-ready, and closes
// the underlying Transport. Idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.ready = false
	tick := c.stopTick
	c.stopTick = nil
	c.mu.Unlock()
	if tick != nil {
		close(tick)
	}
	return c.tr.Close()
}

// AddSocket joins a subscriber and replays the standard snapshot sequence:
// type, connection:open, settings, state, feeder:status, sender:status,
// sender:load (if a program is loaded), workflow:state (spec.md 4.6).
func (c *Controller) AddSocket(s Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[s.ID()] = s

	s.Emit("controller:type", string(c.d.Kind))
	s.Emit("connection:open", c.ident)
	s.Emit("controller:settings", c.settingsSnapshot())
	s.Emit("controller:state", c.modal)
	s.Emit("feeder:status", c.feederStatus())
	status := c.sender.ToJSON()
	s.Emit("sender:status", status)
	if status.Total > 0 {
		s.Emit("sender:load", status)
	}
	s.Emit("workflow:state", c.workflow.State().String())
}

// RemoveSocket leaves a subscriber; it never closes the connection.
func (c *Controller) RemoveSocket(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

func (c *Controller) settingsSnapshot() map[string]string {
	out := make(map[string]string, len(c.settings))
	for k, v := range c.settings {
		out[k] = v
	}
	return out
}

func (c *Controller) feederStatus() map[string]any {
	return map[string]any{
		"size": c.feeder.Size(),
		"hold": c.feeder.IsHeld(),
	}
}

// broadcast fans payload out to every joined subscriber. Every caller either
// already holds c.mu (hooks fire synchronously from within a locked call) or
// is a short-lived helper where the read is inherently safe.
func (c *Controller) broadcast(event string, payload any) {
	for _, s := range c.subs {
		s.Emit(event, payload)
	}
}

func (c *Controller) fire(eventName string) {
	if c.trigger != nil {
		c.trigger.Fire(eventName)
	}
}

// SetTrigger installs the EventTrigger after construction, letting callers
// build a Trigger whose GcodeFeeder is this same Controller (a construction-
// order cycle New can't resolve on its own).
func (c *Controller) SetTrigger(t *eventtrigger.Trigger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trigger = t
}

// Gcode implements eventtrigger.GcodeFeeder: event-triggered macros feed
// straight into the Feeder under an empty expression context.
func (c *Controller) Gcode(lines []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeder.Feed(lines, exprctx.Context{})
	return nil
}

// writeFilter is installed on the Transport; it currently passes bytes
// through unchanged and exists as the hook point spec.md 4.1 describes for
// future reporting-unit rewrites.
func (c *Controller) writeFilter(p []byte) []byte { return p }
