package controller

import (
	"time"

	"github.com/cncjs/cnc-core/internal/dialect"
	"github.com/cncjs/cnc-core/internal/eventtrigger"
	"github.com/cncjs/cnc-core/internal/exprctx"
	"github.com/cncjs/cnc-core/internal/feeder"
	"github.com/cncjs/cnc-core/internal/sender"
	"github.com/cncjs/cnc-core/internal/workflow"
)

// transportHandler adapts *Controller to transport.EventHandler without
// exposing OnData/OnClose/OnError on the Controller's own public method set.
type transportHandler Controller

func (h *transportHandler) c() *Controller { return (*Controller)(h) }

func (h *transportHandler) OnData(b []byte) {
	c := h.c()
	c.mu.Lock()
	events := c.run.Feed(b)
	c.mu.Unlock()
	for _, ev := range events {
		c.handleEvent(ev)
	}
}

func (h *transportHandler) OnClose(err error) {
	c := h.c()
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()
	c.broadcast("connection:close", c.ident)
	c.fire(eventtrigger.ConnectionClose)
}

func (h *transportHandler) OnError(err error) {
	c := h.c()
	c.broadcast("connection:error", map[string]any{"ident": c.ident, "err": err.Error()})
}

// handleEvent is the single entry point for every parsed firmware line. It
// updates last-known state, relays raw-line data to subscribers, and decides
// whether the event gates readiness, acks a Sender/Feeder line, or reports an
// error (spec.md 4.6, 7).
func (c *Controller) handleEvent(ev dialect.Event) {
	c.mu.Lock()

	var pendingFires []string

	// Status/parser-state lines are only echoed to clients when they answer
	// an operator-issued "?" / "$G" (replyStatusReport/replyParserState);
	// unsolicited polling replies are surfaced instead via controller:state
	// below. Every other raw line is always echoed (spec.md 4.6, 9).
	switch ev.Kind {
	case dialect.EventStatus:
		if c.replyStatusReport {
			c.broadcast("connection:read", ev.Raw)
			c.replyStatusReport = false
		}
	case dialect.EventParserState:
		if c.replyParserState {
			c.broadcast("connection:read", ev.Raw)
			c.replyParserState = false
		}
	default:
		c.broadcast("connection:read", ev.Raw)
	}

	if !c.ready && !c.d.ImmediateReady && c.d.ReadyOn != nil && c.d.ReadyOn(ev) {
		c.ready = true
		if c.d.PostReadyHandshake != nil {
			c.d.PostReadyHandshake(func(b []byte) { _ = c.tr.Write(b) })
		}
		pendingFires = append(pendingFires, eventtrigger.ControllerReady)
	}

	switch ev.Kind {
	case dialect.EventStartup:
		// spec.md 9: a late startup line (e.g. a firmware reset mid-session)
		// must re-run the open handshake idempotently, not just the first
		// one. Harmless for dialects whose OpenHandshake writes nothing.
		c.d.OpenHandshake(func(b []byte) { _ = c.tr.Write(b) })
		pendingFires = append(pendingFires, eventtrigger.Startup)

	case dialect.EventFirmwareInfo:
		c.broadcast("controller:settings", map[string]any{
			"firmware": ev.Firmware,
			"protocol": ev.ProtocolVersion,
			"machine":  ev.MachineType,
		})

	case dialect.EventStatus:
		c.statusQuery.pending = false
		if ev.MachineState != "" {
			c.modal = ev.MachineState
		}
		c.broadcast("controller:state", map[string]any{
			"state": ev.MachineState,
			"mpos":  ev.MPos,
			"wpos":  ev.WPos,
		})
		c.maybeAckTerminalWait()

	case dialect.EventParserState:
		c.parserQuery.pending = false
		c.broadcast("controller:state", ev.Fields)

	case dialect.EventSettings:
		c.settings[ev.SettingName] = ev.SettingValue
		c.broadcast("controller:settings", c.settingsSnapshot())

	case dialect.EventQueueReport:
		c.sender.ReplenishWindow(ev.QR)
		c.broadcast("sender:status", c.sender.ToJSON())
		c.advanceLocked()

	case dialect.EventAlarm:
		c.broadcast("controller:alarm", map[string]any{"code": ev.Code, "raw": ev.Raw})
		if c.workflow.State() == workflow.Running {
			c.workflow.Pause(&workflow.PauseReason{Err: ev.Raw})
		}

	case dialect.EventError:
		c.onErrorLocked(ev)

	case dialect.EventOK:
		c.onAckLocked()

	default:
		// EventParameters/EventPosition/EventTemperature/EventEcho/EventOther
		// carry no flow-control meaning for the dialects this controller
		// drives; subscribers still see the raw line via connection:read.
	}

	c.mu.Unlock()

	for _, name := range pendingFires {
		c.fire(name)
	}
}

// onAckLocked is the ack-correlation rule of spec.md 4.6: while Running, an
// ok credits the Sender and drives it forward. While Paused with outstanding
// Sender bytes still in flight, an ok credits the Sender (keeping dataLength/
// inFlight consistent, spec.md 3 invariant) but must not emit a new line: it
// calls Ack and then Next, which sends nothing while the Pause holds the
// Sender. Any other ok (Idle, or Paused with nothing
// outstanding) advances the Feeder instead.
func (c *Controller) onAckLocked() {
	switch {
	case c.workflow.State() == workflow.Running:
		c.sender.Ack()
		c.broadcast("sender:status", c.sender.ToJSON())
		c.advanceLocked()
	case c.workflow.State() == workflow.Paused && c.senderHasOutstandingLocked():
		c.sender.Ack()
		c.sender.Next() // no-op: the Sender is held while Paused, so this only drains the count
		c.broadcast("sender:status", c.sender.ToJSON())
	default:
		c.feeder.Next()
	}
}

// senderHasOutstandingLocked reports whether the Sender still has unacked
// bytes in flight (received < sent).
func (c *Controller) senderHasOutstandingLocked() bool {
	sent, received, _ := c.sender.State()
	return received < sent
}

// advanceLocked drives the Sender forward while Running. Holds the Sender
// raises on the way are mapped onto Workflow pauses by onSenderHold (spec.md
// 4.5, 8): M0/M1/M6 pause the whole workflow; %wait is a bookkeeping hold
// that only maybeAckTerminalWait clears, on an idle status report.
func (c *Controller) advanceLocked() {
	if c.workflow.State() != workflow.Running {
		return
	}
	c.sender.Next()
}

func (c *Controller) onSenderData(line string, ctx exprctx.Context) {
	if line == "" {
		return
	}
	_ = c.tr.Write([]byte(line + "\n"))
	c.broadcast("connection:write", line)
}

func (c *Controller) onSenderHold(reason sender.HoldReason) {
	switch {
	case reason.M0, reason.M1:
		c.workflow.Pause(&workflow.PauseReason{Data: holdLabel(reason)})
	case reason.M6:
		c.workflow.Pause(&workflow.PauseReason{Data: "M6"})
	case reason.Err != "":
		c.workflow.Pause(&workflow.PauseReason{Err: reason.Err})
	case reason.Wait:
		// %wait: stay Running. maybeAckTerminalWait releases the hold once
		// status reports show the machine idle for postFinishIdleWindow.
		c.waitingIdleSince = time.Time{}
	}
	c.broadcast("sender:status", c.sender.ToJSON())
}

func (c *Controller) onFeederData(line string, ctx exprctx.Context) {
	if line == "" {
		return
	}
	_ = c.tr.Write([]byte(line + "\n"))
	c.broadcast("connection:write", line)
}

func (c *Controller) onFeederHold(reason feeder.HoldReason) {
	c.broadcast("feeder:status", c.feederStatus())
}

func holdLabel(r sender.HoldReason) string {
	switch {
	case r.M0:
		return "M0"
	case r.M1:
		return "M1"
	default:
		return ""
	}
}

// onErrorLocked applies spec.md 7: a protocol error pauses the Workflow
// while Running unless ignoreErrors is set, in which case it is logged and
// the Feeder/Sender are nudged forward as if acked.
func (c *Controller) onErrorLocked(ev dialect.Event) {
	c.broadcast("controller:error", map[string]any{"code": ev.Code, "message": ev.Message, "raw": ev.Raw})
	if c.workflow.State() != workflow.Running {
		c.feeder.Next()
		return
	}
	if c.ignoreErrors {
		c.logger.Warnf("%s: ignoring error %q", c.ident, ev.Message)
		c.sender.Ack()
		c.advanceLocked()
		return
	}
	c.workflow.Pause(&workflow.PauseReason{Err: ev.Raw})
}

// maybeAckTerminalWait is invoked on every status report; it is a no-op
// unless the Sender is held on a "%wait" sentinel (spec.md 6: "dwell +
// hold"). Once the machine reports idle for postFinishIdleWindow, the hold
// clears: a mid-program %wait resumes streaming, while the terminal %wait
// appended at Load (spec.md 6) has nothing left to send, so the Workflow
// stops instead.
func (c *Controller) maybeAckTerminalWait() {
	if !c.sender.IsHeld() {
		return
	}
	reason, ok := c.sender.HoldReasonValue()
	if !ok || !reason.Wait {
		return
	}
	if !c.run.IsIdle() {
		c.waitingIdleSince = time.Time{}
		return
	}
	if c.waitingIdleSince.IsZero() {
		c.waitingIdleSince = time.Now()
		return
	}
	if time.Since(c.waitingIdleSince) < postFinishIdleWindow {
		return
	}
	c.sender.Unhold()
	c.waitingIdleSince = time.Time{}
	if sent, received, total := c.sender.State(); sent == received && sent == total {
		if c.workflow.State() == workflow.Running {
			c.workflow.Stop()
		}
		return
	}
	c.advanceLocked()
}
