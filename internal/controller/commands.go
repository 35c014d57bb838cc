package controller

import (
	"fmt"
	"strings"
	"time"

	"github.com/cncjs/cnc-core/internal/dialect"
	"github.com/cncjs/cnc-core/internal/eventtrigger"
	"github.com/cncjs/cnc-core/internal/exprctx"
	"github.com/cncjs/cnc-core/internal/sender"
	"github.com/cncjs/cnc-core/internal/workflow"
)

// Command runs one named Engine command against this controller (spec.md
// 4.6's dispatch table): "gcode", "sender:load"/"unload"/"start"/"stop"/
// "pause"/"resume", "feedhold", "cyclestart", "homing", "unlock", "reset",
// "override:feed"/"spindle"/"rapid", "lasertest", "macro:run"/"load",
// "watchdir:load". args is command-specific; see each case.
func (c *Controller) Command(name string, args ...any) error {
	switch name {
	case "gcode":
		return c.cmdGcode(args...)
	case "sender:load":
		return c.cmdSenderLoad(args...)
	case "sender:unload":
		return c.cmdSenderUnload()
	case "sender:start":
		return c.cmdSenderStart()
	case "sender:stop":
		return c.cmdSenderStop(args...)
	case "sender:pause":
		return c.cmdSenderPause()
	case "sender:resume":
		return c.cmdSenderResume()
	case "feedhold":
		return c.cmdRealtime(c.d.Realtime.FeedHold, eventtrigger.Feedhold)
	case "cyclestart":
		return c.cmdRealtime(c.d.Realtime.CycleStart, eventtrigger.Cyclestart)
	case "homing":
		return c.cmdHoming()
	case "unlock":
		return c.cmdUnlock()
	case "reset":
		return c.cmdReset()
	case "override:feed":
		return c.cmdOverride(dialect.OverrideFeed, args...)
	case "override:spindle":
		return c.cmdOverride(dialect.OverrideSpindle, args...)
	case "override:rapid":
		return c.cmdOverride(dialect.OverrideRapid, args...)
	case "lasertest":
		return c.cmdLaserTest(args...)
	case "macro:run":
		return c.cmdMacroRun(args...)
	case "macro:load":
		return c.cmdMacroLoad(args...)
	case "watchdir:load":
		return c.cmdWatchdirLoad(args...)
	default:
		return fmt.Errorf("controller: unknown command %q", name)
	}
}

// Write submits raw bytes directly to the Transport, bypassing Feeder/Sender
// entirely (spec.md 4.6's "write"), toggling replyStatusReport/
// replyParserState when data is a bare "?" or "$G" operator query.
func (c *Controller) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch strings.TrimSpace(string(data)) {
	case "?":
		c.replyStatusReport = true
	case "$G":
		c.replyParserState = true
	}
	if err := c.tr.Write(data); err != nil {
		return err
	}
	c.broadcast("connection:write", string(data))
	return nil
}

// Writeln is Write plus a trailing newline.
func (c *Controller) Writeln(line string) error {
	return c.Write([]byte(line + "\n"))
}

func argString(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func argInt(args []any, i int) (int, bool) {
	if i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// argBoolField reads a named boolean out of an options object at args[i],
// e.g. sender:stop({force: true}). Missing/mistyped yields false.
func argBoolField(args []any, i int, field string) bool {
	if i >= len(args) {
		return false
	}
	m, ok := args[i].(map[string]any)
	if !ok {
		return false
	}
	b, _ := m[field].(bool)
	return b
}

// cmdGcode feeds ad-hoc lines through the Feeder under a fresh context,
// regardless of Workflow state (spec.md 4.3: the Feeder always accepts
// console input).
func (c *Controller) cmdGcode(args ...any) error {
	if len(args) == 0 {
		return fmt.Errorf("controller: gcode requires a line or []string")
	}
	lines, ok := args[0].([]string)
	if !ok {
		line, ok := argString(args, 0)
		if !ok {
			return fmt.Errorf("controller: gcode requires a line or []string")
		}
		lines = []string{line}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeder.Feed(lines, exprctx.Context{})
	if !c.feeder.IsHeld() {
		c.feeder.Next()
	}
	return nil
}

// cmdSenderLoad loads a program by name/content pair: args[0] name, args[1]
// content. Refuses while a program is already running (spec.md 4.4).
func (c *Controller) cmdSenderLoad(args ...any) error {
	name, _ := argString(args, 0)
	content, ok := argString(args, 1)
	if !ok {
		return fmt.Errorf("controller: sender:load requires (name, content)")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.workflow.State() == workflow.Running {
		return fmt.Errorf("controller: cannot load while running")
	}
	c.sender.Load(sender.Program{Name: name, Content: content}, exprctx.Context{})
	c.broadcast("sender:load", c.sender.ToJSON())
	c.fire(eventtrigger.SenderLoad)
	return nil
}

func (c *Controller) cmdSenderUnload() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.workflow.State() == workflow.Running {
		return fmt.Errorf("controller: cannot unload while running")
	}
	c.sender.Unload()
	c.broadcast("sender:unload", nil)
	c.fire(eventtrigger.SenderUnload)
	return nil
}

func (c *Controller) cmdSenderStart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sent, _, total := c.sender.State(); total == 0 || sent != 0 {
		return fmt.Errorf("controller: no freshly loaded program to start")
	}
	c.workflow.Start()
	c.fire(eventtrigger.SenderStart)
	return nil
}

// forceStopHoldDelay is the window sender:stop({force:true}) waits on Grbl
// between the feed-hold and deciding whether the machine reached Hold (spec.md
// 5, 8 scenario 4).
const forceStopHoldDelay = 500 * time.Millisecond

// cmdSenderStop stops the Workflow; args[0].force on Grbl additionally sends
// a feed-hold, waits forceStopHoldDelay, then soft-resets iff the machine
// reports Hold by then (spec.md 4.6, 8 scenario 4).
func (c *Controller) cmdSenderStop(args ...any) error {
	force := argBoolField(args, 0, "force")

	c.mu.Lock()
	c.workflow.Stop()
	c.mu.Unlock()
	c.fire(eventtrigger.SenderStop)

	if force && c.d.Kind == dialect.Grbl {
		c.forceStopGrbl()
	}
	return nil
}

// forceStopGrbl implements the force branch of sender:stop: it must not hold
// c.mu across the 500 ms wait (spec.md 5's suspension-point allowance), so it
// re-locks only to read/write the realtime bytes and the last-known state.
func (c *Controller) forceStopGrbl() {
	c.mu.Lock()
	feedHold := c.d.Realtime.FeedHold
	c.mu.Unlock()
	if feedHold != 0 {
		_ = c.tr.Write([]byte{feedHold})
	}

	time.Sleep(forceStopHoldDelay)

	c.mu.Lock()
	inHold := strings.HasPrefix(c.modal, "Hold")
	softReset := c.d.Realtime.SoftReset
	hasSoftReset := c.d.Realtime.HasSoftReset
	c.mu.Unlock()
	if inHold && hasSoftReset {
		_ = c.tr.Write([]byte{softReset})
	}
}

func (c *Controller) cmdSenderPause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workflow.Pause(nil)
	if err := c.writeRealtimeLocked(c.d.Realtime.FeedHold); err != nil {
		return err
	}
	c.fire(eventtrigger.SenderPause)
	return nil
}

func (c *Controller) cmdSenderResume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workflow.Resume()
	if err := c.writeRealtimeLocked(c.d.Realtime.CycleStart); err != nil {
		return err
	}
	c.fire(eventtrigger.SenderResume)
	return nil
}

func (c *Controller) writeRealtimeLocked(b byte) error {
	if b == 0 {
		return nil
	}
	return c.tr.Write([]byte{b})
}

func (c *Controller) cmdRealtime(b byte, eventName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeRealtimeLocked(b); err != nil {
		return err
	}
	c.fire(eventName)
	return nil
}

// cmdHoming writes the dialect's homing cycle as an ordinary G-code line:
// "$H" for Grbl/Smoothie, "G28.2 X Y Z" for Marlin, "G28" for TinyG (spec.md
// 4.6).
func (c *Controller) cmdHoming() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	line := "$H"
	switch c.d.Kind {
	case dialect.Marlin:
		line = "G28.2 X Y Z"
	case dialect.TinyG:
		line = "G28"
	}
	if err := c.tr.Write([]byte(line + "\n")); err != nil {
		return err
	}
	c.broadcast("connection:write", line)
	c.fire(eventtrigger.Homing)
	return nil
}

// cmdUnlock clears a Grbl/Smoothie alarm lock ("$X"); a no-op line for
// dialects with no lock concept.
func (c *Controller) cmdUnlock() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.d.Kind != dialect.Grbl && c.d.Kind != dialect.Smoothie {
		return nil
	}
	if err := c.tr.Write([]byte("$X\n")); err != nil {
		return err
	}
	c.broadcast("connection:write", "$X")
	return nil
}

// cmdReset resets the firmware and stops the Workflow/Feeder/Sender local
// state to match: Grbl/Smoothie send their soft-reset realtime byte; Marlin,
// which has none, sends "M112" instead (spec.md 4.6).
func (c *Controller) cmdReset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.d.Realtime.HasSoftReset:
		if err := c.tr.Write([]byte{c.d.Realtime.SoftReset}); err != nil {
			return err
		}
	case c.d.Kind == dialect.Marlin:
		if err := c.tr.Write([]byte("M112\n")); err != nil {
			return err
		}
		c.broadcast("connection:write", "M112")
	}
	c.workflow.Stop()
	c.feeder.Reset()
	c.ready = c.d.ImmediateReady
	return nil
}

// cmdOverride applies a feed/spindle/rapid override; args[0] is the signed
// percentage delta (0 resets to 100%).
func (c *Controller) cmdOverride(kind dialect.OverrideKind, args ...any) error {
	delta, ok := argInt(args, 0)
	if !ok {
		return fmt.Errorf("controller: override requires an integer delta")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.d.Override == nil {
		return fmt.Errorf("controller: %s has no override encoder", c.d.Kind)
	}
	b := c.d.Override.Encode(kind, delta)
	if b == nil {
		return fmt.Errorf("controller: %s does not support this override", c.d.Kind)
	}
	return c.tr.Write(b)
}

// cmdLaserTest writes a direct laser power test line: M3 S<power>, a dwell,
// then M5, mirroring the front end's laser-test widget.
func (c *Controller) cmdLaserTest(args ...any) error {
	power, _ := argInt(args, 0)
	duration, _ := argInt(args, 1)
	if duration <= 0 {
		duration = 1000
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := []string{
		fmt.Sprintf("M3 S%d", power),
		fmt.Sprintf("G4 P%d", duration),
		"M5",
	}
	c.feeder.Feed(lines, exprctx.Context{})
	if !c.feeder.IsHeld() {
		c.feeder.Next()
	}
	return nil
}

// cmdMacroRun resolves args[0] (a macro id) via the configured MacroProvider
// and feeds its content through the Feeder.
func (c *Controller) cmdMacroRun(args ...any) error {
	id, ok := argString(args, 0)
	if !ok {
		return fmt.Errorf("controller: macro:run requires a macro id")
	}
	if c.macros == nil {
		return fmt.Errorf("controller: no macro provider configured")
	}
	_, content, err := c.macros.Macro(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := splitLines(content)
	c.feeder.Feed(lines, exprctx.Context{})
	if !c.feeder.IsHeld() {
		c.feeder.Next()
	}
	c.fire(eventtrigger.MacroRun)
	return nil
}

// cmdMacroLoad resolves args[0] (a macro id) and loads it into the Sender as
// a program, the same as sender:load but sourced from the macro index.
func (c *Controller) cmdMacroLoad(args ...any) error {
	id, ok := argString(args, 0)
	if !ok {
		return fmt.Errorf("controller: macro:load requires a macro id")
	}
	if c.macros == nil {
		return fmt.Errorf("controller: no macro provider configured")
	}
	name, content, err := c.macros.Macro(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.workflow.State() == workflow.Running {
		return fmt.Errorf("controller: cannot load while running")
	}
	c.sender.Load(sender.Program{Name: name, Content: content}, exprctx.Context{})
	c.broadcast("sender:load", c.sender.ToJSON())
	c.fire(eventtrigger.MacroLoad)
	return nil
}

// cmdWatchdirLoad resolves args[0] (a filename under the configured watch
// directory) and loads it into the Sender.
func (c *Controller) cmdWatchdirLoad(args ...any) error {
	name, ok := argString(args, 0)
	if !ok {
		return fmt.Errorf("controller: watchdir:load requires a filename")
	}
	if c.watch == nil {
		return fmt.Errorf("controller: no watch directory configured")
	}
	content, err := c.watch.LoadProgram(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.workflow.State() == workflow.Running {
		return fmt.Errorf("controller: cannot load while running")
	}
	c.sender.Load(sender.Program{Name: name, Content: content}, exprctx.Context{})
	c.broadcast("sender:load", c.sender.ToJSON())
	c.fire(eventtrigger.SenderLoad)
	return nil
}

func splitLines(content string) []string {
	var out []string
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			out = append(out, content[start:i])
			start = i + 1
		}
	}
	if start < len(content) {
		out = append(out, content[start:])
	}
	return out
}
