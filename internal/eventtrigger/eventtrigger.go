// Package eventtrigger maps named controller events to user-configured
// reactions: either spawning a shell command or feeding G-code back into
// the controller (spec.md 4.7).
package eventtrigger

import "github.com/cncjs/cnc-core/internal/logx"

// Event names the Trigger understands. Controllers fire these by name;
// EventTrigger does not validate the set, so a newly wired trigger point
// never requires a change here.
const (
	Startup          = "startup"
	ControllerReady  = "controller:ready"
	ConnectionOpen   = "connection:open"
	ConnectionClose  = "connection:close"
	SenderLoad       = "sender:load"
	SenderUnload     = "sender:unload"
	SenderStart      = "sender:start"
	SenderStop       = "sender:stop"
	SenderPause      = "sender:pause"
	SenderResume     = "sender:resume"
	Feedhold         = "feedhold"
	Cyclestart       = "cyclestart"
	Homing           = "homing"
	Sleep            = "sleep"
	MacroRun         = "macro:run"
	MacroLoad        = "macro:load"
)

// Action is one configured reaction to an event.
type Action struct {
	// Shell holds the shell command(s) to spawn; when it is non-empty the
	// action is a shell action and Gcode is not used.
	Shell []string
	// Gcode holds the line(s) to feed into the controller otherwise.
	Gcode []string
}

// ShellSpawner spawns an external shell command; implemented by the
// out-of-process ShellCommand service (out of scope per spec.md 1).
type ShellSpawner interface {
	Spawn(cmds []string) error
}

// GcodeFeeder feeds ad-hoc lines into a controller's Feeder; satisfied by
// internal/controller.Controller.Gcode.
type GcodeFeeder interface {
	Gcode(lines []string) error
}

// Trigger dispatches configured reactions for named events.
type Trigger struct {
	bindings map[string][]Action
	shell    ShellSpawner
	gcode    GcodeFeeder
	logger   logx.Logger
}

// New creates a Trigger. bindings maps an event name to zero or more
// configured actions, loaded from internal/config.
func New(bindings map[string][]Action, shell ShellSpawner, gcode GcodeFeeder, logger logx.Logger) *Trigger {
	return &Trigger{
		bindings: bindings,
		shell:    shell,
		gcode:    gcode,
		logger:   logx.OrDefault(logger, "eventtrigger"),
	}
}

// Fire dispatches every action bound to eventName. A shell action spawns
// cmds; a gcode action feeds it through gcode.Gcode. Errors are logged, not
// propagated — a failing trigger must never affect the controller's own
// state machine.
func (t *Trigger) Fire(eventName string) {
	for _, action := range t.bindings[eventName] {
		switch {
		case len(action.Shell) > 0:
			if t.shell == nil {
				continue
			}
			if err := t.shell.Spawn(action.Shell); err != nil {
				t.logger.Warnf("spawn for %s: %v", eventName, err)
			}
		case len(action.Gcode) > 0:
			if t.gcode == nil {
				continue
			}
			if err := t.gcode.Gcode(action.Gcode); err != nil {
				t.logger.Warnf("gcode for %s: %v", eventName, err)
			}
		}
	}
}
