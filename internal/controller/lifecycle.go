package controller

import (
	"time"

	"github.com/cncjs/cnc-core/internal/sender"
	"github.com/cncjs/cnc-core/internal/workflow"
)

// onWorkflowStart/Pause/Resume/Stop are Workflow hooks. They always run
// synchronously from inside a Workflow.Start/Pause/Resume/Stop call made
// while c.mu is already held by the caller (every command handler and
// handleEvent locks c.mu before touching the Workflow), so they read/write
// Controller state directly rather than re-locking.

func (c *Controller) onWorkflowStart() {
	c.sender.Next()
	c.broadcast("workflow:state", "running")
}

// onWorkflowPause holds the Sender (spec.md 4.5: "on pause call
// Sender.hold(reason)") whether the pause was operator-initiated (reason is
// nil) or sentinel/error-driven; Sender.Hold is idempotent so this is a no-op
// if a sentinel hold already put it there first.
func (c *Controller) onWorkflowPause(reason *workflow.PauseReason) {
	c.sender.Hold(senderHoldReason(reason))
	c.broadcast("workflow:state", "paused")
}

// senderHoldReason maps a Workflow pause reason onto the Sender's HoldReason
// shape; a nil reason (operator-initiated pause) holds with no specific word.
func senderHoldReason(reason *workflow.PauseReason) sender.HoldReason {
	if reason == nil {
		return sender.HoldReason{}
	}
	if reason.Err != "" {
		return sender.HoldReason{Err: reason.Err}
	}
	switch reason.Data {
	case "M0":
		return sender.HoldReason{M0: true}
	case "M1":
		return sender.HoldReason{M1: true}
	case "M6":
		return sender.HoldReason{M6: true}
	default:
		return sender.HoldReason{}
	}
}

func (c *Controller) onWorkflowResume() {
	c.feeder.Reset()
	c.sender.Unhold()
	c.feeder.Unhold()
	c.sender.Next()
	c.broadcast("workflow:state", "running")
}

func (c *Controller) onWorkflowStop() {
	c.sender.Rewind()
	c.feeder.Reset()
	c.waitingIdleSince = time.Time{}
	c.broadcast("workflow:state", "idle")
}
