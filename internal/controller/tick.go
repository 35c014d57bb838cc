package controller

import "time"

// tickLoop drives the 250ms periodic cadence described in spec.md 5: poll
// status (and, less often, parser state) while ready, and time out a pending
// query so a dropped reply can't wedge future polling. The status replies it
// provokes are what drive the %wait idle check in maybeAckTerminalWait.
func (c *Controller) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	tickCount := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			tickCount++
			c.tick(tickCount)
		}
	}
}

func (c *Controller) tick(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready || c.d.QueryLine == nil {
		return
	}

	now := time.Now()
	if c.statusQuery.pending && now.Sub(c.statusQuery.sentAt) > statusQueryTimeout {
		c.statusQuery.pending = false
	}
	if c.parserQuery.pending && now.Sub(c.parserQuery.sentAt) > parserQueryTimeout {
		c.parserQuery.pending = false
	}

	if !c.statusQuery.pending {
		_ = c.tr.Write(c.d.QueryLine)
		c.statusQuery = queryState{pending: true, sentAt: now}
	}

	// Parser state changes rarely; polling it once every ~2s (every 8th
	// 250ms tick) is enough to keep controller:state fresh without doubling
	// the wire traffic every tick.
	if n%8 == 0 && len(c.d.ParserStateLine) > 0 && !c.parserQuery.pending {
		_ = c.tr.Write(c.d.ParserStateLine)
		c.parserQuery = queryState{pending: true, sentAt: now}
	}
}
